// Package persist 带重试的记录持久化
//
// 每次尝试使用独立的请求超时，失败（非 2xx 或网络错误）按策略退避后重试。
// 对外只返回成功与否，调用方无法区分"重试后成功"和"第一次就成功"。
package persist

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/z-wentao/meetflow/pkg/metrics"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/retry"
	"github.com/z-wentao/meetflow/pkg/storage"
)

// 持久化操作名，用于日志和指标
const (
	OpUpsert = "upsert"
	OpPatch  = "patch"
)

// Persister 在 RecordStore 之上统一重试
type Persister struct {
	store          storage.RecordStore
	policy         retry.Policy
	requestTimeout time.Duration
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	now            func() time.Time
}

// NewPersister 创建持久化器，requestTimeout <= 0 时使用 30 秒
func NewPersister(store storage.RecordStore, policy retry.Policy, requestTimeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Persister {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Persister{
		store:          store,
		policy:         policy,
		requestTimeout: requestTimeout,
		metrics:        m,
		logger:         logger.With().Str("component", "persister").Logger(),
		now:            time.Now,
	}
}

// Upsert 插入或合并，返回是否成功
func (p *Persister) Upsert(ctx context.Context, table, keyColumn string, record storage.Record) bool {
	return p.run(ctx, OpUpsert, table, func(ctx context.Context) error {
		return p.store.Upsert(ctx, table, keyColumn, record)
	})
}

// Patch 按条件更新，返回是否成功
func (p *Persister) Patch(ctx context.Context, table string, where storage.Filter, record storage.Record) bool {
	return p.run(ctx, OpPatch, table, func(ctx context.Context) error {
		return p.store.Patch(ctx, table, where, record)
	})
}

// SaveFile 记录会议视频元数据（upsert meeting_videos）
func (p *Persister) SaveFile(ctx context.Context, video models.MeetingVideo) bool {
	return p.Upsert(ctx, storage.TableMeetingVideos, storage.KeyMeetingID, storage.VideoRecord(video))
}

// SaveTranscript 保存转录（upsert meeting_minutes）
func (p *Persister) SaveTranscript(ctx context.Context, meetingID string, transcript *models.Transcript) bool {
	return p.Upsert(ctx, storage.TableMeetingMinutes, storage.KeyMeetingID,
		storage.TranscriptRecord(meetingID, transcript, p.now()))
}

// SaveMinutes 把纪要补充到已有的转录记录上（patch meeting_minutes）
func (p *Persister) SaveMinutes(ctx context.Context, meetingID, transcript string, doc models.MinutesDocument) bool {
	record, err := storage.MinutesRecord(meetingID, transcript, doc, p.now())
	if err != nil {
		p.logger.Error().Err(err).Str("meeting_id", meetingID).Msg("❌ 纪要序列化失败")
		return false
	}
	return p.Patch(ctx, storage.TableMeetingMinutes, storage.Filter{storage.KeyMeetingID: meetingID}, record)
}

func (p *Persister) run(ctx context.Context, op, table string, call func(ctx context.Context) error) bool {
	log := p.logger.With().Str("operation", op).Str("table", table).Logger()

	err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()

		err := call(attemptCtx)
		p.metrics.PersistAttempted(op, err == nil)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("持久化失败")
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("❌ 持久化最终失败")
		return false
	}

	log.Debug().Msg("✓ 持久化成功")
	return true
}
