package transcriber

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/z-wentao/meetflow/pkg/metrics"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/retry"
)

// Strategy 转录策略
type Strategy string

const (
	StrategyDirect       Strategy = "direct"
	StrategyChunkedVideo Strategy = "chunked_video"
	StrategyUploadPoll   Strategy = "chunked_upload_poll"
	StrategyNone         Strategy = "none"
)

// SelectorConfig 策略选择参数
type SelectorConfig struct {
	DirectSizeLimit int64         // 字节，<= 该值走直接转录
	ChunkDuration   int           // 秒
	UploadReadSize  int           // 字节
	PollInterval    time.Duration // 上传轮询策略的查询间隔
	MaxPollAttempts int
	Options         Options
}

// DefaultSelectorConfig 50 MiB / 600 秒 / 5 MiB / 5 秒 x 120 次
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		DirectSizeLimit: 50 << 20,
		ChunkDuration:   600,
		UploadReadSize:  5 << 20,
		PollInterval:    5 * time.Second,
		MaxPollAttempts: 120,
		Options:         DefaultOptions(2),
	}
}

// Selector 按文件大小和可用能力选择转录策略
// Transcribe 不向外返回错误：失败时返回 nil 并记录原因
type Selector struct {
	cfg     SelectorConfig
	direct  SyncTranscriber
	async   AsyncTranscriber // 可为 nil
	chunker Chunker          // 可为 nil
	sleep   retry.SleepFunc
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewSelector 创建策略选择器
func NewSelector(
	cfg SelectorConfig,
	direct SyncTranscriber,
	async AsyncTranscriber,
	chunker Chunker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Selector {
	return &Selector{
		cfg:     cfg,
		direct:  direct,
		async:   async,
		chunker: chunker,
		sleep:   retry.Sleep,
		metrics: m,
		logger:  logger.With().Str("component", "selector").Logger(),
	}
}

// Choose 根据文件大小决定策略
func (s *Selector) Choose(size int64) Strategy {
	if size <= s.cfg.DirectSizeLimit {
		return StrategyDirect
	}
	if s.chunker != nil && s.chunker.Available() {
		return StrategyChunkedVideo
	}
	if s.async != nil {
		return StrategyUploadPoll
	}
	return StrategyNone
}

// Transcribe 转录本地媒体文件
func (s *Selector) Transcribe(ctx context.Context, path string) *models.Transcript {
	log := s.logger.With().Str("file", filepath.Base(path)).Logger()

	info, err := os.Stat(path)
	if err != nil {
		log.Error().Err(err).Msg("❌ 读取文件信息失败")
		return nil
	}

	strategy := s.Choose(info.Size())
	s.metrics.StrategySelected(string(strategy))
	log.Info().
		Int64("size", info.Size()).
		Str("strategy", string(strategy)).
		Msg("选择转录策略")

	var result *models.Transcript
	switch strategy {
	case StrategyDirect:
		result = s.transcribeDirect(ctx, path, log)
	case StrategyChunkedVideo:
		result = s.transcribeChunked(ctx, path, log)
	case StrategyUploadPoll:
		result = s.transcribeUploadPoll(ctx, path, log)
	default:
		log.Error().Msg("❌ 文件超过直接转录上限，且没有可用的切片或异步转写能力")
		return nil
	}

	if result.Empty() {
		log.Error().Str("strategy", string(strategy)).Msg("❌ 转录没有产生任何文本")
		return nil
	}

	log.Info().
		Int("text_length", len(result.Text)).
		Int("segments", len(result.Segments)).
		Msg("✓ 转录完成")
	return result
}

// transcribeDirect 整个文件一次转写，结果按单个切片合并
func (s *Selector) transcribeDirect(ctx context.Context, path string, log zerolog.Logger) *models.Transcript {
	t, err := s.direct.Transcribe(ctx, path, s.cfg.Options)
	if err != nil {
		log.Error().Err(err).Msg("❌ 直接转录失败")
		return nil
	}
	return MergeChunks([]*models.Transcript{t}, float64(s.cfg.ChunkDuration))
}

// transcribeChunked 切片后逐个顺序转写，单个切片失败只跳过该切片
func (s *Selector) transcribeChunked(ctx context.Context, path string, log zerolog.Logger) *models.Transcript {
	chunks := s.chunker.Split(ctx, path, s.cfg.ChunkDuration)
	if len(chunks) == 0 {
		if s.async == nil {
			log.Error().Msg("❌ 切片失败，且没有异步转写能力")
			return nil
		}
		log.Warn().Msg("切片失败，改用上传轮询策略")
		s.metrics.StrategySelected(string(StrategyUploadPoll))
		return s.transcribeUploadPoll(ctx, path, log)
	}
	defer s.chunker.Cleanup(chunks)

	merger := NewMerger(float64(s.cfg.ChunkDuration))
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			log.Warn().Err(ctx.Err()).Msg("切片转录被取消")
			break
		}

		clog := log.With().Int("chunk", chunk.Index).Int("total", len(chunks)).Logger()
		t, err := s.direct.Transcribe(ctx, chunk.FilePath, s.cfg.Options)
		if err != nil {
			clog.Error().Err(err).Msg("❌ 切片转录失败，跳过")
			s.metrics.ChunkTranscribed(false)
			merger.Add(nil)
			continue
		}

		if !merger.Add(t) {
			clog.Warn().Msg("切片没有文本，跳过")
			s.metrics.ChunkTranscribed(false)
			continue
		}
		s.metrics.ChunkTranscribed(true)
		clog.Info().Int("text_length", len(t.Text)).Msg("✅ 切片转录完成")
	}

	return merger.Result()
}

// transcribeUploadPoll 暂存上传 + 提交任务 + 固定间隔轮询
func (s *Selector) transcribeUploadPoll(ctx context.Context, path string, log zerolog.Logger) *models.Transcript {
	audioURL, err := s.async.StageUpload(ctx, path, s.cfg.UploadReadSize)
	if err != nil {
		log.Error().Err(err).Msg("❌ 暂存上传失败")
		return nil
	}

	jobID, err := s.async.SubmitJob(ctx, audioURL, s.cfg.Options)
	if err != nil {
		log.Error().Err(err).Msg("❌ 提交转写任务失败")
		return nil
	}
	log = log.With().Str("transcript_id", jobID).Logger()

	for attempt := 1; attempt <= s.cfg.MaxPollAttempts; attempt++ {
		status, err := s.async.PollJob(ctx, jobID)
		if err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("❌ 查询转写状态失败")
			return nil
		}

		switch status.Status {
		case JobCompleted:
			return MergeChunks([]*models.Transcript{status.Transcript}, float64(s.cfg.ChunkDuration))
		case JobError:
			log.Error().Str("error", status.Error).Msg("❌ 转写任务失败")
			return nil
		}

		log.Debug().Int("attempt", attempt).Str("status", status.Status).Msg("转写进行中")
		if attempt < s.cfg.MaxPollAttempts {
			if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
				log.Warn().Err(err).Msg("轮询被取消")
				return nil
			}
		}
	}

	log.Error().Int("attempts", s.cfg.MaxPollAttempts).Msg("❌ 轮询次数用尽，转写未完成")
	return nil
}
