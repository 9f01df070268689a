package processing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/storage"
)

// Scheduler 调度处理运行
type Scheduler interface {
	Schedule(req models.ProcessRequest) error
}

// 扫描结果状态
const (
	ScanStarted = "started"
	ScanFailed  = "failed"
)

// ScanResult 单个会议的扫描结果
type ScanResult struct {
	MeetingID string `json:"meeting_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Discoverer 找出需要（重新）处理的会议
// 转录不存在、为空或为占位文本的会议可以处理；已有有效转录的会议拒绝重跑
type Discoverer struct {
	repo      *storage.MeetingRepository
	scheduler Scheduler
	logger    zerolog.Logger
}

// NewDiscoverer 创建发现器
func NewDiscoverer(repo *storage.MeetingRepository, scheduler Scheduler, logger zerolog.Logger) *Discoverer {
	return &Discoverer{
		repo:      repo,
		scheduler: scheduler,
		logger:    logger.With().Str("component", "discoverer").Logger(),
	}
}

// needsProcessing 会议是否缺少有效转录
func (d *Discoverer) needsProcessing(ctx context.Context, meetingID string) (bool, error) {
	record, err := d.repo.Minutes(ctx, meetingID)
	if mferrors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !record.HasValidTranscript(), nil
}

// request 从视频记录构造处理请求，链接无法解析时返回 ErrValidation
func request(video models.MeetingVideo) (models.ProcessRequest, error) {
	fileID, ok := video.RemoteFileID()
	if !ok {
		return models.ProcessRequest{}, fmt.Errorf("会议 %s 的存储链接无效: %w", video.MeetingID, mferrors.ErrValidation)
	}
	filename := video.OriginalFilename
	if filename == "" {
		filename = fileID + ".mp4"
	}
	return models.ProcessRequest{
		MeetingID: video.MeetingID,
		FileID:    fileID,
		Filename:  filename,
	}, nil
}

// ScanPending 扫描全部视频记录，为缺少有效转录的会议调度处理
func (d *Discoverer) ScanPending(ctx context.Context) ([]ScanResult, error) {
	videos, err := d.repo.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询视频记录失败: %w", err)
	}

	results := make([]ScanResult, 0)
	for _, video := range videos {
		pending, err := d.needsProcessing(ctx, video.MeetingID)
		if err != nil {
			results = append(results, ScanResult{MeetingID: video.MeetingID, Status: ScanFailed, Error: err.Error()})
			continue
		}
		if !pending {
			continue
		}

		req, err := request(video)
		if err == nil {
			err = d.scheduler.Schedule(req)
		}
		if err != nil {
			d.logger.Warn().Err(err).Str("meeting_id", video.MeetingID).Msg("⚠️ 调度处理失败")
			results = append(results, ScanResult{MeetingID: video.MeetingID, Status: ScanFailed, Error: err.Error()})
			continue
		}
		results = append(results, ScanResult{MeetingID: video.MeetingID, Status: ScanStarted})
	}

	d.logger.Info().Int("videos", len(videos)).Int("scheduled", countStarted(results)).Msg("扫描完成")
	return results, nil
}

func countStarted(results []ScanResult) int {
	n := 0
	for _, r := range results {
		if r.Status == ScanStarted {
			n++
		}
	}
	return n
}

// Rerun 手动重跑单个会议
// 没有视频记录返回 ErrNotFound，已有有效转录返回 ErrConflict，链接无效返回 ErrValidation
func (d *Discoverer) Rerun(ctx context.Context, meetingID string) (models.ProcessRequest, error) {
	videos, err := d.repo.Videos(ctx, meetingID)
	if err != nil {
		return models.ProcessRequest{}, fmt.Errorf("查询视频记录失败: %w", err)
	}
	if len(videos) == 0 {
		return models.ProcessRequest{}, fmt.Errorf("会议 %s 没有视频: %w", meetingID, mferrors.ErrNotFound)
	}

	pending, err := d.needsProcessing(ctx, meetingID)
	if err != nil {
		return models.ProcessRequest{}, fmt.Errorf("查询纪要失败: %w", err)
	}
	if !pending {
		return models.ProcessRequest{}, fmt.Errorf("会议 %s 已有有效转录: %w", meetingID, mferrors.ErrConflict)
	}

	req, err := request(videos[0])
	if err != nil {
		return models.ProcessRequest{}, err
	}
	if err := d.scheduler.Schedule(req); err != nil {
		return models.ProcessRequest{}, fmt.Errorf("调度处理失败: %v: %w", err, mferrors.ErrUnavailable)
	}

	d.logger.Info().Str("meeting_id", meetingID).Str("file_id", req.FileID).Msg("已调度重跑")
	return req, nil
}
