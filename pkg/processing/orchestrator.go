// Package processing 会议录像的自动处理：下载 → 转录 → 持久化 → 清理
package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/metrics"
	"github.com/z-wentao/meetflow/pkg/minutes"
	"github.com/z-wentao/meetflow/pkg/models"
)

// 处理阶段名，用于日志和指标
const (
	StageDownload          = "download"
	StageTranscribe        = "transcribe"
	StagePersistTranscript = "persist_transcript"
	StageMinutes           = "minutes"
	StagePersistMinutes    = "persist_minutes"
)

// Downloader 从远程存储下载文件
type Downloader interface {
	Get(ctx context.Context, fileID, destPath string) error
}

// Transcriber 转录本地文件，失败时返回 nil
type Transcriber interface {
	Transcribe(ctx context.Context, path string) *models.Transcript
}

// Persister 持久化转录和纪要，返回是否成功
type Persister interface {
	SaveTranscript(ctx context.Context, meetingID string, transcript *models.Transcript) bool
	SaveMinutes(ctx context.Context, meetingID, transcript string, doc models.MinutesDocument) bool
}

// Result 一次处理运行的结果（只用于日志和测试，不返回给触发方）
type Result struct {
	MeetingID       string
	Downloaded      bool
	Transcribed     bool
	TranscriptSaved bool
	MinutesSaved    bool
}

// Orchestrator 处理编排器
// 每个阶段独立记录日志；下载或转录失败终止本次运行，持久化失败不影响后续阶段
type Orchestrator struct {
	downloader  Downloader
	transcriber Transcriber
	persister   Persister
	workDir     string
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time
}

// NewOrchestrator 创建处理编排器，workDir 下为每次运行创建独立目录
func NewOrchestrator(
	downloader Downloader,
	transcriber Transcriber,
	persister Persister,
	workDir string,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		downloader:  downloader,
		transcriber: transcriber,
		persister:   persister,
		workDir:     workDir,
		metrics:     m,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		now:         time.Now,
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeFilename 只保留文件名中的安全字符
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		base = "media"
	}
	return unsafeChars.ReplaceAllString(base, "_")
}

// HandleProcess worker 执行的处理任务
func (o *Orchestrator) HandleProcess(ctx context.Context, task *models.Task) error {
	if task.Process == nil {
		return fmt.Errorf("任务 %s 缺少处理参数: %w", task.ID, mferrors.ErrValidation)
	}

	result := o.Process(ctx, *task.Process)
	if !result.Transcribed {
		return fmt.Errorf("会议 %s 处理未完成", task.Process.MeetingID)
	}
	return nil
}

// Process 执行一次完整的处理运行，临时文件在任何情况下都会被删除
func (o *Orchestrator) Process(ctx context.Context, req models.ProcessRequest) Result {
	result := Result{MeetingID: req.MeetingID}
	runID := uuid.New().String()
	log := o.logger.With().
		Str("meeting_id", req.MeetingID).
		Str("file_id", req.FileID).
		Str("run_id", runID).
		Logger()

	runDir := filepath.Join(o.workDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		log.Error().Err(err).Str("stage", StageDownload).Msg("❌ 创建临时目录失败")
		o.metrics.StageFinished(StageDownload, false)
		return result
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			log.Warn().Err(err).Msg("⚠️ 清理临时目录失败")
		}
	}()

	// 1. 下载
	localPath := filepath.Join(runDir, "temp_"+sanitizeFilename(req.Filename))
	log.Info().Str("stage", StageDownload).Msg("开始下载")
	if err := o.downloader.Get(ctx, req.FileID, localPath); err != nil {
		log.Error().Err(err).Str("stage", StageDownload).Msg("❌ 下载失败，终止处理")
		o.metrics.StageFinished(StageDownload, false)
		return result
	}
	o.metrics.StageFinished(StageDownload, true)
	result.Downloaded = true

	// 2. 转录
	log.Info().Str("stage", StageTranscribe).Msg("开始转录")
	transcript := o.transcriber.Transcribe(ctx, localPath)
	if transcript.Empty() {
		log.Error().Str("stage", StageTranscribe).Msg("❌ 转录失败，终止处理")
		o.metrics.StageFinished(StageTranscribe, false)
		return result
	}
	o.metrics.StageFinished(StageTranscribe, true)
	result.Transcribed = true

	// 3. 保存转录（失败不终止）
	result.TranscriptSaved = o.persister.SaveTranscript(ctx, req.MeetingID, transcript)
	o.metrics.StageFinished(StagePersistTranscript, result.TranscriptSaved)
	if !result.TranscriptSaved {
		log.Warn().Str("stage", StagePersistTranscript).Msg("⚠️ 转录保存失败，继续生成纪要")
	}

	// 4. 生成纪要
	doc := minutes.Generate(transcript.Text, o.now())
	o.metrics.StageFinished(StageMinutes, true)

	// 5. 保存纪要
	result.MinutesSaved = o.persister.SaveMinutes(ctx, req.MeetingID, transcript.Text, doc)
	o.metrics.StageFinished(StagePersistMinutes, result.MinutesSaved)
	if !result.MinutesSaved {
		log.Error().Str("stage", StagePersistMinutes).Msg("❌ 纪要保存失败")
		return result
	}

	log.Info().
		Int("text_length", len(transcript.Text)).
		Bool("transcript_saved", result.TranscriptSaved).
		Msg("✓ 会议处理完成")
	return result
}
