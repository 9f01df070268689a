package upload

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/metrics"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/objectstore"
)

// Enqueuer 任务队列的提交端
type Enqueuer interface {
	Enqueue(task *models.Task) error
}

// FileRecorder 记录会议视频元数据
type FileRecorder interface {
	SaveFile(ctx context.Context, video models.MeetingVideo) bool
}

// ProcessScheduler 调度下游自动处理（发出即忘）
type ProcessScheduler interface {
	Schedule(req models.ProcessRequest) error
}

// Request 一次上传请求，LocalPath 是已暂存到本地的文件
type Request struct {
	LocalPath  string
	Filename   string
	MimeType   string
	MeetingID  string
	UploadedBy string
}

// Tracker 上传跟踪器
// BeginUpload 立即返回任务 ID，真正的上传由 worker 池执行 HandleUpload
type Tracker struct {
	registry  *Registry
	store     objectstore.ObjectStore
	queue     Enqueuer
	files     FileRecorder
	scheduler ProcessScheduler
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTracker 创建上传跟踪器，files/scheduler 可以为 nil（不记录元数据、不自动处理）
func NewTracker(
	registry *Registry,
	store objectstore.ObjectStore,
	queue Enqueuer,
	files FileRecorder,
	scheduler ProcessScheduler,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Tracker {
	return &Tracker{
		registry:  registry,
		store:     store,
		queue:     queue,
		files:     files,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger.With().Str("component", "upload_tracker").Logger(),
		now:       time.Now,
	}
}

// Registry 底层注册表
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// BeginUpload 登记任务并提交到队列，立即返回任务 ID
// 提交失败时任务直接进入 error 状态，暂存文件被删除
func (t *Tracker) BeginUpload(req Request) (string, error) {
	job := t.registry.Create(req.Filename, req.MeetingID)
	t.metrics.UploadStarted()

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = objectstore.MimeType(req.Filename)
	}

	task := &models.Task{
		ID:   uuid.New().String(),
		Kind: models.TaskUpload,
		Upload: &models.UploadTask{
			UploadID:   job.ID,
			LocalPath:  req.LocalPath,
			Filename:   req.Filename,
			MimeType:   mimeType,
			MeetingID:  req.MeetingID,
			UploadedBy: req.UploadedBy,
		},
		CreatedAt: t.now(),
	}

	if err := t.queue.Enqueue(task); err != nil {
		os.Remove(req.LocalPath)
		t.fail(job.ID, fmt.Errorf("提交上传任务失败: %w", err))
		return job.ID, fmt.Errorf("提交上传任务失败: %v: %w", err, mferrors.ErrUnavailable)
	}

	t.logger.Info().Str("upload_id", job.ID).Str("filename", req.Filename).Str("meeting_id", req.MeetingID).Msg("上传任务已提交")
	return job.ID, nil
}

// Poll 返回最近一次观察到的状态，不阻塞
// 未知 ID 返回 ErrNotFound（与 initializing 状态区分）
func (t *Tracker) Poll(ctx context.Context, id string) (models.UploadJob, error) {
	return t.registry.Lookup(ctx, id)
}

// List 全部上传任务
func (t *Tracker) List() []models.UploadJob {
	return t.registry.List()
}

// HandleUpload worker 执行的上传流程
// 无论成功、失败还是 panic，暂存文件都会被删除
func (t *Tracker) HandleUpload(ctx context.Context, task *models.Task) (err error) {
	up := task.Upload
	if up == nil {
		return fmt.Errorf("任务 %s 缺少上传参数: %w", task.ID, mferrors.ErrValidation)
	}

	log := t.logger.With().Str("upload_id", up.UploadID).Str("stage", "upload").Logger()

	defer func() {
		if rmErr := os.Remove(up.LocalPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", up.LocalPath).Msg("⚠️ 删除暂存文件失败")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("上传过程中发生 panic: %v", r)
			t.fail(up.UploadID, err)
		}
	}()

	// 任务可能由没有该记录的实例执行（进程重启后），按任务参数重建，后续更新才能被轮询和镜像看到
	if _, created := t.registry.Ensure(up.UploadID, up.Filename, up.MeetingID); created {
		log.Warn().Msg("⚠️ 本实例没有该上传任务，已按任务参数重建")
	}

	t.update(up.UploadID, func(job *models.UploadJob) bool {
		if job.Status != models.StatusInitializing {
			return false
		}
		job.Status = models.StatusUploading
		return true
	})

	log.Info().Str("filename", up.Filename).Msg("开始上传到远程存储")

	fileID, err := t.store.Put(ctx, up.LocalPath, up.Filename, up.MimeType, t.progressFunc(up.UploadID))
	if err != nil {
		t.fail(up.UploadID, err)
		log.Error().Err(err).Msg("❌ 上传失败")
		return err
	}

	if up.MeetingID != "" {
		t.recordAndSchedule(ctx, up, fileID, log)
	}

	t.update(up.UploadID, func(job *models.UploadJob) bool {
		job.Percent = 100
		job.Status = models.StatusCompleted
		job.RemoteFileID = fileID
		job.Error = ""
		return true
	})
	t.metrics.UploadFinished(string(models.StatusCompleted))

	log.Info().Str("file_id", fileID).Msg("✓ 上传完成")
	return nil
}

// progressFunc 百分比 = floor(sent*100/total)，只有严格变大时才更新
func (t *Tracker) progressFunc(id string) objectstore.ProgressFunc {
	return func(sent, total int64) {
		if total <= 0 {
			return
		}
		percent := int(sent * 100 / total)
		if percent > 100 {
			percent = 100
		}

		changed := t.update(id, func(job *models.UploadJob) bool {
			if job.Status.Terminal() || percent <= job.Percent {
				return false
			}
			job.Percent = percent
			job.Status = models.StatusUploading
			return true
		})
		if changed {
			t.metrics.ProgressUpdated()
		}
	}
}

// recordAndSchedule 先记录视频元数据，成功后才调度自动处理
func (t *Tracker) recordAndSchedule(ctx context.Context, up *models.UploadTask, fileID string, log zerolog.Logger) {
	if t.files == nil {
		return
	}

	video := models.MeetingVideo{
		MeetingID:        up.MeetingID,
		FileID:           fileID,
		ShareLink:        models.ShareLink(fileID),
		OriginalFilename: up.Filename,
		UploadedAt:       t.now().UTC(),
		UploadedBy:       up.UploadedBy,
	}
	if !t.files.SaveFile(ctx, video) {
		log.Warn().Str("meeting_id", up.MeetingID).Msg("⚠️ 视频元数据保存失败，跳过自动处理")
		return
	}

	if t.scheduler == nil {
		return
	}
	err := t.scheduler.Schedule(models.ProcessRequest{
		MeetingID: up.MeetingID,
		FileID:    fileID,
		Filename:  up.Filename,
	})
	if err != nil {
		log.Warn().Err(err).Str("meeting_id", up.MeetingID).Msg("⚠️ 调度自动处理失败")
		return
	}
	log.Info().Str("meeting_id", up.MeetingID).Msg("已调度自动处理")
}

func (t *Tracker) fail(id string, cause error) {
	t.update(id, func(job *models.UploadJob) bool {
		job.Status = models.StatusError
		job.Error = cause.Error()
		return true
	})
	t.metrics.UploadFinished(string(models.StatusError))
}

// update 修改注册表中的任务，记录找不到任务的情况，返回是否发生了变化
func (t *Tracker) update(id string, fn func(job *models.UploadJob) bool) bool {
	_, changed, err := t.registry.Update(id, fn)
	if err != nil {
		t.logger.Error().Err(err).Str("upload_id", id).Msg("❌ 更新上传状态失败")
		return false
	}
	return changed
}
