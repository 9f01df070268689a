// Package upload 可续传上传的进度跟踪
package upload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	mferrors "github.com/z-wentao/meetflow/pkg/errors"
	"github.com/z-wentao/meetflow/pkg/models"
)

// Mirror 上传状态的外部镜像（例如 Redis），供其他实例轮询兜底
type Mirror interface {
	Save(ctx context.Context, job models.UploadJob) error
	Get(ctx context.Context, id string) (*models.UploadJob, error)
}

// Registry 上传任务注册表
// 整个 map 由一把锁保护，任务创建和每次"读-改-写"都在锁内完成
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*models.UploadJob

	ttl    time.Duration // 终态任务保留时长，0 表示不驱逐
	now    func() time.Time
	logger zerolog.Logger

	mirror       Mirror
	syncQueue    chan models.UploadJob // 异步同步到镜像
	terminalWait time.Duration         // 终态快照入队的最长等待
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRegistry 创建注册表，mirror 可以为 nil
func NewRegistry(ttl time.Duration, mirror Mirror, logger zerolog.Logger) *Registry {
	r := &Registry{
		jobs:   make(map[string]*models.UploadJob),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "upload_registry").Logger(),
		mirror:       mirror,
		terminalWait: 5 * time.Second,
		stopCh:       make(chan struct{}),
	}

	if mirror != nil {
		r.syncQueue = make(chan models.UploadJob, 100)
		r.wg.Add(1)
		go r.syncWorker()
	}
	if ttl > 0 {
		r.wg.Add(1)
		go r.janitor(janitorInterval(ttl))
	}

	return r
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

// Create 登记新任务，状态为 initializing
func (r *Registry) Create(filename, meetingID string) models.UploadJob {
	now := r.now()
	job := &models.UploadJob{
		ID:        uuid.New().String(),
		Filename:  filename,
		MeetingID: meetingID,
		Percent:   0,
		Status:    models.StatusInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	snapshot := *job
	r.mu.Unlock()

	r.publish(snapshot)
	return snapshot
}

// Ensure 按给定 ID 登记任务，已存在时原样返回
// 用于本实例从未见过的上传任务（例如进程重启后），created 表示是否新建
func (r *Registry) Ensure(id, filename, meetingID string) (job models.UploadJob, created bool) {
	r.mu.Lock()
	if existing, ok := r.jobs[id]; ok {
		snapshot := *existing
		r.mu.Unlock()
		return snapshot, false
	}

	now := r.now()
	entry := &models.UploadJob{
		ID:        id,
		Filename:  filename,
		MeetingID: meetingID,
		Status:    models.StatusInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[id] = entry
	snapshot := *entry
	r.mu.Unlock()

	r.publish(snapshot)
	return snapshot, true
}

// Get 返回任务副本，未知 ID 返回 ErrNotFound
func (r *Registry) Get(id string) (models.UploadJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.UploadJob{}, fmt.Errorf("上传任务不存在: %s: %w", id, mferrors.ErrNotFound)
	}
	return *job, nil
}

// Lookup 先查本地注册表，未命中时查镜像
// 本地任务未结束时也会查镜像：任务可能由其他实例执行，镜像里的快照更新则采用镜像
func (r *Registry) Lookup(ctx context.Context, id string) (models.UploadJob, error) {
	job, err := r.Get(id)
	if r.mirror == nil || (err == nil && job.Status.Terminal()) {
		return job, err
	}

	mirrored, mirrorErr := r.mirror.Get(ctx, id)
	if mirrorErr != nil {
		if !mferrors.IsNotFound(mirrorErr) {
			r.logger.Warn().Err(mirrorErr).Str("upload_id", id).Msg("⚠️ 查询镜像失败")
		}
		return job, err
	}
	if err != nil {
		return *mirrored, nil
	}
	if !mirrored.UpdatedAt.After(job.UpdatedAt) {
		return job, nil
	}
	return r.adopt(*mirrored), nil
}

// adopt 用镜像中更新的快照覆盖本地记录，使终态任务也能按 TTL 驱逐
// 不回写镜像
func (r *Registry) adopt(mirrored models.UploadJob) models.UploadJob {
	r.mu.Lock()
	defer r.mu.Unlock()

	local, ok := r.jobs[mirrored.ID]
	if !ok || !mirrored.UpdatedAt.After(local.UpdatedAt) {
		return mirrored
	}
	*local = mirrored
	return mirrored
}

// Update 在锁内修改任务，fn 返回 false 表示没有变化
// 返回修改后的副本和是否发生了变化
func (r *Registry) Update(id string, fn func(job *models.UploadJob) bool) (models.UploadJob, bool, error) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return models.UploadJob{}, false, fmt.Errorf("上传任务不存在: %s: %w", id, mferrors.ErrNotFound)
	}

	changed := fn(job)
	if changed {
		job.UpdatedAt = r.now()
	}
	snapshot := *job
	r.mu.Unlock()

	if changed {
		r.publish(snapshot)
	}
	return snapshot, changed, nil
}

// List 按创建时间排序的全部任务副本
func (r *Registry) List() []models.UploadJob {
	r.mu.Lock()
	jobs := make([]models.UploadJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}

// Len 当前任务数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Evict 删除超过 TTL 的终态任务，返回删除数量
// 进行中的任务永远不会被驱逐
func (r *Registry) Evict() int {
	if r.ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			evicted++
		}
	}
	return evicted
}

func (r *Registry) janitor(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if n := r.Evict(); n > 0 {
				r.logger.Debug().Int("evicted", n).Msg("清理过期上传任务")
			}
		}
	}
}

// publish 把快照交给同步 goroutine
// 进度快照在队列满时丢弃；终态快照最多等待 terminalWait，保证镜像不会停在 uploading
func (r *Registry) publish(job models.UploadJob) {
	if r.syncQueue == nil {
		return
	}
	select {
	case r.syncQueue <- job:
		return
	default:
	}

	if !job.Status.Terminal() {
		r.logger.Warn().Str("upload_id", job.ID).Msg("⚠️ 镜像同步队列已满，跳过本次同步")
		return
	}

	timer := time.NewTimer(r.terminalWait)
	defer timer.Stop()
	select {
	case r.syncQueue <- job:
	case <-r.stopCh:
		r.logger.Warn().Str("upload_id", job.ID).Msg("⚠️ 注册表已关闭，终态未同步到镜像")
	case <-timer.C:
		r.logger.Error().Str("upload_id", job.ID).Str("status", string(job.Status)).Msg("❌ 终态同步到镜像超时")
	}
}

func (r *Registry) syncWorker() {
	defer r.wg.Done()

	for {
		select {
		case job := <-r.syncQueue:
			r.syncToMirror(job)
		case <-r.stopCh:
			// 清空剩余快照
			for {
				select {
				case job := <-r.syncQueue:
					r.syncToMirror(job)
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) syncToMirror(job models.UploadJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.mirror.Save(ctx, job); err != nil {
		r.logger.Warn().Err(err).Str("upload_id", job.ID).Msg("⚠️ 同步到镜像失败")
	}
}

// Close 停止后台 goroutine，等待镜像同步完成
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}
