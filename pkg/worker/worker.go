// Package worker 有界 worker 池
//
// 上传和处理运行都作为任务提交到队列，由固定数量的 goroutine 消费，
// 避免每个任务一个 goroutine 导致的无限增长。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/z-wentao/meetflow/pkg/metrics"
	"github.com/z-wentao/meetflow/pkg/models"
	"github.com/z-wentao/meetflow/pkg/queue"
)

// Handler 处理一种类型的任务
type Handler func(ctx context.Context, task *models.Task) error

// Pool worker 池
type Pool struct {
	queue       queue.Queue
	size        int
	taskTimeout time.Duration
	handlers    map[models.TaskKind]Handler
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool 创建 worker 池，size <= 0 时为 1
func NewPool(q queue.Queue, size int, taskTimeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		queue:       q,
		size:        size,
		taskTimeout: taskTimeout,
		handlers:    make(map[models.TaskKind]Handler),
		metrics:     m,
		logger:      logger.With().Str("component", "worker_pool").Logger(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Handle 注册任务处理器，必须在 Start 之前调用
func (p *Pool) Handle(kind models.TaskKind, h Handler) {
	p.handlers[kind] = h
}

// Start 启动 size 个 worker goroutine
func (p *Pool) Start() {
	for i := 1; i <= p.size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info().Int("size", p.size).Msg("✓ Worker 池已启动")
}

// Stop 取消正在执行的任务并等待所有 worker 退出
func (p *Pool) Stop() {
	p.logger.Info().Msg("正在停止 Worker 池...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info().Msg("Worker 池已停止")
}

// run worker 主循环
func (p *Pool) run(id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker", id).Logger()

	for {
		task, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				log.Debug().Msg("Worker 已退出")
				return
			}
			log.Warn().Err(err).Msg("从队列获取任务失败")
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.process(task, log)
	}
}

// process 执行单个任务，结束后 Ack；失败或 panic 时 Nack 且不重新入队
func (p *Pool) process(task *models.Task, log zerolog.Logger) {
	log = log.With().Str("task_id", task.ID).Str("kind", string(task.Kind)).Logger()

	done := p.metrics.TaskStarted(string(task.Kind))
	defer done()

	start := time.Now()
	err := p.execute(task)
	duration := time.Since(start)

	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("❌ 任务失败")
		if nackErr := p.queue.Nack(task, false); nackErr != nil {
			log.Warn().Err(nackErr).Msg("Nack 失败")
		}
		return
	}

	log.Info().Dur("duration", duration).Msg("✓ 任务完成")
	if ackErr := p.queue.Ack(task); ackErr != nil {
		log.Warn().Err(ackErr).Msg("Ack 失败")
	}
}

func (p *Pool) execute(task *models.Task) (err error) {
	h, ok := p.handlers[task.Kind]
	if !ok {
		return fmt.Errorf("未知的任务类型: %s", task.Kind)
	}

	ctx := p.ctx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("任务 panic: %v", r)
		}
	}()

	return h(ctx, task)
}
