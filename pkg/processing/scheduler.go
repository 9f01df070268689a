package processing

import (
	"time"

	"github.com/google/uuid"

	"github.com/z-wentao/meetflow/pkg/models"
)

// Enqueuer 任务队列的提交端
type Enqueuer interface {
	Enqueue(task *models.Task) error
}

// QueueScheduler 把处理运行作为任务提交到 worker 池的队列
// Schedule 只负责入队，不等待处理开始或结束
type QueueScheduler struct {
	queue Enqueuer
	now   func() time.Time
}

// NewQueueScheduler 创建调度器
func NewQueueScheduler(q Enqueuer) *QueueScheduler {
	return &QueueScheduler{queue: q, now: time.Now}
}

// Schedule 提交一次处理运行
func (s *QueueScheduler) Schedule(req models.ProcessRequest) error {
	return s.queue.Enqueue(&models.Task{
		ID:        uuid.New().String(),
		Kind:      models.TaskProcess,
		Process:   &req,
		CreatedAt: s.now(),
	})
}
