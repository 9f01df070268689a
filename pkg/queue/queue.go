package queue

import (
	"context"
	"errors"

	"github.com/z-wentao/meetflow/pkg/models"
)

// ErrClosed 队列已关闭
var ErrClosed = errors.New("队列已关闭")

// Queue 后台任务队列接口
// worker 池只依赖这个接口，内存 channel 和 RabbitMQ 可以互换
type Queue interface {
	// Enqueue 将任务加入队列，不等待任务执行
	Enqueue(task *models.Task) error

	// Dequeue 从队列取出任务（阻塞，直到有任务、ctx 结束或队列关闭）
	Dequeue(ctx context.Context) (*models.Task, error)

	// Ack 确认消息（任务处理结束）
	Ack(task *models.Task) error

	// Nack 拒绝消息
	// requeue: 是否重新入队
	Nack(task *models.Task, requeue bool) error

	// Close 关闭队列
	Close() error
}
