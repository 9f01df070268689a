package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/z-wentao/meetflow/pkg/models"
)

// MemoryQueue 基于 Channel 的内存队列实现
// 进程重启后队列中的任务丢失
type MemoryQueue struct {
	mu     sync.RWMutex
	queue  chan *models.Task
	closed bool
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	return &MemoryQueue{
		queue: make(chan *models.Task, bufferSize),
	}
}

// Enqueue 将任务加入队列，队列满时直接返回错误
func (mq *MemoryQueue) Enqueue(task *models.Task) error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	if mq.closed {
		return ErrClosed
	}

	select {
	case mq.queue <- task:
		return nil
	default:
		return fmt.Errorf("队列已满 (容量 %d)", cap(mq.queue))
	}
}

// Dequeue 从队列取出任务（阻塞等待）
func (mq *MemoryQueue) Dequeue(ctx context.Context) (*models.Task, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case task, ok := <-mq.queue:
		if !ok {
			return nil, ErrClosed
		}
		return task, nil
	}
}

// Ack 内存队列无需确认
func (mq *MemoryQueue) Ack(task *models.Task) error {
	return nil
}

// Nack 内存队列只支持重新入队
func (mq *MemoryQueue) Nack(task *models.Task, requeue bool) error {
	if !requeue {
		return nil
	}
	return mq.Enqueue(task)
}

// Len 当前排队的任务数
func (mq *MemoryQueue) Len() int {
	return len(mq.queue)
}

// Close 关闭队列，已排队的任务仍可取出
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil
	}
	mq.closed = true
	close(mq.queue)
	return nil
}
