// Package retry 统一的指数退避重试。
package retry

import (
	"context"
	"fmt"
	"time"
)

// SleepFunc 等待 d 或直到 ctx 结束
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy 重试策略
type Policy struct {
	MaxAttempts  int           // 总尝试次数（含第一次）
	InitialDelay time.Duration // 第一次失败后的等待
	Multiplier   float64       // 每次失败后等待时间的倍数
	Sleep        SleepFunc     // 为空时使用 Sleep
}

// DefaultPolicy 3 次尝试，2s 起翻倍
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		Multiplier:   2,
	}
}

// Sleep 可被 ctx 打断的等待，只阻塞当前 goroutine
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do 按策略执行 op，attempt 从 1 开始
// 最后一次失败后不再等待；ctx 结束时立即返回
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	delay := p.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("任务被取消: %w", ctx.Err())
		}

		if attempt < attempts {
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("任务被取消: %w", err)
			}
			delay = time.Duration(float64(delay) * multiplier)
		}
	}

	return fmt.Errorf("重试 %d 次后仍然失败: %w", attempts, lastErr)
}
