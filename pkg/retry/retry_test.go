package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	sleeps []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func TestDoAllAttemptsFail(t *testing.T) {
	rec := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep

	boom := errors.New("503")
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.sleeps)

	var total time.Duration
	for _, d := range rec.sleeps {
		total += d
	}
	assert.Equal(t, 6*time.Second, total)
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	rec := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.sleeps)
}

func TestDoFirstAttemptNoSleep(t *testing.T) {
	rec := &recordingSleeper{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep

	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error { return nil })
	require.NoError(t, err)
	assert.Empty(t, rec.sleeps)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSleepReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
