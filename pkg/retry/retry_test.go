package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rpc timeout")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("node unreachable")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		cancel() // 第一次失败后取消
		return errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
