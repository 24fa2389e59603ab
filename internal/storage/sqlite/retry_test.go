package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errLocked = errors.New("database is locked")

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetrySucceedsOnTransientLock(t *testing.T) {
	calls := 0
	err := retryOnDBLockInternal(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		if calls <= 3 {
			return errLocked
		}
		return nil
	}, noSleep)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryNoRetryOnOtherErrors(t *testing.T) {
	calls := 0
	err := retryOnDBLockInternal(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return errors.New("unique constraint violated")
	}, noSleep)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAllAttempts(t *testing.T) {
	calls := 0
	cfg := DefaultRetryConfig()
	err := retryOnDBLockInternal(context.Background(), cfg, func() error {
		calls++
		return errLocked
	}, noSleep)
	require.ErrorIs(t, err, errLocked)
	assert.Equal(t, 1+cfg.MaxRetries, calls)
}

func TestRetryBackoffWithJitterBounds(t *testing.T) {
	cfg := DefaultRetryConfig()
	var sleeps []time.Duration
	_ = retryOnDBLockInternal(context.Background(), cfg, func() error { return errLocked },
		func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		})

	require.Len(t, sleeps, cfg.MaxRetries)
	for i, d := range sleeps {
		base := cfg.BaseDelay * (1 << i)
		maxJitter := time.Duration(float64(base) * cfg.JitterPct)
		assert.GreaterOrEqual(t, d, base, "sleep[%d]", i)
		assert.LessOrEqual(t, d, base+maxJitter, "sleep[%d]", i)
	}
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetryOnDBLockWithConfig(ctx, RetryConfig{MaxRetries: 5, BaseDelay: time.Hour}, func() error {
		calls++
		return errLocked
	})
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, 1, calls)
}
