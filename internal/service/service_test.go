package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunForever_OnceRunsExactlyOneCycle(t *testing.T) {
	calls := 0
	svc := New(Options{Name: "test", Once: true}, func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	})

	err := svc.RunForever(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunForever_StopsAfterMaxConsecutiveFailures(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	svc := New(Options{
		Name:                "test",
		Interval:            time.Millisecond,
		MaxConsecutiveFails: 3,
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})

	err := svc.RunForever(context.Background())
	var maxErr *MaxFailuresExceeded
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 3, maxErr.Count)
	assert.Equal(t, 3, calls)
}

func TestRunForever_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := New(Options{Name: "test", Interval: 5 * time.Millisecond}, func(ctx context.Context) (int, error) {
		return 0, nil
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := svc.RunForever(ctx)
	require.NoError(t, err)
}

func TestRunForever_RecurringRequiresPositiveInterval(t *testing.T) {
	svc := New(Options{Name: "test"}, func(ctx context.Context) (int, error) { return 0, nil })
	err := svc.RunForever(context.Background())
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
