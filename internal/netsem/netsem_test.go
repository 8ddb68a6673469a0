package netsem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

func TestAcquire_RespectsConcurrencyBudget(t *testing.T) {
	limits := DefaultLimits()
	limits.Clearnet.MaxConcurrent = 1
	limits.Clearnet.Timeout = time.Second
	m := NewManager(limits)

	_, release1, err := m.Acquire(context.Background(), models.NetworkClearnet)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = m.Acquire(ctx, models.NetworkClearnet)
	require.Error(t, err)

	release1()

	_, release2, err := m.Acquire(context.Background(), models.NetworkClearnet)
	require.NoError(t, err)
	release2()
}

func TestAcquire_UnknownNetworkFallsBackToClearnetBudget(t *testing.T) {
	m := NewManager(DefaultLimits())
	ctx, release, err := m.Acquire(context.Background(), models.NetworkUnknown)
	require.NoError(t, err)
	require.NotNil(t, ctx)
	release()
}
