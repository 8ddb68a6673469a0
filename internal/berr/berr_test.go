package berr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	require.True(t, Retryable(New(ConnectionPool, "pool exhausted", nil)))
	require.True(t, Retryable(New(Timeout, "deadline exceeded", nil)))
	require.False(t, Retryable(New(Query, "constraint violation", nil)))
	require.False(t, Retryable(errors.New("plain error")))
}

func TestIsAndUnwrap(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	wrapped := ForRelay(Timeout, "wss://relay.example", "connect timed out", base)

	require.True(t, Is(wrapped, Timeout))
	require.False(t, Is(wrapped, TLS))
	require.ErrorIs(t, wrapped, base)
	require.Contains(t, wrapped.Error(), "wss://relay.example")
}
