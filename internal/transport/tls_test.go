package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTLSError_MatchesKnownSubstrings(t *testing.T) {
	cases := []string{
		"x509: certificate signed by unknown authority",
		"tls: failed to verify certificate: x509: certificate has expired",
		"remote error: tls: handshake failed",
	}
	for _, msg := range cases {
		require.True(t, IsTLSError(errors.New(msg)), msg)
	}
}

func TestIsTLSError_ExcludesGenericVerifyToken(t *testing.T) {
	// "cannot verify hostname" style DNS errors must not be misclassified
	// as TLS failures per spec.md's single-word-token exclusion.
	require.False(t, IsTLSError(errors.New("dns: cannot verify hostname")))
}

func TestIsTLSError_NilIsFalse(t *testing.T) {
	require.False(t, IsTLSError(nil))
}
