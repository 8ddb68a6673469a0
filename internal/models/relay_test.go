package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRelay_NormalizationIdempotence(t *testing.T) {
	r1, err := NewRelay("wss://Relay.Damus.IO/", 100)
	require.NoError(t, err)

	r2, err := NewRelay(r1.URL(), 100)
	require.NoError(t, err)

	require.True(t, r1.Equal(r2))
	require.Equal(t, r1.URL(), r2.URL())
}

func TestNewRelay_NetworkClassification(t *testing.T) {
	cases := []struct {
		url     string
		network Network
	}{
		{"wss://relay.damus.io", NetworkClearnet},
		{"ws://abc123xyzabc123xyzabc123xyzabc123xyzabc123xyzabc123xyz.onion", NetworkTor},
		{"ws://abc123.i2p", NetworkI2P},
		{"ws://abc123.loki", NetworkLoki},
		{"ws://127.0.0.1:7000", NetworkLocal},
		{"ws://localhost:7000", NetworkLocal},
	}
	for _, c := range cases {
		r, err := NewRelay(c.url, 0)
		require.NoError(t, err, c.url)
		require.Equal(t, c.network, r.Network(), c.url)
	}
}

func TestNewRelay_RejectsNonWebSocketScheme(t *testing.T) {
	_, err := NewRelay("https://relay.damus.io", 0)
	require.Error(t, err)
}

func TestNewRelay_RejectsNegativeDiscoveredAt(t *testing.T) {
	_, err := NewRelay("wss://relay.damus.io", -1)
	require.Error(t, err)
}
