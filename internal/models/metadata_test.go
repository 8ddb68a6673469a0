package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMetadata_PrunesEmptyAndNull(t *testing.T) {
	m, err := NewMetadata(MetadataNIP11Info, map[string]any{
		"name":        "relay",
		"description": nil,
		"tags":        []any{},
		"nested":      map[string]any{"dropped": nil},
	})
	require.NoError(t, err)
	require.Equal(t, "relay", m.Payload["name"])
	require.NotContains(t, m.Payload, "description")
	require.NotContains(t, m.Payload, "tags")
	require.NotContains(t, m.Payload, "nested")
}

func TestNewMetadata_RejectsNullByte(t *testing.T) {
	_, err := NewMetadata(MetadataNIP11Info, map[string]any{"name": "bad\x00name"})
	require.Error(t, err)
}

func TestCanonical_DeterministicKeyOrder(t *testing.T) {
	m1, err := NewMetadata(MetadataNIP11Info, map[string]any{"b": 1.0, "a": 2.0})
	require.NoError(t, err)
	m2, err := NewMetadata(MetadataNIP11Info, map[string]any{"a": 2.0, "b": 1.0})
	require.NoError(t, err)

	c1, err := m1.Canonical()
	require.NoError(t, err)
	c2, err := m2.Canonical()
	require.NoError(t, err)

	require.Equal(t, c1, c2)
	require.Equal(t, `{"a":2,"b":1}`, string(c1))
}

func TestCanonical_RoundTrip(t *testing.T) {
	m, err := NewMetadata(MetadataNIP11Info, map[string]any{"name": "relay", "software": "bigbrotr"})
	require.NoError(t, err)

	raw, err := m.Canonical()
	require.NoError(t, err)

	decoded, err := ParsePayload(raw)
	require.NoError(t, err)
	require.Equal(t, m.Payload, decoded)
}
