package models

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// MetadataType enumerates the kinds of relay-metadata blob the pipeline
// records. Each maps to one row shape in relay_metadata.
type MetadataType string

const (
	MetadataNIP11Info MetadataType = "NIP11_INFO"
	MetadataNIP66RTT  MetadataType = "NIP66_RTT"
	MetadataNIP66SSL  MetadataType = "NIP66_SSL"
	MetadataNIP66Geo  MetadataType = "NIP66_GEO"
	MetadataNIP66Net  MetadataType = "NIP66_NET"
	MetadataNIP66DNS  MetadataType = "NIP66_DNS"
	MetadataNIP66HTTP MetadataType = "NIP66_HTTP"
)

// Metadata is an opaque, content-addressable payload tagged with a type.
// Payload must already be pruned/normalized before construction; Canonical
// performs the deterministic serialization used for content addressing.
type Metadata struct {
	Type    MetadataType
	Payload map[string]any
}

// NewMetadata prunes payload (empty containers, nil-valued keys) and returns
// the resulting Metadata. A payload containing a non-finite float, a string
// with a null byte, or nesting deeper than maxPruneDepth is rejected with an
// error.
func NewMetadata(t MetadataType, payload map[string]any) (Metadata, error) {
	pruned, err := pruneValue(payload, 0)
	if err != nil {
		return Metadata{}, err
	}
	m, ok := pruned.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	return Metadata{Type: t, Payload: m}, nil
}

const maxPruneDepth = 32

func pruneValue(v any, depth int) (any, error) {
	if depth > maxPruneDepth {
		return nil, fmt.Errorf("models: metadata payload exceeds max nesting depth %d", maxPruneDepth)
	}
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.ContainsRune(val, 0) {
			return nil, fmt.Errorf("models: metadata payload contains null byte")
		}
		return val, nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("models: metadata payload contains non-finite float")
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			p, err := pruneValue(sub, depth+1)
			if err != nil {
				return nil, err
			}
			if p == nil {
				continue
			}
			if isEmptyContainer(p) {
				continue
			}
			out[k] = p
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for _, sub := range val {
			p, err := pruneValue(sub, depth+1)
			if err != nil {
				return nil, err
			}
			if p == nil || isEmptyContainer(p) {
				continue
			}
			out = append(out, p)
		}
		return out, nil
	default:
		return val, nil
	}
}

func isEmptyContainer(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}

// Canonical returns the deterministic (sorted-key) JSON serialization of the
// payload, used both for wire transmission and content addressing.
func (m Metadata) Canonical() ([]byte, error) {
	return canonicalJSON(m.Payload)
}

func canonicalJSON(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, err := sonic.Marshal(k)
			if err != nil {
				return nil, err
			}
			b.Write(keyJSON)
			b.WriteByte(':')
			sub, err := canonicalJSON(val[k])
			if err != nil {
				return nil, err
			}
			b.Write(sub)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, sub := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			encoded, err := canonicalJSON(sub)
			if err != nil {
				return nil, err
			}
			b.Write(encoded)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return sonic.Marshal(val)
	}
}

// ParsePayload decodes canonical JSON bytes back into a Metadata payload map,
// using sonic for the decode side of the round trip.
func ParsePayload(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("models: decode metadata payload: %w", err)
	}
	return out, nil
}

// RelayMetadata pairs a Relay with a generated Metadata record.
type RelayMetadata struct {
	RelayURL    string
	Metadata    Metadata
	GeneratedAt int64
}

func NewRelayMetadata(relay Relay, metadata Metadata, generatedAt int64) RelayMetadata {
	return RelayMetadata{RelayURL: relay.URL(), Metadata: metadata, GeneratedAt: generatedAt}
}
