package store

import (
	"github.com/bytedance/sonic"
	"github.com/nbd-wtf/go-nostr"
)

func canonicalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}
	return sonic.Marshal(v)
}

func rawTagsJSON(tags nostr.Tags) ([]byte, error) {
	return sonic.Marshal(tags)
}
