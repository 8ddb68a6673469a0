package transport

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/bigbrotr/bigbrotr/internal/berr"
)

// IsNostrRelay connects, issues a minimal REQ, and classifies the peer as a
// Nostr relay iff it replies with EOSE, an AUTH challenge, or a CLOSED
// carrying "auth-required" (spec.md §4.3). Any other protocol outcome is
// "not a relay".
func IsNostrRelay(ctx context.Context, conn *Conn) (bool, error) {
	subID := "bigbrotr-probe"
	req, err := sonic.Marshal([]any{"REQ", subID, map[string]any{"limit": 0}})
	if err != nil {
		return false, berr.ForRelay(berr.Protocol, conn.Relay.URL(), "encode probe REQ", err)
	}
	if err := conn.WriteText(ctx, req); err != nil {
		return false, err
	}

	for {
		raw, err := conn.ReadText(ctx)
		if err != nil {
			return false, err
		}

		var frame []any
		if err := sonic.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
			continue
		}
		label, ok := frame[0].(string)
		if !ok {
			continue
		}

		switch label {
		case "EOSE":
			return true, nil
		case "AUTH":
			return true, nil
		case "CLOSED":
			if len(frame) >= 3 {
				if reason, ok := frame[2].(string); ok && strings.Contains(reason, "auth-required") {
					return true, nil
				}
			}
			return false, nil
		case "NOTICE", "EVENT":
			continue
		default:
			return false, nil
		}
	}
}
