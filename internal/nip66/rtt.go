package nip66

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// RTTData is the multi-phase timing result described in spec.md §4.5: open,
// read and write phases, each independently timed, with write cascading to
// false when open itself fails.
type RTTData struct {
	OpenMs  *int64
	ReadMs  *int64
	WriteMs *int64
}

type RTTLogs struct {
	Open  Logs
	Read  Logs
	Write Logs
}

// RTTDeps supplies the signing keys, event builder and read filter the RTT
// probe needs to exercise write and read phases.
type RTTDeps struct {
	PrivateKeyHex    string
	ReadFilter       nostr.Filter
	WriteVerifyDelay time.Duration // time budget for the post-write verification subscription
}

// ProbeRTT opens a connection, times the open, then (if open succeeded)
// times an independent read subscription and an independent write+verify
// round trip. Any one phase's failure doesn't prevent the others from being
// attempted, except that read/write both cascade to false if open itself
// failed (the RTT state machine in spec.md §4.5).
func ProbeRTT(ctx context.Context, relay models.Relay, dialOpts transport.Options, deps RTTDeps) (RTTData, RTTLogs) {
	var data RTTData
	var logs RTTLogs

	openStart := time.Now()
	conn, err := transport.Dial(ctx, relay, dialOpts)
	if err != nil {
		logs.Open = fail(err.Error())
		logs.Read = fail("skipped: open failed")
		logs.Write = fail("skipped: open failed")
		return data, logs
	}
	defer conn.Close()

	openMs := time.Since(openStart).Milliseconds()
	data.OpenMs = &openMs
	logs.Open = ok()

	readMs, readLogs := timeReadPhase(ctx, conn, deps.ReadFilter)
	data.ReadMs = readMs
	logs.Read = readLogs

	writeMs, writeLogs := timeWritePhase(ctx, conn, deps)
	data.WriteMs = writeMs
	logs.Write = writeLogs

	return data, logs
}

func timeReadPhase(ctx context.Context, conn *transport.Conn, filter nostr.Filter) (*int64, Logs) {
	start := time.Now()
	req, err := sonic.Marshal([]any{"REQ", "bigbrotr-rtt-read", filter})
	if err != nil {
		return nil, fail("encode read filter: " + err.Error())
	}
	if err := conn.WriteText(ctx, req); err != nil {
		return nil, fail(err.Error())
	}

	for {
		raw, err := conn.ReadText(ctx)
		if err != nil {
			return nil, fail(err.Error())
		}
		var frame []any
		if err := sonic.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
			continue
		}
		label, _ := frame[0].(string)
		if label == "EOSE" || label == "EVENT" {
			ms := time.Since(start).Milliseconds()
			return &ms, ok()
		}
		if label == "CLOSED" {
			return nil, fail("subscription closed before EOSE")
		}
	}
}

func timeWritePhase(ctx context.Context, conn *transport.Conn, deps RTTDeps) (*int64, Logs) {
	if deps.PrivateKeyHex == "" {
		return nil, fail("skipped: no signing key configured")
	}

	ev := nostr.Event{
		Kind:      30166,
		Content:   "",
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"d", "bigbrotr-rtt-probe"}},
	}
	if err := ev.Sign(deps.PrivateKeyHex); err != nil {
		return nil, fail("sign probe event: " + err.Error())
	}

	start := time.Now()
	req, err := sonic.Marshal([]any{"EVENT", ev})
	if err != nil {
		return nil, fail("encode probe event: " + err.Error())
	}
	if err := conn.WriteText(ctx, req); err != nil {
		return nil, fail(err.Error())
	}

	acked := false
	for {
		raw, err := conn.ReadText(ctx)
		if err != nil {
			return nil, fail(err.Error())
		}
		var frame []any
		if err := sonic.Unmarshal(raw, &frame); err != nil || len(frame) == 0 {
			continue
		}
		label, _ := frame[0].(string)
		if label == "OK" && len(frame) >= 2 {
			if id, _ := frame[1].(string); id == ev.ID {
				acked = true
				break
			}
		}
	}
	if !acked {
		return nil, fail("write not acknowledged")
	}

	verified, err := verifyWrite(ctx, conn, ev.ID, deps.WriteVerifyDelay)
	ms := time.Since(start).Milliseconds()
	if err != nil {
		return &ms, fail(err.Error())
	}
	if !verified {
		return &ms, fail("unverified: accepted but not retrievable")
	}
	return &ms, ok()
}

func verifyWrite(ctx context.Context, conn *transport.Conn, eventID string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := sonic.Marshal([]any{"REQ", "bigbrotr-rtt-verify", map[string]any{"ids": []string{eventID}}})
	if err != nil {
		return false, err
	}
	if err := conn.WriteText(verifyCtx, req); err != nil {
		return false, err
	}

	for {
		raw, err := conn.ReadText(verifyCtx)
		if err != nil {
			return false, nil // timeout or closed: treat as unverified, not an error
		}
		var frame []any
		if err := sonic.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
			continue
		}
		label, _ := frame[0].(string)
		if label == "EVENT" {
			return true, nil
		}
		if label == "EOSE" {
			return false, nil
		}
	}
}
