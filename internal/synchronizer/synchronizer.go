// Package synchronizer scans each active relay for events since its
// persisted cursor, verifies signatures, and batch-persists event/relay
// joins with at-least-once delivery, per spec.md §4.11.
package synchronizer

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/bigbrotr/bigbrotr/internal/config"
	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/netsem"
	"github.com/bigbrotr/bigbrotr/internal/pool"
	"github.com/bigbrotr/bigbrotr/internal/store"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

const serviceName = "synchronizer"

// Synchronizer pulls new events from every active relay, using a per-relay
// cursor that only advances once a batch has durably persisted.
type Synchronizer struct {
	store  *store.Store
	pool   *pool.Pool
	netsem *netsem.Manager
	cfg    config.SynchronizerConfig
	log    *zap.Logger
}

func New(st *store.Store, p *pool.Pool, sem *netsem.Manager, cfg config.SynchronizerConfig, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{store: st, pool: p, netsem: sem, cfg: cfg, log: log.With(zap.String("service", serviceName))}
}

// RelayResult is one relay's outcome within a cycle; relay-local failures
// never cancel siblings (spec.md §5).
type RelayResult struct {
	Relay    string
	Inserted int
	Dropped  int // signature-invalid events dropped
	Err      error
}

// Result aggregates a full synchronizer cycle.
type Result struct {
	RelaysProcessed int
	TotalInserted   int
	Errors          []RelayResult
}

// Run loads every active relay with its cursor and synchronizes each
// concurrently, bounded by the relay's network budget. One relay's failure
// is recorded and does not affect any other relay.
func (s *Synchronizer) Run(ctx context.Context) (Result, error) {
	relays, err := s.loadActiveRelays(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(relays) == 0 {
		return Result{}, nil
	}

	results := make(chan RelayResult, len(relays))
	for _, relay := range relays {
		go func(relay models.Relay) {
			results <- s.syncOne(ctx, relay)
		}(relay)
	}

	var result Result
	for range relays {
		r := <-results
		result.RelaysProcessed++
		result.TotalInserted += r.Inserted
		if r.Err != nil {
			result.Errors = append(result.Errors, r)
			s.log.Warn("relay sync failed", zap.String("relay", r.Relay), zap.Error(r.Err))
		}
	}

	s.log.Info("synchronizer cycle complete",
		zap.Int("relays", result.RelaysProcessed), zap.Int("inserted", result.TotalInserted), zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *Synchronizer) loadActiveRelays(ctx context.Context) ([]models.Relay, error) {
	type relayRow struct {
		url          string
		discoveredAt int64
	}
	rows, err := pool.Fetch(ctx, s.pool,
		`SELECT url, discovered_at FROM relay ORDER BY discovered_at ASC`,
		nil,
		func(row pgx.Rows) (relayRow, error) {
			var r relayRow
			if err := row.Scan(&r.url, &r.discoveredAt); err != nil {
				return r, err
			}
			return r, nil
		})
	if err != nil {
		return nil, fmt.Errorf("synchronizer: load relays: %w", err)
	}

	relays := make([]models.Relay, 0, len(rows))
	for _, row := range rows {
		relay, err := models.NewRelay(row.url, row.discoveredAt)
		if err != nil {
			continue
		}
		relays = append(relays, relay)
	}
	return relays, nil
}

// syncOne opens a subscription bounded by the relay's network budget,
// streams events, verifies each signature, and flushes batches of at most
// max_batch_size. The cursor advances only after a batch has persisted.
func (s *Synchronizer) syncOne(ctx context.Context, relay models.Relay) RelayResult {
	result := RelayResult{Relay: relay.URL()}

	opCtx, release, err := s.netsem.Acquire(ctx, relay.Network())
	if err != nil {
		result.Err = err
		return result
	}
	defer release()

	cursor, err := s.loadCursor(ctx, relay.URL())
	if err != nil {
		result.Err = err
		return result
	}

	since := s.cfg.SinceFloor
	if cursor.SeenAt != nil && *cursor.SeenAt > since {
		since = *cursor.SeenAt
	}

	limit := s.netsem.Limit(relay.Network())
	conn, err := transport.Dial(opCtx, relay, transport.Options{
		ProxyURL: limit.ProxyURL, Timeout: limit.Timeout, AllowInsecure: limit.AllowInsecure,
	})
	if err != nil {
		result.Err = err
		return result
	}
	defer conn.Close()

	filter := nostr.Filter{Kinds: s.cfg.Kinds, Authors: s.cfg.Authors, Since: timestampPtr(since)}
	subID := "bigbrotr-sync"
	req, err := sonic.Marshal([]any{"REQ", subID, filter})
	if err != nil {
		result.Err = fmt.Errorf("synchronizer: encode filter: %w", err)
		return result
	}
	if err := conn.WriteText(opCtx, req); err != nil {
		result.Err = err
		return result
	}

	batchSize := s.cfg.MaxBatchSize
	if batchSize <= 0 {
		batchSize = 10000
	}

	var batch []models.Event
	cur := cursor
	for {
		raw, err := conn.ReadText(opCtx)
		if err != nil {
			// subscription ended (EOF/timeout/closed): flush what we have.
			break
		}
		var frame []any
		if unErr := sonic.Unmarshal(raw, &frame); unErr != nil || len(frame) == 0 {
			continue
		}
		label, _ := frame[0].(string)
		switch label {
		case "EVENT":
			if len(frame) < 3 {
				continue
			}
			evBytes, _ := sonic.Marshal(frame[2])
			var parsed nostr.Event
			if err := sonic.Unmarshal(evBytes, &parsed); err != nil {
				continue
			}
			ev, err := models.NewEvent(parsed)
			if err != nil {
				result.Dropped++
				continue
			}
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				inserted, newCursor, flushErr := s.flush(ctx, relay, batch, cur)
				result.Inserted += inserted
				if flushErr != nil {
					result.Err = flushErr
					return result
				}
				cur = newCursor
				batch = batch[:0]
			}
		case "EOSE":
			goto done
		case "CLOSED", "NOTICE":
			goto done
		}
	}
done:
	if len(batch) > 0 {
		inserted, _, flushErr := s.flush(ctx, relay, batch, cur)
		result.Inserted += inserted
		if flushErr != nil {
			result.Err = flushErr
			return result
		}
	}
	return result
}

// flush persists a batch's event/relay joins (cascading missing events and
// relays in the same transaction) and advances the cursor to the batch's
// (max created_at, id of max). The cursor is only written after the insert
// succeeds, preserving at-least-once delivery on crash/restart.
func (s *Synchronizer) flush(ctx context.Context, relay models.Relay, batch []models.Event, cur models.EventRelayCursor) (int, models.EventRelayCursor, error) {
	if len(batch) == 0 {
		return 0, cur, nil
	}

	now := time.Now().Unix()
	joins := make([]models.EventRelay, len(batch))
	maxCreatedAt := batch[0].CreatedAt()
	maxID := batch[0].ID()
	for i, ev := range batch {
		joins[i] = models.NewEventRelay(ev, relay, now)
		if ev.CreatedAt() > maxCreatedAt {
			maxCreatedAt = ev.CreatedAt()
			maxID = ev.ID()
		}
	}

	if err := s.store.InsertEventRelays(ctx, joins); err != nil {
		return 0, cur, fmt.Errorf("synchronizer: insert event relays for %s: %w", relay.URL(), err)
	}

	newCursor := models.EventRelayCursor{RelayURL: relay.URL(), SeenAt: &maxCreatedAt, EventID: &maxID}
	state := newCursor.ToState(serviceName)
	state.UpdatedAt = now
	if err := s.store.UpsertServiceState(ctx, []models.ServiceState{state}); err != nil {
		return 0, cur, fmt.Errorf("synchronizer: advance cursor for %s: %w", relay.URL(), err)
	}

	return len(batch), newCursor, nil
}

func (s *Synchronizer) loadCursor(ctx context.Context, relayURL string) (models.EventRelayCursor, error) {
	states, err := s.store.GetServiceState(ctx, serviceName, models.StateTypeCursor, relayURL)
	if err != nil {
		return models.EventRelayCursor{}, fmt.Errorf("synchronizer: load cursor for %s: %w", relayURL, err)
	}
	if len(states) == 0 {
		return models.EventRelayCursor{RelayURL: relayURL}, nil
	}
	return models.CursorFromState(states[0]), nil
}

func timestampPtr(v int64) *nostr.Timestamp {
	if v <= 0 {
		return nil
	}
	t := nostr.Timestamp(v)
	return &t
}
