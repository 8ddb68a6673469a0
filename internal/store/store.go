// Package store is a thin, typed facade over stored procedures: every
// mutation maps 1:1 onto a server-side procedure call, per spec.md §4.2.
package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"

	"github.com/bigbrotr/bigbrotr/internal/berr"
	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/pool"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store calls bigbrotr's fixed set of stored procedures over a Pool.
type Store struct {
	pool         *pool.Pool
	maxBatchSize int
}

func New(p *pool.Pool, maxBatchSize int) *Store {
	if maxBatchSize <= 0 {
		maxBatchSize = 10000
	}
	return &Store{pool: p, maxBatchSize: maxBatchSize}
}

func (s *Store) checkBatchSize(n int) error {
	if n > s.maxBatchSize {
		return berr.New(berr.Query, fmt.Sprintf("batch of %d exceeds max_batch_size %d", n, s.maxBatchSize), nil)
	}
	return nil
}

// InsertRelays upserts relays by URL and returns the number affected.
func (s *Store) InsertRelays(ctx context.Context, relays []models.Relay) (int64, error) {
	if len(relays) == 0 {
		return 0, nil
	}
	if err := s.checkBatchSize(len(relays)); err != nil {
		return 0, err
	}

	urls := make([]string, len(relays))
	networks := make([]string, len(relays))
	hosts := make([]string, len(relays))
	ports := make([]string, len(relays))
	paths := make([]string, len(relays))
	schemes := make([]string, len(relays))
	discoveredAt := make([]int64, len(relays))
	for i, r := range relays {
		urls[i] = r.URL()
		networks[i] = string(r.Network())
		hosts[i] = r.Host()
		ports[i] = r.Port()
		paths[i] = r.Path()
		schemes[i] = string(r.Scheme())
		discoveredAt[i] = r.DiscoveredAt()
	}

	n, err := s.pool.Execute(ctx,
		"SELECT relay_insert($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::bigint[])",
		urls, networks, hosts, ports, paths, schemes, discoveredAt)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// InsertEventsResult is the (inserted, skipped) pair InsertEvents returns.
type InsertEventsResult struct {
	Inserted int64
	Skipped  int64
}

// InsertEvents upserts events by id. Duplicate ids within the batch, or
// already present in the table, count toward Skipped.
func (s *Store) InsertEvents(ctx context.Context, events []models.Event) (InsertEventsResult, error) {
	if len(events) == 0 {
		return InsertEventsResult{}, nil
	}
	if err := s.checkBatchSize(len(events)); err != nil {
		return InsertEventsResult{}, err
	}

	ids := make([]string, len(events))
	pubkeys := make([]string, len(events))
	createdAt := make([]int64, len(events))
	kinds := make([]int, len(events))
	tags := make([][]byte, len(events))
	content := make([]string, len(events))
	sigs := make([]string, len(events))

	for i, e := range events {
		ids[i] = e.ID()
		pubkeys[i] = e.PubKey()
		createdAt[i] = e.CreatedAt()
		kinds[i] = e.Kind()
		raw := e.Raw()
		tagJSON, err := rawTagsJSON(raw.Tags)
		if err != nil {
			return InsertEventsResult{}, berr.New(berr.Protocol, "encode event tags", err)
		}
		tags[i] = tagJSON
		content[i] = e.Content()
		sigs[i] = e.Sig()
	}

	var result InsertEventsResult
	rows, err := pool.Fetch(ctx, s.pool,
		"SELECT inserted, skipped FROM event_insert($1::text[], $2::text[], $3::bigint[], $4::int[], $5::jsonb[], $6::text[], $7::text[])",
		[]any{ids, pubkeys, createdAt, kinds, tags, content, sigs},
		func(row pgx.Rows) (InsertEventsResult, error) {
			var r InsertEventsResult
			if err := row.Scan(&r.Inserted, &r.Skipped); err != nil {
				return r, err
			}
			return r, nil
		})
	if err != nil {
		return InsertEventsResult{}, err
	}
	if len(rows) > 0 {
		result = rows[0]
	}
	return result, nil
}

// InsertEventRelays cascades missing events and relays into the same
// transaction as the join rows, per spec.md's InsertEventRelays contract.
func (s *Store) InsertEventRelays(ctx context.Context, joins []models.EventRelay) error {
	if len(joins) == 0 {
		return nil
	}
	if err := s.checkBatchSize(len(joins)); err != nil {
		return err
	}

	eventIDs := make([]string, len(joins))
	relayURLs := make([]string, len(joins))
	seenAt := make([]int64, len(joins))
	for i, j := range joins {
		eventIDs[i] = j.EventID
		relayURLs[i] = j.RelayURL
		seenAt[i] = j.SeenAt
	}

	_, err := s.pool.Execute(ctx,
		"SELECT event_relay_insert($1::text[], $2::text[], $3::bigint[])",
		eventIDs, relayURLs, seenAt)
	return err
}

// InsertRelayMetadata writes RelayMetadata rows, optionally cascading
// missing relays.
func (s *Store) InsertRelayMetadata(ctx context.Context, records []models.RelayMetadata, cascade bool) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.checkBatchSize(len(records)); err != nil {
		return err
	}

	relayURLs := make([]string, len(records))
	types := make([]string, len(records))
	payloads := make([][]byte, len(records))
	generatedAt := make([]int64, len(records))
	for i, r := range records {
		canon, err := r.Metadata.Canonical()
		if err != nil {
			return berr.New(berr.Protocol, "encode metadata payload", err)
		}
		relayURLs[i] = r.RelayURL
		types[i] = string(r.Metadata.Type)
		payloads[i] = canon
		generatedAt[i] = r.GeneratedAt
	}

	_, err := s.pool.Execute(ctx,
		"SELECT relay_metadata_insert($1::text[], $2::text[], $3::jsonb[], $4::bigint[], $5::boolean)",
		relayURLs, types, payloads, generatedAt, cascade)
	return err
}

// UpsertServiceState upserts on (service, type, key); last-writer-by-
// updated_at wins at the DB layer.
func (s *Store) UpsertServiceState(ctx context.Context, states []models.ServiceState) error {
	if len(states) == 0 {
		return nil
	}
	if err := s.checkBatchSize(len(states)); err != nil {
		return err
	}

	services := make([]string, len(states))
	stateTypes := make([]string, len(states))
	keys := make([]string, len(states))
	values := make([][]byte, len(states))
	updatedAt := make([]int64, len(states))
	for i, st := range states {
		payload, err := canonicalJSON(st.StateValue)
		if err != nil {
			return berr.New(berr.Query, "encode state value", err)
		}
		services[i] = st.ServiceName
		stateTypes[i] = string(st.StateType)
		keys[i] = st.StateKey
		values[i] = payload
		updatedAt[i] = st.UpdatedAt
	}

	_, err := s.pool.Execute(ctx,
		"SELECT service_state_upsert($1::text[], $2::text[], $3::text[], $4::jsonb[], $5::bigint[])",
		services, stateTypes, keys, values, updatedAt)
	return err
}

// GetServiceState returns rows ordered by updated_at ASC. An empty key
// matches all keys for the (service, type) pair.
func (s *Store) GetServiceState(ctx context.Context, service string, stateType models.StateType, key string) ([]models.ServiceState, error) {
	return pool.Fetch(ctx, s.pool,
		"SELECT service_name, state_type, state_key, state_value, updated_at FROM service_state_get($1, $2, $3) ORDER BY updated_at ASC",
		[]any{service, string(stateType), nullIfEmpty(key)},
		func(row pgx.Rows) (models.ServiceState, error) {
			var st models.ServiceState
			var stateTypeStr string
			var raw []byte
			if err := row.Scan(&st.ServiceName, &stateTypeStr, &st.StateKey, &raw, &st.UpdatedAt); err != nil {
				return st, err
			}
			st.StateType = models.StateType(stateTypeStr)
			decoded, err := models.ParsePayload(raw)
			if err != nil {
				return st, err
			}
			st.StateValue = decoded
			return st, nil
		})
}

// DeleteServiceState batch-deletes by three parallel lists and returns rows
// affected.
func (s *Store) DeleteServiceState(ctx context.Context, services, stateTypes, keys []string) (int64, error) {
	if len(services) != len(stateTypes) || len(services) != len(keys) {
		return 0, fmt.Errorf("store: DeleteServiceState requires equal-length parallel lists")
	}
	if len(services) == 0 {
		return 0, nil
	}
	return s.pool.Execute(ctx, "SELECT service_state_delete($1::text[], $2::text[], $3::text[])", services, stateTypes, keys)
}

// DeleteOrphanEvents removes events with no remaining event_relay rows.
func (s *Store) DeleteOrphanEvents(ctx context.Context) (int64, error) {
	return s.pool.Execute(ctx, "SELECT event_delete_orphans()")
}

// DeleteOrphanMetadata removes metadata blobs with no remaining
// relay_metadata references.
func (s *Store) DeleteOrphanMetadata(ctx context.Context) (int64, error) {
	return s.pool.Execute(ctx, "SELECT metadata_delete_orphans()")
}

// RefreshMaterializedView validates name against the identifier pattern
// before interpolating it into a REFRESH MATERIALIZED VIEW statement, since
// the name cannot be bound as a query parameter.
func (s *Store) RefreshMaterializedView(ctx context.Context, name string) error {
	if !identifierPattern.MatchString(name) {
		return berr.New(berr.Query, fmt.Sprintf("invalid materialized view identifier %q", name), nil)
	}
	_, err := s.pool.Execute(ctx, fmt.Sprintf("REFRESH MATERIALIZED VIEW %s", name))
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
