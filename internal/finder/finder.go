// Package finder performs periodic relay discovery from two independent
// sources — configured API lists and tags on already-stored events — per
// spec.md §4.8. It only ever inserts candidates; promotion is the
// Validator's job.
package finder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/bigbrotr/bigbrotr/internal/config"
	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/pool"
	"github.com/bigbrotr/bigbrotr/internal/store"
)

const serviceName = "finder"

// candidateService is the service whose candidate rows the Validator reads.
const candidateService = "validator"

const maxAPIBodyBytes = 4 * 1024 * 1024

// Finder discovers relay URLs from configured API sources and from the tags
// of stored events whose kinds are listed in FinderConfig.EventTagKinds
// (recommend-relay 2, contacts 3, relay-list 10002 and 10006 when that list
// is empty).
type Finder struct {
	store  *store.Store
	pool   *pool.Pool
	cfg    config.FinderConfig
	client *http.Client
	log    *zap.Logger
}

func New(st *store.Store, p *pool.Pool, cfg config.FinderConfig, log *zap.Logger) *Finder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Finder{
		store:  st,
		pool:   p,
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With(zap.String("service", serviceName)),
	}
}

// Result summarizes one discovery cycle across both sources.
type Result struct {
	APIDiscovered int
	TagDiscovered int
	Inserted      int
}

// Run fetches every configured API source and scans event tags for relay
// URLs, upserting anything new as a ServiceState candidate. URLs that are
// already validated relays are never re-added as candidates.
func (f *Finder) Run(ctx context.Context) (Result, error) {
	var result Result
	discovered := map[string]bool{}

	for _, src := range f.cfg.APISources {
		urls, err := f.fetchAPISource(ctx, src)
		if err != nil {
			f.log.Warn("api source fetch failed", zap.String("source", src.Name), zap.Error(err))
			continue
		}
		for _, u := range urls {
			discovered[u] = true
		}
		result.APIDiscovered += len(urls)
		if err := f.advanceSourceCursor(ctx, src.Name); err != nil {
			f.log.Warn("advance api source cursor failed", zap.String("source", src.Name), zap.Error(err))
		}
	}

	tagURLs, newCursor, err := f.scanEventTags(ctx)
	if err != nil {
		f.log.Warn("event tag scan failed", zap.Error(err))
	} else {
		for _, u := range tagURLs {
			discovered[u] = true
		}
		result.TagDiscovered = len(tagURLs)
		if newCursor != nil {
			if err := f.advanceTagCursor(ctx, *newCursor); err != nil {
				f.log.Warn("advance tag cursor failed", zap.Error(err))
			}
		}
	}

	inserted, err := f.insertNewCandidates(ctx, discovered)
	if err != nil {
		return result, err
	}
	result.Inserted = inserted

	f.log.Info("discovery complete",
		zap.Int("api_discovered", result.APIDiscovered),
		zap.Int("tag_discovered", result.TagDiscovered),
		zap.Int("inserted", result.Inserted))
	return result, nil
}

func (f *Finder) fetchAPISource(ctx context.Context, src config.APISource) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("finder: build request for %s: %w", src.Name, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("finder: fetch %s: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("finder: %s returned status %d", src.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("finder: read %s body: %w", src.Name, err)
	}
	if len(body) > maxAPIBodyBytes {
		return nil, fmt.Errorf("finder: %s body exceeds size limit", src.Name)
	}

	result := gjson.GetBytes(body, src.JSONPath)
	if !result.Exists() {
		return nil, fmt.Errorf("finder: json_path %q not found in %s response", src.JSONPath, src.Name)
	}

	var urls []string
	if result.IsArray() {
		for _, item := range result.Array() {
			if item.Type == gjson.String {
				urls = append(urls, item.String())
			}
		}
	} else if result.Type == gjson.String {
		urls = append(urls, result.String())
	}
	return urls, nil
}

func (f *Finder) advanceSourceCursor(ctx context.Context, sourceName string) error {
	state := models.ServiceState{
		ServiceName: serviceName,
		StateType:   models.StateTypeOther,
		StateKey:    "api_source:" + sourceName,
		StateValue:  map[string]any{"last_synced_at": float64(time.Now().Unix())},
		UpdatedAt:   time.Now().Unix(),
	}
	return f.store.UpsertServiceState(ctx, []models.ServiceState{state})
}

// scanEventTags queries events of the configured kinds with relay tags,
// starting after the finder's own persisted cursor, and extracts candidate
// URLs from every "r"/"relay" tag value. The cursor advances to the newest
// created_at observed.
func (f *Finder) scanEventTags(ctx context.Context) ([]string, *int64, error) {
	cursorStates, err := f.store.GetServiceState(ctx, serviceName, models.StateTypeCursor, "event_tags")
	if err != nil {
		return nil, nil, fmt.Errorf("finder: load event tag cursor: %w", err)
	}
	since := int64(0)
	if len(cursorStates) > 0 {
		if v, ok := cursorStates[0].StateValue["since"].(float64); ok {
			since = int64(v)
		}
	}

	kinds := f.cfg.EventTagKinds
	if len(kinds) == 0 {
		kinds = []int{2, 3, 10002, 10006}
	}

	type taggedEvent struct {
		createdAt int64
		tags      []byte
	}
	rows, err := pool.Fetch(ctx, f.pool,
		`SELECT created_at, tags FROM event WHERE kind = ANY($1::int[]) AND created_at > $2 ORDER BY created_at ASC`,
		[]any{kinds, since},
		func(row pgx.Rows) (taggedEvent, error) {
			var e taggedEvent
			if err := row.Scan(&e.createdAt, &e.tags); err != nil {
				return e, err
			}
			return e, nil
		})
	if err != nil {
		return nil, nil, fmt.Errorf("finder: scan relay tags: %w", err)
	}

	var urls []string
	maxCreatedAt := since
	for _, ev := range rows {
		if ev.createdAt > maxCreatedAt {
			maxCreatedAt = ev.createdAt
		}
		gjson.ParseBytes(ev.tags).ForEach(func(_, tag gjson.Result) bool {
			if !tag.IsArray() {
				return true
			}
			arr := tag.Array()
			if len(arr) < 2 {
				return true
			}
			name := arr[0].String()
			if name == "r" || name == "relay" {
				urls = append(urls, arr[1].String())
			}
			return true
		})
	}
	return urls, &maxCreatedAt, nil
}

func (f *Finder) advanceTagCursor(ctx context.Context, since int64) error {
	state := models.ServiceState{
		ServiceName: serviceName,
		StateType:   models.StateTypeCursor,
		StateKey:    "event_tags",
		StateValue:  map[string]any{"since": float64(since)},
		UpdatedAt:   time.Now().Unix(),
	}
	return f.store.UpsertServiceState(ctx, []models.ServiceState{state})
}

// insertNewCandidates filters discovered URLs down to ones that aren't
// already validated relays, normalizes them, and upserts any not already
// present as candidates.
func (f *Finder) insertNewCandidates(ctx context.Context, discovered map[string]bool) (int, error) {
	if len(discovered) == 0 {
		return 0, nil
	}

	existingCandidates, err := f.store.GetServiceState(ctx, candidateService, models.StateTypeCandidate, "")
	if err != nil {
		return 0, fmt.Errorf("finder: load existing candidates: %w", err)
	}
	known := make(map[string]bool, len(existingCandidates))
	for _, st := range existingCandidates {
		known[st.StateKey] = true
	}

	var states []models.ServiceState
	inserted := 0
	now := time.Now().Unix()
	for raw := range discovered {
		relay, err := models.NewRelay(raw, now)
		if err != nil {
			continue
		}
		if known[relay.URL()] {
			continue
		}
		if isValidatedRelay, err := f.isValidatedRelay(ctx, relay.URL()); err == nil && isValidatedRelay {
			continue
		}
		known[relay.URL()] = true

		candidate := models.Candidate{URL: relay.URL(), Network: relay.Network(), Failures: 0, UpdatedAt: now}
		states = append(states, candidate.ToState(candidateService))
		inserted++

		if len(states) >= f.cfg.MaxBatchSize {
			if err := f.store.UpsertServiceState(ctx, states); err != nil {
				return inserted, fmt.Errorf("finder: upsert candidates: %w", err)
			}
			states = states[:0]
		}
	}
	if len(states) > 0 {
		if err := f.store.UpsertServiceState(ctx, states); err != nil {
			return inserted, fmt.Errorf("finder: upsert candidates: %w", err)
		}
	}
	return inserted, nil
}

func (f *Finder) isValidatedRelay(ctx context.Context, url string) (bool, error) {
	var exists bool
	rows, err := pool.Fetch(ctx, f.pool,
		`SELECT EXISTS(SELECT 1 FROM relay WHERE url = $1)`,
		[]any{url},
		func(row pgx.Rows) (bool, error) {
			var e bool
			if err := row.Scan(&e); err != nil {
				return false, err
			}
			return e, nil
		})
	if err != nil {
		return false, err
	}
	if len(rows) > 0 {
		exists = rows[0]
	}
	return exists, nil
}
