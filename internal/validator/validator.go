// Package validator promotes candidates to validated relays via a protocol
// handshake, per spec.md §4.9.
package validator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bigbrotr/bigbrotr/internal/config"
	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/netsem"
	"github.com/bigbrotr/bigbrotr/internal/store"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

const serviceName = "validator"

// Validator loads candidate chunks ordered by failures ASC, updated_at ASC
// (with a small jitter to avoid starving ties), opens each via Transport,
// and classifies it valid/invalid against the per-network budget.
type Validator struct {
	store  *store.Store
	netsem *netsem.Manager
	cfg    config.ValidatorConfig
	log    *zap.Logger
}

func New(st *store.Store, sem *netsem.Manager, cfg config.ValidatorConfig, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{store: st, netsem: sem, cfg: cfg, log: log.With(zap.String("service", serviceName))}
}

// Result summarizes one validator cycle.
type Result struct {
	Checked int
	Valid   int
	Invalid int
	Aged    int // candidates removed for exceeding max_attempts
}

// Run loads one chunk of candidates and validates each concurrently, subject
// to strict per-network budgets. A relay's validation failure never affects
// any other relay's result.
func (v *Validator) Run(ctx context.Context) (Result, error) {
	candidates, err := v.loadChunk(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}

	type outcome struct {
		candidate models.Candidate
		valid     bool
		err       error
	}
	outcomes := make(chan outcome, len(candidates))

	for _, c := range candidates {
		go func(c models.Candidate) {
			valid, err := v.validateOne(ctx, c)
			outcomes <- outcome{candidate: c, valid: valid, err: err}
		}(c)
	}

	var result Result
	var newRelays []models.Relay
	var updatedCandidates []models.ServiceState
	var removedCandidates []string

	for range candidates {
		o := <-outcomes
		result.Checked++
		if o.err != nil {
			v.log.Debug("validation error", zap.String("url", o.candidate.URL), zap.Error(o.err))
		}
		if o.valid {
			result.Valid++
			relay, err := models.NewRelay(o.candidate.URL, time.Now().Unix())
			if err == nil {
				newRelays = append(newRelays, relay)
			}
			removedCandidates = append(removedCandidates, o.candidate.URL)
			continue
		}

		result.Invalid++
		failures := o.candidate.Failures + 1
		if failures >= v.cfg.MaxAttempts {
			result.Aged++
			removedCandidates = append(removedCandidates, o.candidate.URL)
			continue
		}
		updated := models.Candidate{URL: o.candidate.URL, Network: o.candidate.Network, Failures: failures, UpdatedAt: time.Now().Unix()}
		updatedCandidates = append(updatedCandidates, updated.ToState(serviceName))
	}

	if len(newRelays) > 0 {
		if _, err := v.store.InsertRelays(ctx, newRelays); err != nil {
			return result, fmt.Errorf("validator: insert promoted relays: %w", err)
		}
	}
	if len(updatedCandidates) > 0 {
		if err := v.store.UpsertServiceState(ctx, updatedCandidates); err != nil {
			return result, fmt.Errorf("validator: upsert candidate failures: %w", err)
		}
	}
	if len(removedCandidates) > 0 {
		services := make([]string, len(removedCandidates))
		types := make([]string, len(removedCandidates))
		for i := range removedCandidates {
			services[i] = serviceName
			types[i] = string(models.StateTypeCandidate)
		}
		if _, err := v.store.DeleteServiceState(ctx, services, types, removedCandidates); err != nil {
			return result, fmt.Errorf("validator: delete resolved candidates: %w", err)
		}
	}

	v.log.Info("validation cycle complete",
		zap.Int("checked", result.Checked), zap.Int("valid", result.Valid),
		zap.Int("invalid", result.Invalid), zap.Int("aged_out", result.Aged))
	return result, nil
}

// loadChunk fetches all candidates, sorts by (failures ASC, updated_at ASC)
// with a small random jitter on ties so no single URL is perpetually
// starved at the back of the queue, then slices to chunk_size.
func (v *Validator) loadChunk(ctx context.Context) ([]models.Candidate, error) {
	states, err := v.store.GetServiceState(ctx, serviceName, models.StateTypeCandidate, "")
	if err != nil {
		return nil, fmt.Errorf("validator: load candidates: %w", err)
	}

	candidates := make([]models.Candidate, len(states))
	for i, s := range states {
		candidates[i] = models.CandidateFromState(s)
	}
	sortCandidates(candidates)

	if len(candidates) > v.cfg.ChunkSize {
		candidates = candidates[:v.cfg.ChunkSize]
	}
	return candidates, nil
}

// sortCandidates orders by (failures ASC, updated_at ASC), breaking ties
// with a random jitter so candidates sharing both fields aren't perpetually
// starved at the back of the queue across repeated cycles.
func sortCandidates(candidates []models.Candidate) {
	jitter := make([]float64, len(candidates))
	for i := range jitter {
		jitter[i] = rand.Float64()
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Failures != candidates[j].Failures {
			return candidates[i].Failures < candidates[j].Failures
		}
		if candidates[i].UpdatedAt != candidates[j].UpdatedAt {
			return candidates[i].UpdatedAt < candidates[j].UpdatedAt
		}
		return jitter[i] < jitter[j]
	})
}

// validateOne acquires the candidate's network budget, dials it, and issues
// the Nostr relay-validity probe.
func (v *Validator) validateOne(ctx context.Context, c models.Candidate) (bool, error) {
	opCtx, release, err := v.netsem.Acquire(ctx, c.Network)
	if err != nil {
		return false, err
	}
	defer release()

	relay, err := models.NewRelay(c.URL, time.Now().Unix())
	if err != nil {
		return false, err
	}

	limit := v.netsem.Limit(c.Network)
	conn, err := transport.Dial(opCtx, relay, transport.Options{
		ProxyURL:      limit.ProxyURL,
		Timeout:       limit.Timeout,
		AllowInsecure: limit.AllowInsecure,
	})
	if err != nil {
		return false, err
	}
	defer conn.Close()

	return transport.IsNostrRelay(opCtx, conn)
}
