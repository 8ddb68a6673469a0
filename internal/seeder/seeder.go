// Package seeder performs the one-shot ingestion of an operator-supplied
// relay list into ServiceState as candidates, per spec.md §5.1.
package seeder

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bigbrotr/bigbrotr/internal/config"
	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/store"
)

const serviceName = "seeder"

// candidateService is the service whose candidate rows the Validator reads.
const candidateService = "validator"

// Seeder reads a newline-delimited relay URL file and inserts each one as
// a ServiceState candidate with zero failures, unless it's already a known
// candidate. The relay table is not consulted, so a URL that is already a
// validated relay is queued again as a candidate.
type Seeder struct {
	store *store.Store
	cfg   config.SeederConfig
	log   *zap.Logger
}

func New(st *store.Store, cfg config.SeederConfig, log *zap.Logger) *Seeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Seeder{store: st, cfg: cfg, log: log.With(zap.String("service", serviceName))}
}

// Result summarizes one seeding run.
type Result struct {
	Read     int
	Inserted int
	Skipped  int
}

// Run reads the configured seed file and upserts new candidates. It never
// promotes or overwrites an existing candidate's failure count: seeding is
// additive discovery, not a reset.
func (s *Seeder) Run(ctx context.Context) (Result, error) {
	urls, err := readSeedFile(s.cfg.SeedFile)
	if err != nil {
		return Result{}, err
	}

	existing, err := s.store.GetServiceState(ctx, candidateService, models.StateTypeCandidate, "")
	if err != nil {
		return Result{}, fmt.Errorf("seeder: load existing candidates: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, st := range existing {
		known[st.StateKey] = true
	}

	result := Result{Read: len(urls)}
	var states []models.ServiceState
	for _, raw := range urls {
		relay, err := models.NewRelay(raw, time.Now().Unix())
		if err != nil {
			s.log.Debug("skipping invalid seed URL", zap.String("url", raw), zap.Error(err))
			result.Skipped++
			continue
		}
		if known[relay.URL()] {
			result.Skipped++
			continue
		}
		known[relay.URL()] = true

		candidate := models.Candidate{URL: relay.URL(), Network: relay.Network(), Failures: 0, UpdatedAt: time.Now().Unix()}
		states = append(states, candidate.ToState(candidateService))
		result.Inserted++

		if len(states) >= s.cfg.MaxBatchSize {
			if err := s.store.UpsertServiceState(ctx, states); err != nil {
				return result, fmt.Errorf("seeder: upsert candidates: %w", err)
			}
			states = states[:0]
		}
	}
	if len(states) > 0 {
		if err := s.store.UpsertServiceState(ctx, states); err != nil {
			return result, fmt.Errorf("seeder: upsert candidates: %w", err)
		}
	}

	s.log.Info("seeding complete", zap.Int("read", result.Read), zap.Int("inserted", result.Inserted), zap.Int("skipped", result.Skipped))
	return result, nil
}

func readSeedFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("seeder: open seed file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("seeder: read seed file: %w", err)
	}
	return urls, nil
}
