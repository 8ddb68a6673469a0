// Package netsem provides per-network concurrency budgets: a separate
// FIFO-fair semaphore for each of clearnet/tor/i2p/loki, as required by
// spec.md's concurrency model so one overlay network's slow connections
// never starve clearnet work or each other.
package netsem

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

// Limits configures the maximum concurrent in-flight operations and the
// per-operation timeout for each network.
type Limits struct {
	Clearnet NetworkLimit
	Tor      NetworkLimit
	I2P      NetworkLimit
	Loki     NetworkLimit
}

type NetworkLimit struct {
	MaxConcurrent int64
	Timeout       time.Duration
	ProxyURL      string // required for overlay networks
	AllowInsecure bool   // permits the clearnet TLS-verify -> insecure fallback
}

// DefaultLimits mirrors spec.md's stated default timeouts.
func DefaultLimits() Limits {
	return Limits{
		Clearnet: NetworkLimit{MaxConcurrent: 32, Timeout: 10 * time.Second},
		Tor:      NetworkLimit{MaxConcurrent: 8, Timeout: 30 * time.Second},
		I2P:      NetworkLimit{MaxConcurrent: 8, Timeout: 45 * time.Second},
		Loki:     NetworkLimit{MaxConcurrent: 8, Timeout: 30 * time.Second},
	}
}

// Manager owns one weighted semaphore per network.
type Manager struct {
	limits Limits
	sems   map[models.Network]*semaphore.Weighted
}

func NewManager(limits Limits) *Manager {
	return &Manager{
		limits: limits,
		sems: map[models.Network]*semaphore.Weighted{
			models.NetworkClearnet: semaphore.NewWeighted(max1(limits.Clearnet.MaxConcurrent)),
			models.NetworkTor:      semaphore.NewWeighted(max1(limits.Tor.MaxConcurrent)),
			models.NetworkI2P:      semaphore.NewWeighted(max1(limits.I2P.MaxConcurrent)),
			models.NetworkLoki:     semaphore.NewWeighted(max1(limits.Loki.MaxConcurrent)),
		},
	}
}

func max1(n int64) int64 {
	if n <= 0 {
		return 1
	}
	return n
}

// Limit returns the configured NetworkLimit for net, or the clearnet default
// for local/unknown networks (they never hit overlay-specific budgets).
func (m *Manager) Limit(net models.Network) NetworkLimit {
	switch net {
	case models.NetworkTor:
		return m.limits.Tor
	case models.NetworkI2P:
		return m.limits.I2P
	case models.NetworkLoki:
		return m.limits.Loki
	default:
		return m.limits.Clearnet
	}
}

// Release is returned by Acquire and must be called exactly once to free the
// network's budget slot.
type Release func()

// Acquire blocks (FIFO-fair) until a budget slot for net is available or ctx
// is cancelled, and returns a derived context bounded by the network's
// timeout plus a release function. The timeout context is started only once
// the slot is held, so a long queue wait doesn't eat into the operation's own
// budget.
func (m *Manager) Acquire(ctx context.Context, net models.Network) (context.Context, Release, error) {
	if net != models.NetworkTor && net != models.NetworkI2P && net != models.NetworkLoki {
		net = models.NetworkClearnet
	}
	sem, ok := m.sems[net]
	if !ok {
		return nil, nil, fmt.Errorf("netsem: no semaphore configured for network %q", net)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("netsem: acquire %s semaphore: %w", net, err)
	}

	opCtx, cancel := context.WithTimeout(ctx, m.Limit(net).Timeout)
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		cancel()
		sem.Release(1)
	}
	return opCtx, release, nil
}
