// Package routing selects among multiple upstream endpoints for the same
// chain and rotates away from one that is failing or throttled.
package routing

import (
	"fmt"
	"sync"
	"time"

	"github.com/chainflux/logwatch/internal/infra/rpc/provider"
)

// Router selects and rotates among the providers registered for a chain.
type Router interface {
	AddProvider(p provider.Provider)
	GetProvider() (provider.Provider, error)
	RotateProvider() (provider.Provider, error)
	RecordSuccess(providerName string)
	RecordFailure(providerName string, err error)
}

type providerMetrics struct {
	consecutiveFails int
	circuitOpen      bool
	openedAt         time.Time
}

// DefaultRouter keeps handing out its current provider and moves to the next
// one in registration order only when RotateProvider is called or the
// current one is unavailable or has an open circuit breaker; it does not
// round-robin per call. It opens a provider's breaker after a run of
// consecutive failures until a cooldown elapses.
type DefaultRouter struct {
	mu          sync.Mutex
	providers   []provider.Provider
	health      map[string]*providerMetrics
	cursor      int
	breakAfter  int
	cooldown    time.Duration
}

// NewRouter constructs a DefaultRouter that opens a provider's circuit
// after breakAfter consecutive failures and resets it after cooldown.
func NewRouter(breakAfter int, cooldown time.Duration) *DefaultRouter {
	if breakAfter <= 0 {
		breakAfter = 3
	}
	return &DefaultRouter{
		health:     make(map[string]*providerMetrics),
		breakAfter: breakAfter,
		cooldown:   cooldown,
	}
}

func (r *DefaultRouter) AddProvider(p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
	r.health[p.GetName()] = &providerMetrics{}
}

// GetProvider returns the current provider if it is available, otherwise the
// next available one in registration order, skipping any open circuit.
func (r *DefaultRouter) GetProvider() (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pickLocked()
}

// RotateProvider advances past the current provider and returns the next
// one, forcing a rotation even if the current provider looked healthy.
func (r *DefaultRouter) RotateProvider() (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor++
	return r.pickLocked()
}

func (r *DefaultRouter) pickLocked() (provider.Provider, error) {
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("routing: no providers registered")
	}

	for i := 0; i < len(r.providers); i++ {
		idx := (r.cursor + i) % len(r.providers)
		p := r.providers[idx]
		m := r.health[p.GetName()]

		if m.circuitOpen && time.Since(m.openedAt) > r.cooldown {
			m.circuitOpen = false
			m.consecutiveFails = 0
		}
		if !m.circuitOpen && p.IsAvailable() {
			r.cursor = idx
			return p, nil
		}
	}
	return nil, fmt.Errorf("routing: no available providers")
}

func (r *DefaultRouter) RecordSuccess(providerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.health[providerName]; ok {
		m.consecutiveFails = 0
		m.circuitOpen = false
	}
}

func (r *DefaultRouter) RecordFailure(providerName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.health[providerName]
	if !ok {
		return
	}
	m.consecutiveFails++
	if m.consecutiveFails >= r.breakAfter {
		m.circuitOpen = true
		m.openedAt = time.Now()
	}
}
