// Package subscription implements the subscription registry and the
// stateful subscriber base: the engine's only two points of contact with
// downstream consumers.
//
// Grounded on the teacher's FinalityBuffer
// (internal/indexing/emitter/finality.go) for the per-key map guarded by a
// single mutex, and on golang.org/x/sync/errgroup (already a teacher
// dependency via the RPC layer) for fanning out concurrent initializations.
package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/metrics"
)

// Registry is the engine's checksum-address-keyed map of subscribers. It
// owns the lifecycle of each subscription: pending initialization,
// initialized, and the block numbers each subscriber has last seen.
type Registry struct {
	mu sync.Mutex

	subscribers   map[string]domain.Subscriber
	filters       map[string]domain.AddressAndTopics
	waitingInit   map[string]struct{}
	initializedAt map[string]domain.Block
	lastSeen      map[string]domain.Block
	subscriptionID map[string]uuid.UUID

	log *slog.Logger
}

// New constructs an empty Registry.
func New(log *slog.Logger) *Registry {
	return &Registry{
		subscribers:    make(map[string]domain.Subscriber),
		filters:        make(map[string]domain.AddressAndTopics),
		waitingInit:    make(map[string]struct{}),
		initializedAt:  make(map[string]domain.Block),
		lastSeen:       make(map[string]domain.Block),
		subscriptionID: make(map[string]uuid.UUID),
		log:            log,
	}
}

// SubscriptionID returns the handle assigned to address's current
// subscription, for correlating logs and metrics across a resubscribe. The
// zero UUID is returned if address has no active subscription.
func (r *Registry) SubscriptionID(address string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptionID[domain.ChecksumAddress(address)]
}

// SubscribeToLogs registers subscriber for addressAndTopics. A second
// subscription for the same address replaces the first. The new
// subscriber is marked pending and an initialization attempt against head
// is made immediately so the caller does not have to wait for the next
// block to learn whether the anchor succeeded.
func (r *Registry) SubscribeToLogs(ctx context.Context, addressAndTopics domain.AddressAndTopics, subscriber domain.Subscriber, head domain.Block) {
	addr := domain.ChecksumAddress(addressAndTopics.Address)
	addressAndTopics.Address = addr

	id := uuid.New()

	r.mu.Lock()
	r.subscribers[addr] = subscriber
	r.filters[addr] = addressAndTopics
	r.waitingInit[addr] = struct{}{}
	r.subscriptionID[addr] = id
	delete(r.initializedAt, addr)
	delete(r.lastSeen, addr)
	r.mu.Unlock()

	r.log.Info("subscription registry: subscribed", "address", addr, "subscription_id", id)
	r.HandleSubscribersInitialize(ctx, head)
}

// Addresses returns the current subscription set, for use as the address
// filter on a log fetch.
func (r *Registry) Addresses() []domain.AddressAndTopics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.AddressAndTopics, 0, len(r.filters))
	for _, f := range r.filters {
		out = append(out, f)
	}
	return out
}

// HandleSubscribersInitialize drains the set of addresses awaiting
// initialization, running Initialize concurrently for each. A subscriber
// that succeeds has its initializedAt and lastSeen set to block; one that
// fails is reinserted into the pending set for the next attempt.
func (r *Registry) HandleSubscribersInitialize(ctx context.Context, block domain.Block) {
	r.mu.Lock()
	pending := make([]string, 0, len(r.waitingInit))
	for addr := range r.waitingInit {
		pending = append(pending, addr)
	}
	r.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	results := make([]bool, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range pending {
		i, addr := i, addr
		sub := r.subscriberFor(addr)
		if sub == nil {
			continue
		}
		id := r.SubscriptionID(addr)
		g.Go(func() error {
			if err := sub.Initialize(gctx, block); err != nil {
				r.log.Warn("subscription registry: initialize failed, will retry",
					"address", addr, "subscription_id", id, "block", block.Number, "error", err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, addr := range pending {
		if results[i] {
			delete(r.waitingInit, addr)
			r.initializedAt[addr] = block
			r.lastSeen[addr] = block
		}
	}
}

// ApplyLogs dispatches each log to the subscriber registered for its
// canonicalized address, serially, preserving per-subscriber causality.
func (r *Registry) ApplyLogs(ctx context.Context, logs []domain.Log) {
	for _, l := range logs {
		addr := domain.ChecksumAddress(l.Address)
		sub := r.subscriberFor(addr)
		if sub == nil {
			continue
		}
		sub.HandleLog(ctx, l)
		metrics.LogsDelivered.Inc()

		r.mu.Lock()
		if last, ok := r.lastSeen[addr]; !ok || l.BlockNumber > last.Number {
			r.lastSeen[addr] = domain.Block{Number: l.BlockNumber, Hash: l.BlockHash}
		}
		r.mu.Unlock()
	}
}

// RollbackSubscribers informs every subscriber affected by a rollback to
// target. A subscriber whose own anchor was reorged away is rescheduled
// for re-initialization rather than rolled back.
func (r *Registry) RollbackSubscribers(target domain.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for addr, sub := range r.subscribers {
		anchor, hasAnchor := r.initializedAt[addr]
		switch {
		case hasAnchor && anchor.Number > target.Number:
			delete(r.initializedAt, addr)
			delete(r.lastSeen, addr)
			r.waitingInit[addr] = struct{}{}
		case r.lastSeen[addr].Number > target.Number:
			sub.Rollback(target)
			metrics.SubscriberRollbacks.Inc()
			r.lastSeen[addr] = target
			r.log.Info("subscription registry: rolled back",
				"address", addr, "subscription_id", r.subscriptionID[addr], "target", target.Number)
		}
	}
}

// Count returns the number of active subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

func (r *Registry) subscriberFor(addr string) domain.Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribers[addr]
}
