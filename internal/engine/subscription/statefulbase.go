package subscription

import (
	"context"
	"sync"

	"github.com/chainflux/logwatch/internal/core/domain"
)

// StateHandler derives the next per-block state from the previous snapshot
// and an incoming log.
type StateHandler[T any] func(state T, log domain.Log) T

// StatefulBase is an optional helper for subscribers whose handlers derive
// a per-block snapshot. It keeps one snapshot per block number, seeding a
// new block's snapshot by deep-copying the previous one, and discards
// snapshots above a rollback target.
type StatefulBase[T any] struct {
	mu       sync.Mutex
	snapshots map[uint64]T
	lastSeen  domain.Block
	copyFn    func(T) T
	handle    StateHandler[T]
}

// NewStatefulBase constructs a StatefulBase anchored at anchor, with initial
// as the anchor block's state. copyFn must return an independent deep copy of T;
// handle derives the next state from a snapshot and an incoming log.
func NewStatefulBase[T any](anchor domain.Block, initial T, copyFn func(T) T, handle StateHandler[T]) *StatefulBase[T] {
	s := &StatefulBase[T]{
		snapshots: make(map[uint64]T),
		lastSeen:  anchor,
		copyFn:    copyFn,
		handle:    handle,
	}
	s.snapshots[anchor.Number] = initial
	return s
}

// HandleLog implements the per-block-snapshot half of a stateful
// subscriber: it lazily seeds the snapshot for log.BlockNumber from the
// most recent prior snapshot, advances lastSeen, and delegates state
// derivation to the configured handler.
func (s *StatefulBase[T]) HandleLog(_ context.Context, log domain.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.snapshots[log.BlockNumber]; !ok {
		prev := s.snapshots[s.lastSeen.Number]
		s.snapshots[log.BlockNumber] = s.copyFn(prev)
	}
	if log.BlockNumber > s.lastSeen.Number {
		s.lastSeen = domain.Block{Number: log.BlockNumber, Hash: log.BlockHash}
	}

	s.snapshots[log.BlockNumber] = s.handle(s.snapshots[log.BlockNumber], log)
}

// Rollback deletes every snapshot strictly above block.Number and resets
// lastSeen to block.
func (s *StatefulBase[T]) Rollback(block domain.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n := range s.snapshots {
		if n > block.Number && n <= s.lastSeen.Number {
			delete(s.snapshots, n)
		}
	}
	s.lastSeen = block
}

// StateAt returns the snapshot at blockNumber, if one exists.
func (s *StatefulBase[T]) StateAt(blockNumber uint64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snapshots[blockNumber]
	return v, ok
}

// LastSeen returns the block most recently observed by HandleLog.
func (s *StatefulBase[T]) LastSeen() domain.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
