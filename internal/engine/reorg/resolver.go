// Package reorg implements the reorg resolver and chain repairer: the two
// collaborators that find where the cache and the remote canonical chain
// last agreed, and re-chain the cache forward from there.
//
// Grounded on the teacher's Detector.findSafePoint
// (internal/indexing/reorg/detector.go) for the backward-walk shape, adapted
// from a stored-block-repository lookup to a single batched RPC call, which
// cache.New's maxBlockCached <= batchSize check keeps wide enough to cover
// the whole cache.
package reorg

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainflux/logwatch/internal/core/config"
	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/cache"
)

// Resolver finds the deepest common ancestor between the cache and the
// remote canonical chain by one batched hash comparison.
type Resolver struct {
	backend domain.Backend
	cache   *cache.Cache
	cfg     config.Engine
	log     *slog.Logger
}

// NewResolver constructs a Resolver bound to backend and cache.
func NewResolver(backend domain.Backend, c *cache.Cache, cfg config.Engine, log *slog.Logger) *Resolver {
	return &Resolver{backend: backend, cache: c, cfg: cfg, log: log}
}

// FindCommonAncestor walks the cache from its head downward, comparing each
// entry's hash against one batched RPC fetch covering the same range.
// Returns a *domain.EngineError of KindNoCommonAncestorFoundInCache if no
// match lies within the cache's retained depth, or KindFailedGetBlock if
// the batch fetch itself never succeeds.
func (r *Resolver) FindCommonAncestor(ctx context.Context) (domain.Block, error) {
	size := r.cache.Size()
	if size <= 1 {
		return domain.Block{}, domain.NewError(domain.KindNoCommonAncestorFoundInCache, nil)
	}

	head := r.cache.Head()
	lower := uint64(0)
	if head.Number > uint64(r.cfg.BatchSize) {
		lower = head.Number - uint64(r.cfg.BatchSize)
	}
	// Nothing below the cache's oldest retained entry can ever match, so
	// never ask the backend for a range wider than what the cache holds.
	if oldest := r.cache.Oldest(); lower < oldest {
		lower = oldest
	}

	remote, err := r.fetchWithRetry(ctx, lower, head.Number)
	if err != nil {
		return domain.Block{}, err
	}

	byNumber := make(map[uint64]domain.Block, len(remote))
	for _, b := range remote {
		byNumber[b.Number] = b
	}

	for i := 0; i < size; i++ {
		if head.Number < uint64(i) {
			break
		}
		n := head.Number - uint64(i)
		local, ok := r.cache.Get(n)
		if !ok {
			continue
		}
		rb, ok := byNumber[n]
		if !ok {
			continue
		}
		if local.Hash == rb.Hash {
			return local, nil
		}
	}

	return domain.Block{}, domain.NewError(domain.KindNoCommonAncestorFoundInCache, nil)
}

func (r *Resolver) fetchWithRetry(ctx context.Context, from, to uint64) ([]domain.Block, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetryGetBlock; attempt++ {
		blocks, err := r.backend.BatchGetBlocks(ctx, from, to)
		if err == nil {
			return blocks, nil
		}
		lastErr = err
		r.log.Warn("reorg resolver: batch fetch failed, retrying",
			"from", from, "to", to, "attempt", attempt, "error", err)

		if attempt < r.cfg.MaxRetryGetBlock {
			sleep(ctx, time.Duration(r.cfg.RetryDelayGetBlockMs)*time.Millisecond)
		}
	}
	return nil, domain.NewError(domain.KindFailedGetBlock, lastErr)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
