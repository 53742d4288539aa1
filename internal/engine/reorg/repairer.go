package reorg

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainflux/logwatch/internal/core/config"
	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/cache"
)

// Repairer fetches and chains blocks between the cache's head and a new
// target, verifying parent-hash continuity at every step.
type Repairer struct {
	backend domain.Backend
	cache   *cache.Cache
	cfg     config.Engine
	log     *slog.Logger
}

// NewRepairer constructs a Repairer bound to backend and cache.
func NewRepairer(backend domain.Backend, c *cache.Cache, cfg config.Engine, log *slog.Logger) *Repairer {
	return &Repairer{backend: backend, cache: c, cfg: cfg, log: log}
}

// PopulateUntil fetches [head+1, target.Number] and appends each block to
// the cache in order. target carries the externally announced hash for the
// zero-hash repair edge case: some batched fetchers return an empty hash in
// the final slot for the chain's current head.
//
// A parent-hash mismatch at any step means the RPC returned an
// already-reorged tail; PopulateUntil sleeps RetryDelayGetBlockMs and
// re-fetches the whole range, up to MaxRetryGetBlock times.
func (r *Repairer) PopulateUntil(ctx context.Context, target domain.Block) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetryGetBlock; attempt++ {
		err := r.attemptPopulate(ctx, target)
		if err == nil {
			return nil
		}
		lastErr = err
		r.log.Warn("chain repairer: populate attempt failed, retrying",
			"target", target.Number, "attempt", attempt, "error", err)

		if attempt < r.cfg.MaxRetryGetBlock {
			sleep(ctx, time.Duration(r.cfg.RetryDelayGetBlockMs)*time.Millisecond)
		}
	}
	return domain.NewError(domain.KindMaxRetryReach, lastErr)
}

func (r *Repairer) attemptPopulate(ctx context.Context, target domain.Block) error {
	head := r.cache.Head()
	if target.Number <= head.Number {
		return nil
	}

	blocks, err := r.backend.BatchGetBlocks(ctx, head.Number+1, target.Number)
	if err != nil {
		return domain.NewError(domain.KindBlockNotFound, err)
	}
	if len(blocks) == 0 {
		return domain.NewError(domain.KindBlockNotFound, nil)
	}

	if last := &blocks[len(blocks)-1]; last.Hash.IsZero() && last.Number == target.Number {
		last.Hash = target.Hash
	}

	prevHash := head.Hash
	for _, b := range blocks {
		if b.ParentHash != prevHash {
			return domain.NewError(domain.KindBlockNotFound, nil)
		}
		prevHash = b.Hash
	}
	for _, b := range blocks {
		r.cache.Append(b)
	}

	return nil
}
