// Package logs implements the log fetcher: queries the backend for logs
// over a block range, verifying each log's reported block hash against the
// cache so a fork that surfaces mid-query is caught before it reaches a
// subscriber.
package logs

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chainflux/logwatch/internal/core/config"
	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/cache"
	"github.com/chainflux/logwatch/internal/engine/reorg"
)

// suppressedSubstrings mark RPC error strings that are expected during a
// reorg window and must not warn at the usual severity.
var suppressedSubstrings = []string{
	"not processed yet",
	"cannot be found",
}

// Result is the outcome of a Query: the ordered logs plus, if a mid-query
// reorg was detected and resolved, the common ancestor subscribers must be
// rolled back to.
type Result struct {
	Logs           []domain.Log
	CommonAncestor *domain.Block
}

// Fetcher queries logs for the currently subscribed addresses and repairs
// the cache transparently when a fork surfaces mid-query.
type Fetcher struct {
	backend   domain.Backend
	cache     *cache.Cache
	resolver  *reorg.Resolver
	repairer  *reorg.Repairer
	cfg       config.Engine
	log       *slog.Logger
	addresses func() []domain.AddressAndTopics
}

// New constructs a Fetcher. addresses is called fresh on every query so
// the fetcher always sees the registry's current subscription set.
func New(
	backend domain.Backend,
	c *cache.Cache,
	resolver *reorg.Resolver,
	repairer *reorg.Repairer,
	cfg config.Engine,
	log *slog.Logger,
	addresses func() []domain.AddressAndTopics,
) *Fetcher {
	return &Fetcher{
		backend:   backend,
		cache:     c,
		resolver:  resolver,
		repairer:  repairer,
		cfg:       cfg,
		log:       log,
		addresses: addresses,
	}
}

// Query fetches logs in (from.Number, to.Number] for the currently
// subscribed addresses. If a returned log's BlockHash disagrees with the
// cache at that number, Query resolves the fork, re-chains the cache up to
// to, and retries from the resolved ancestor.
func (f *Fetcher) Query(ctx context.Context, from, to domain.Block) (Result, error) {
	addrs := f.addresses()
	if len(addrs) == 0 {
		return Result{}, nil
	}

	return f.queryFrom(ctx, from, to, nil)
}

func (f *Fetcher) queryFrom(ctx context.Context, from, to domain.Block, ancestor *domain.Block) (Result, error) {
	addrs := f.addresses()

	if !f.chunkBloomFor(from, to).mayContainAny(addrs) {
		return Result{}, nil
	}

	fetchCtx := ctx
	if f.cfg.GetLogsTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, f.cfg.GetLogsTimeout)
		defer cancel()
	}

	result, err := f.queryWithRetry(fetchCtx, from.Number, to.Number, addrs)
	if err != nil {
		return Result{}, err
	}

	for _, lg := range result {
		cached, ok := f.cache.Get(lg.BlockNumber)
		if !ok && lg.BlockNumber == to.Number {
			// The normal path queries the new block before appending it.
			cached, ok = to, true
		}
		if !ok {
			continue
		}
		if cached.Hash != lg.BlockHash {
			f.log.Warn("log fetcher: mid-query reorg detected", "blockNumber", lg.BlockNumber)

			resolved, err := f.resolver.FindCommonAncestor(ctx)
			if err != nil {
				return Result{}, err
			}
			f.cache.TruncateAbove(resolved.Number)
			if err := f.repairer.PopulateUntil(ctx, to); err != nil {
				return Result{}, err
			}

			deepest := resolved
			if ancestor != nil && ancestor.Number < deepest.Number {
				deepest = *ancestor
			}
			return f.queryFrom(ctx, resolved, to, &deepest)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Less(result[j]) })

	r := Result{Logs: result}
	if ancestor != nil {
		a := *ancestor
		r.CommonAncestor = &a
	}
	return r, nil
}

// chunkBloomFor folds the logs bloom of every block in (from.Number,
// to.Number] into one filter. to is passed in directly since callers may
// query it before it lands in the cache (the normal single-block path
// appends only after a successful fetch); every block strictly between
// from and to is expected to already be cached by the batch/reorg paths
// that populate the cache ahead of calling Query.
func (f *Fetcher) chunkBloomFor(from, to domain.Block) *chunkBloom {
	bloom := newChunkBloom()
	for n := from.Number + 1; n <= to.Number; n++ {
		if n == to.Number {
			bloom.fold(to)
			continue
		}
		blk, ok := f.cache.Get(n)
		if !ok {
			bloom.ok = false
			continue
		}
		bloom.fold(blk)
	}
	return bloom
}

func (f *Fetcher) queryWithRetry(ctx context.Context, from, to uint64, addrs []domain.AddressAndTopics) ([]domain.Log, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetryGetLogs; attempt++ {
		result, err := f.backend.GetLogs(ctx, from, to, addrs)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isSuppressed(err) {
			f.log.Warn("log fetcher: getLogs failed, retrying",
				"from", from, "to", to, "attempt", attempt, "error", err)
		}

		if attempt < f.cfg.MaxRetryGetLogs {
			sleep(ctx, time.Duration(f.cfg.RetryDelayGetLogsMs)*time.Millisecond)
		}
	}
	return nil, domain.NewError(domain.KindFailedFetchingLog, lastErr)
}

func isSuppressed(err error) bool {
	msg := err.Error()
	for _, s := range suppressedSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
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
