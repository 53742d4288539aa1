// Package ingest implements the block ingest engine: the state machine
// that classifies each incoming header, drives the reorg resolver and
// chain repairer when needed, fetches logs, and dispatches them to
// subscribers.
//
// Grounded on the teacher's indexer.Pipeline
// (internal/indexing/indexer/pipeline.go) for the classify-then-dispatch
// shape of processNextBlock, generalized from a single linear cursor to
// the cache-backed classification this engine needs.
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chainflux/logwatch/internal/core/config"
	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/cache"
	"github.com/chainflux/logwatch/internal/engine/logs"
	"github.com/chainflux/logwatch/internal/engine/metrics"
	"github.com/chainflux/logwatch/internal/engine/reorg"
	"github.com/chainflux/logwatch/internal/engine/subscription"
)

// PostBlockHook is invoked once per successfully handled block, after logs
// have been dispatched to subscribers.
type PostBlockHook func(ctx context.Context, block domain.Block, appliedLogs []domain.Log)

// DeadLetterSink records a [from, to] range the engine could not recover
// after exhausting its retry budget, for out-of-band inspection or replay.
type DeadLetterSink interface {
	Push(ctx context.Context, from, to uint64, reason error) error
}

// AuditSink records a detected reorg for durable, out-of-band inspection.
type AuditSink interface {
	RecordReorg(ctx context.Context, oldHead, ancestor, newHead uint64) error
}

// Outcome is the result of handling one header: the logs delivered, and,
// if non-nil, the block subscribers must be considered rolled back to.
type Outcome struct {
	Logs     []domain.Log
	Rollback *domain.Block
}

// Engine is the block ingest state machine. All mutation of the cache and
// registry happens while mu is held, so at most one header is ever being
// handled at a time regardless of how many producers call HandleBlock.
type Engine struct {
	mu sync.Mutex

	backend  domain.Backend
	cache    *cache.Cache
	resolver *reorg.Resolver
	repairer *reorg.Repairer
	fetcher  *logs.Fetcher
	registry *subscription.Registry
	cfg      config.Engine
	log      *slog.Logger

	hooks      []PostBlockHook
	deadLetter DeadLetterSink
	audit      AuditSink
}

// RegisterDeadLetterSink wires sink to receive ranges the engine gives up
// retrying. Passing nil disables dead-lettering, the default.
func (e *Engine) RegisterDeadLetterSink(sink DeadLetterSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deadLetter = sink
}

// RegisterAuditSink wires sink to receive a record of every detected
// reorg. Passing nil disables audit recording, the default.
func (e *Engine) RegisterAuditSink(sink AuditSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audit = sink
}

func (e *Engine) recordReorg(ctx context.Context, oldHead, ancestor, newHead uint64, outcome string) {
	metrics.ReorgsDetected.WithLabelValues(outcome).Inc()
	if oldHead > ancestor {
		metrics.ReorgDepth.Observe(float64(oldHead - ancestor))
	}

	if e.audit == nil {
		return
	}
	if err := e.audit.RecordReorg(ctx, oldHead, ancestor, newHead); err != nil {
		e.log.Warn("ingest engine: failed to record reorg audit event", "error", err)
	}
}

// New constructs an Engine wired to backend with cfg's tunables.
func New(backend domain.Backend, cfg config.Engine, log *slog.Logger) (*Engine, error) {
	c, err := cache.New(cfg.MaxBlockCached, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	registry := subscription.New(log)
	resolver := reorg.NewResolver(backend, c, cfg, log)
	repairer := reorg.NewRepairer(backend, c, cfg, log)
	fetcher := logs.New(backend, c, resolver, repairer, cfg, log, registry.Addresses)

	return &Engine{
		backend:  backend,
		cache:    c,
		resolver: resolver,
		repairer: repairer,
		fetcher:  fetcher,
		registry: registry,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Initialize anchors the engine at anchor, discarding any prior state.
func (e *Engine) Initialize(anchor domain.Block) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Anchor(anchor)
}

// Head returns the cache's current view of the chain tip.
func (e *Engine) Head() domain.Block {
	return e.cache.Head()
}

// SubscriberCount reports how many subscriptions are currently active, for
// health reporting.
func (e *Engine) SubscriberCount() int {
	return e.registry.Count()
}

// SubscribeToLogs registers subscriber for addressAndTopics and attempts to
// initialize it immediately against the current head.
func (e *Engine) SubscribeToLogs(ctx context.Context, addressAndTopics domain.AddressAndTopics, subscriber domain.Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry.SubscribeToLogs(ctx, addressAndTopics, subscriber, e.cache.Head())
}

// RegisterPostBlockHook appends hook to the set invoked after every
// successfully handled block.
func (e *Engine) RegisterPostBlockHook(hook PostBlockHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, hook)
}

// HandleBlock classifies newBlock and runs the corresponding path. It is
// safe to call concurrently; calls serialize on the engine's mutex so
// headers are always applied one at a time regardless of arrival order
// from independent producers.
func (e *Engine) HandleBlock(ctx context.Context, newBlock domain.Block) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	head := e.cache.Head()

	if cached, ok := e.cache.Get(newBlock.Number); ok && cached.Hash == newBlock.Hash {
		return Outcome{}, nil
	}

	var outcome Outcome
	var err error
	switch {
	case newBlock.Number > head.Number+1:
		outcome, err = e.batchPath(ctx, newBlock)
	case newBlock.Number == head.Number+1 && newBlock.ParentHash != head.Hash:
		outcome, err = e.reorgPath(ctx, newBlock)
	default:
		outcome, err = e.normalPath(ctx, newBlock)
	}

	if err != nil && e.deadLetter != nil {
		if domain.Is(err, domain.KindMaxRetryReach) || domain.Is(err, domain.KindFailedGetBlock) || domain.Is(err, domain.KindFailedFetchingLog) {
			from := head.Number + 1
			if from > newBlock.Number {
				from = newBlock.Number
			}
			if dlErr := e.deadLetter.Push(ctx, from, newBlock.Number, err); dlErr != nil {
				e.log.Warn("ingest engine: failed to dead-letter range", "from", from, "to", newBlock.Number, "error", dlErr)
			}
		}
	}
	return outcome, err
}

// reorgPath handles a head-adjacent fork: newBlock claims to extend head
// but its parent hash disagrees.
func (e *Engine) reorgPath(ctx context.Context, newBlock domain.Block) (Outcome, error) {
	oldHead := e.cache.Head()

	ancestor, err := e.resolver.FindCommonAncestor(ctx)
	if domain.Is(err, domain.KindNoCommonAncestorFoundInCache) {
		e.cache.Anchor(newBlock)
		e.registry.RollbackSubscribers(newBlock)
		e.recordReorg(ctx, oldHead.Number, newBlock.Number, newBlock.Number, "reanchor")
		return Outcome{Rollback: &newBlock}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	e.cache.TruncateAbove(ancestor.Number)
	if err := e.repairer.PopulateUntil(ctx, newBlock); err != nil {
		return Outcome{}, err
	}

	result, err := e.fetcher.Query(ctx, ancestor, newBlock)
	if err != nil {
		return Outcome{}, err
	}

	deepest := ancestor
	if result.CommonAncestor != nil && result.CommonAncestor.Number < deepest.Number {
		deepest = *result.CommonAncestor
	}

	e.recordReorg(ctx, oldHead.Number, deepest.Number, newBlock.Number, "resolved")
	e.registry.RollbackSubscribers(deepest)
	e.registry.ApplyLogs(ctx, result.Logs)
	e.registry.HandleSubscribersInitialize(ctx, newBlock)
	e.runHooks(ctx, newBlock, result.Logs)

	metrics.HeadNumber.Set(float64(e.cache.Head().Number))
	metrics.BlocksIngested.WithLabelValues("reorg").Inc()
	return Outcome{Logs: result.Logs, Rollback: &deepest}, nil
}

// normalPath handles the common case: newBlock extends head directly.
func (e *Engine) normalPath(ctx context.Context, newBlock domain.Block) (Outcome, error) {
	head := e.cache.Head()

	result, err := e.fetcher.Query(ctx, head, newBlock)
	if err != nil {
		return Outcome{}, err
	}

	var rollback *domain.Block
	if result.CommonAncestor != nil {
		e.recordReorg(ctx, head.Number, result.CommonAncestor.Number, newBlock.Number, "resolved")
		e.registry.RollbackSubscribers(*result.CommonAncestor)
		rollback = result.CommonAncestor
	} else {
		e.cache.Append(newBlock)
	}

	e.registry.ApplyLogs(ctx, result.Logs)
	e.registry.HandleSubscribersInitialize(ctx, newBlock)
	e.runHooks(ctx, newBlock, result.Logs)

	metrics.HeadNumber.Set(float64(e.cache.Head().Number))
	metrics.BlocksIngested.WithLabelValues("normal").Inc()
	return Outcome{Logs: result.Logs, Rollback: rollback}, nil
}

// batchPath walks from head+1 toward target in chunks of at most
// cfg.BatchSize, filling the gap and running logs against each chunk.
func (e *Engine) batchPath(ctx context.Context, target domain.Block) (Outcome, error) {
	var allLogs []domain.Log
	var deepestRollback *domain.Block

	for {
		head := e.cache.Head()
		if head.Number >= target.Number {
			break
		}

		from := head.Number + 1
		to := from + uint64(e.cfg.BatchSize) - 1
		if to > target.Number {
			to = target.Number
		}

		chunk, err := e.backend.BatchGetBlocks(ctx, from-1, to)
		for attempt := 1; err != nil && attempt <= e.cfg.MaxRetryGetBlock; attempt++ {
			sleep(ctx, time.Duration(e.cfg.RetryDelayGetBlockMs)*time.Millisecond)
			chunk, err = e.backend.BatchGetBlocks(ctx, from-1, to)
		}
		if err != nil {
			return Outcome{}, domain.NewError(domain.KindBlockNotFound, err)
		}
		if len(chunk) < 2 {
			return Outcome{}, domain.NewError(domain.KindBlockNotFound, nil)
		}
		parentEntry, chunkBlocks := chunk[0], chunk[1:]

		if last := &chunkBlocks[len(chunkBlocks)-1]; last.Hash.IsZero() && last.Number == target.Number {
			last.Hash = target.Hash
		}

		var toBlock domain.Block
		for _, b := range chunkBlocks {
			if b.Number == to {
				toBlock = b
			}
		}

		var chunkLogs []domain.Log

		if head.Hash != parentEntry.Hash {
			ancestor, err := e.resolver.FindCommonAncestor(ctx)
			if domain.Is(err, domain.KindNoCommonAncestorFoundInCache) {
				e.cache.Anchor(target)
				e.registry.RollbackSubscribers(target)
				e.recordReorg(ctx, head.Number, target.Number, target.Number, "reanchor")
				return Outcome{Logs: allLogs, Rollback: &target}, nil
			}
			if err != nil {
				return Outcome{}, err
			}

			e.cache.TruncateAbove(ancestor.Number)
			if err := e.repairer.PopulateUntil(ctx, toBlock); err != nil {
				return Outcome{}, err
			}

			result, err := e.fetcher.Query(ctx, ancestor, toBlock)
			if err != nil {
				return Outcome{}, err
			}

			deepest := ancestor
			if result.CommonAncestor != nil && result.CommonAncestor.Number < deepest.Number {
				deepest = *result.CommonAncestor
			}
			e.recordReorg(ctx, head.Number, deepest.Number, toBlock.Number, "resolved")
			e.registry.RollbackSubscribers(deepest)
			deepestRollback = &deepest
			chunkLogs = result.Logs
			metrics.BlocksIngested.WithLabelValues("batch-reorg").Inc()
		} else {
			for _, b := range chunkBlocks {
				e.cache.Append(b)
			}

			result, err := e.fetcher.Query(ctx, head, toBlock)
			if err != nil {
				return Outcome{}, err
			}
			if result.CommonAncestor != nil {
				e.recordReorg(ctx, head.Number, result.CommonAncestor.Number, toBlock.Number, "resolved")
				e.registry.RollbackSubscribers(*result.CommonAncestor)
				deepestRollback = result.CommonAncestor
			}
			chunkLogs = result.Logs
			metrics.BlocksIngested.WithLabelValues("batch").Inc()
		}

		e.registry.ApplyLogs(ctx, chunkLogs)
		e.registry.HandleSubscribersInitialize(ctx, toBlock)
		allLogs = append(allLogs, chunkLogs...)
		metrics.HeadNumber.Set(float64(e.cache.Head().Number))

		if e.cache.Head().Number < target.Number && e.cfg.InterChunkDelayMs > 0 {
			sleep(ctx, time.Duration(e.cfg.InterChunkDelayMs)*time.Millisecond)
		}
	}

	e.runHooks(ctx, target, allLogs)
	return Outcome{Logs: allLogs, Rollback: deepestRollback}, nil
}

func (e *Engine) runHooks(ctx context.Context, block domain.Block, appliedLogs []domain.Log) {
	for _, h := range e.hooks {
		h(ctx, block, appliedLogs)
	}
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
