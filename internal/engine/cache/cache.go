// Package cache implements the chain-tail cache: a bounded, ordered map of
// recently canonical blocks keyed by number, with parent-hash chaining
// enforced on insert.
//
// Grounded on the teacher's TTL-guarded HeadCache
// (internal/indexing/throttle/head_cache.go) for the RWMutex-guarded-struct
// shape, and on the bounded-eviction idea in other_examples'
// draganm-reorgqueue and 0xsequence-ethkit's Chain.push/pop.
package cache

import (
	"fmt"
	"sync"

	"github.com/chainflux/logwatch/internal/core/domain"
)

// Cache is a bounded, ordered map of recent canonical blocks keyed by
// number. It holds a contiguous suffix of the canonical chain and never
// grows past maxBlockCached entries.
type Cache struct {
	mu             sync.Mutex
	blocks         map[uint64]domain.Block
	min, max       uint64
	maxBlockCached int
}

// New constructs an empty Cache. maxBlockCached must not exceed batchSize:
// the reorg resolver fetches one full batch per pass and must be able to
// scan the entire cache against it.
func New(maxBlockCached, batchSize int) (*Cache, error) {
	if maxBlockCached < 1 {
		return nil, fmt.Errorf("cache: maxBlockCached must be >= 1, got %d", maxBlockCached)
	}
	if maxBlockCached > batchSize {
		return nil, fmt.Errorf(
			"cache: maxBlockCached (%d) must be <= batchSize (%d)",
			maxBlockCached, batchSize,
		)
	}
	return &Cache{
		blocks:         make(map[uint64]domain.Block, maxBlockCached),
		maxBlockCached: maxBlockCached,
	}, nil
}

// Anchor resets the cache to hold exactly one entry: block. Used on first
// initialization and whenever a reorg is deeper than maxBlockCached forces
// a fresh start.
func (c *Cache) Anchor(block domain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = map[uint64]domain.Block{block.Number: block}
	c.min, c.max = block.Number, block.Number
}

// Append adds block as the new head. block.ParentHash must equal the
// current head's hash — a mismatch is a programmer error in the caller
// (the Block Ingest Engine is responsible for verifying continuity before
// ever calling Append) and Append panics rather than returning an error, so
// the bug surfaces immediately instead of silently corrupting the cache.
//
// Eviction fires after the insert: once size exceeds maxBlockCached, the
// numerically smallest entry is dropped.
func (c *Cache) Append(block domain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blocks) == 0 {
		panic("cache: Append called on an empty cache; call Anchor first")
	}

	head := c.blocks[c.max]
	if block.ParentHash != head.Hash {
		panic(fmt.Sprintf(
			"cache: Append invariant violated: new block %d parentHash %s != head %d hash %s",
			block.Number, block.ParentHash, head.Number, head.Hash,
		))
	}

	c.blocks[block.Number] = block
	if block.Number > c.max {
		c.max = block.Number
	}

	for len(c.blocks) > c.maxBlockCached {
		delete(c.blocks, c.min)
		c.min++
		for _, ok := c.blocks[c.min]; !ok && c.min < c.max; _, ok = c.blocks[c.min] {
			c.min++
		}
	}
}

// TruncateAbove drops every entry with a number greater than n. Used by the
// Block Ingest Engine's reorg path to unwind the cache to the common
// ancestor before repairing it forward along the new canonical chain.
func (c *Cache) TruncateAbove(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for num := range c.blocks {
		if num > n {
			delete(c.blocks, num)
		}
	}
	c.max = n
	for c.min < c.max {
		if _, ok := c.blocks[c.min]; ok {
			break
		}
		c.min++
	}
}

// Get returns the cached block at n, if present.
func (c *Cache) Get(n uint64) (domain.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[n]
	return b, ok
}

// Head returns the entry with the maximum number — the cache's current
// view of the chain tip.
func (c *Cache) Head() domain.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[c.max]
}

// Size returns the number of cached blocks.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Oldest returns the numerically smallest cached block number. The reorg
// resolver walks from Head() down to at most this depth.
func (c *Cache) Oldest() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.min
}
