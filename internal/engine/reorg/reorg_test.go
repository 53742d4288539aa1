package reorg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/chainflux/logwatch/internal/core/config"
	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/cache"
)

// fakeBackend is an in-memory stand-in for domain.Backend keyed by block
// number, used by this package's resolver and repairer tests.
type fakeBackend struct {
	blocks      map[uint64]domain.Block
	failUntil   int
	calls       int
	forceErr    error
}

func newFakeBackend(chain ...domain.Block) *fakeBackend {
	b := &fakeBackend{blocks: make(map[uint64]domain.Block)}
	for _, blk := range chain {
		b.blocks[blk.Number] = blk
	}
	return b
}

func (f *fakeBackend) GetBlock(ctx context.Context, number uint64) (domain.Block, error) {
	b, ok := f.blocks[number]
	if !ok {
		return domain.Block{}, domain.NewError(domain.KindBlockNotFound, nil)
	}
	return b, nil
}

func (f *fakeBackend) BatchGetBlocks(ctx context.Context, from, to uint64) ([]domain.Block, error) {
	f.calls++
	if f.forceErr != nil && f.calls <= f.failUntil {
		return nil, f.forceErr
	}
	out := make([]domain.Block, 0, to-from+1)
	for n := from; n <= to; n++ {
		b, ok := f.blocks[n]
		if !ok {
			return nil, domain.NewError(domain.KindBlockNotFound, nil)
		}
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeBackend) GetLogs(ctx context.Context, fromExclusive, toInclusive uint64, addrs []domain.AddressAndTopics) ([]domain.Log, error) {
	return nil, nil
}

func mustBlock(n uint64, hash, parent byte) domain.Block {
	b := domain.Block{Number: n}
	b.Hash[0] = hash
	b.ParentHash[0] = parent
	return b
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngineConfig() config.Engine {
	return config.Engine{
		MaxBlockCached:       5,
		BatchSize:            5,
		MaxRetryGetBlock:     2,
		RetryDelayGetBlockMs: 0,
	}
}

func TestFindCommonAncestor_SizeOneIsNoAncestor(t *testing.T) {
	c, _ := cache.New(5, 5)
	c.Anchor(mustBlock(100, 0xA0, 0x00))

	r := NewResolver(newFakeBackend(), c, testEngineConfig(), testLogger())
	_, err := r.FindCommonAncestor(context.Background())
	if !domain.Is(err, domain.KindNoCommonAncestorFoundInCache) {
		t.Fatalf("expected KindNoCommonAncestorFoundInCache, got %v", err)
	}
}

func TestFindCommonAncestor_FindsMatchAtHead(t *testing.T) {
	c, _ := cache.New(5, 5)
	c.Anchor(mustBlock(100, 0xA0, 0x00))
	c.Append(mustBlock(101, 0xB0, 0xA0))
	c.Append(mustBlock(102, 0xC0, 0xB0))

	remote := newFakeBackend(
		mustBlock(98, 0x98, 0x00),
		mustBlock(99, 0x99, 0x98),
		mustBlock(100, 0xA0, 0x99),
		mustBlock(101, 0xB0, 0xA0),
		mustBlock(102, 0xC0, 0xB0),
	)

	r := NewResolver(remote, c, testEngineConfig(), testLogger())
	ancestor, err := r.FindCommonAncestor(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ancestor.Number != 102 {
		t.Fatalf("expected ancestor 102, got %d", ancestor.Number)
	}
}

func TestFindCommonAncestor_FindsDeeperMatchOnFork(t *testing.T) {
	c, _ := cache.New(5, 5)
	c.Anchor(mustBlock(100, 0xA0, 0x00))
	c.Append(mustBlock(101, 0xB0, 0xA0))
	c.Append(mustBlock(102, 0xC0, 0xB0))

	remote := newFakeBackend(
		mustBlock(98, 0x98, 0x00),
		mustBlock(99, 0x99, 0x98),
		mustBlock(100, 0xA0, 0x99),
		mustBlock(101, 0xB1, 0xA0), // forked at 101
		mustBlock(102, 0xC1, 0xB1),
	)

	r := NewResolver(remote, c, testEngineConfig(), testLogger())
	ancestor, err := r.FindCommonAncestor(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ancestor.Number != 100 {
		t.Fatalf("expected ancestor 100, got %d", ancestor.Number)
	}
}

func TestFindCommonAncestor_NoneFoundWithinDepth(t *testing.T) {
	c, _ := cache.New(3, 3)
	c.Anchor(mustBlock(100, 0xA0, 0x00))
	c.Append(mustBlock(101, 0xB0, 0xA0))
	c.Append(mustBlock(102, 0xC0, 0xB0))

	remote := newFakeBackend(
		mustBlock(100, 0xAF, 0x00),
		mustBlock(101, 0xBF, 0xAF),
		mustBlock(102, 0xCF, 0xBF),
	)

	r := NewResolver(remote, c, testEngineConfig(), testLogger())
	_, err := r.FindCommonAncestor(context.Background())
	if !domain.Is(err, domain.KindNoCommonAncestorFoundInCache) {
		t.Fatalf("expected KindNoCommonAncestorFoundInCache, got %v", err)
	}
}

func TestFindCommonAncestor_RetriesThenFails(t *testing.T) {
	c, _ := cache.New(3, 3)
	c.Anchor(mustBlock(100, 0xA0, 0x00))
	c.Append(mustBlock(101, 0xB0, 0xA0))

	remote := newFakeBackend()
	remote.forceErr = errors.New("rpc unavailable")
	remote.failUntil = 99

	r := NewResolver(remote, c, testEngineConfig(), testLogger())
	_, err := r.FindCommonAncestor(context.Background())
	if !domain.Is(err, domain.KindFailedGetBlock) {
		t.Fatalf("expected KindFailedGetBlock, got %v", err)
	}
	if remote.calls != testEngineConfig().MaxRetryGetBlock+1 {
		t.Fatalf("expected %d attempts, got %d", testEngineConfig().MaxRetryGetBlock+1, remote.calls)
	}
}

func TestPopulateUntil_ChainsForward(t *testing.T) {
	c, _ := cache.New(10, 10)
	c.Anchor(mustBlock(100, 0xA0, 0x00))

	remote := newFakeBackend(
		mustBlock(101, 0xB0, 0xA0),
		mustBlock(102, 0xC0, 0xB0),
		mustBlock(103, 0xD0, 0xC0),
	)

	rep := NewRepairer(remote, c, testEngineConfig(), testLogger())
	target := mustBlock(103, 0xD0, 0xC0)
	if err := rep.PopulateUntil(context.Background(), target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head := c.Head(); head.Number != 103 || head.Hash != target.Hash {
		t.Fatalf("expected head 103/%s, got %d/%s", target.Hash, head.Number, head.Hash)
	}
}

func TestPopulateUntil_RepairsZeroHashOnFinalEntry(t *testing.T) {
	c, _ := cache.New(10, 10)
	c.Anchor(mustBlock(100, 0xA0, 0x00))

	last := domain.Block{Number: 101, ParentHash: mustBlock(100, 0xA0, 0x00).Hash}
	// last.Hash left zero on purpose, simulating the tolerated empty-hash slot.
	remote := newFakeBackend(last)

	rep := NewRepairer(remote, c, testEngineConfig(), testLogger())
	announced := mustBlock(101, 0xE0, 0x00)
	if err := rep.PopulateUntil(context.Background(), announced); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head := c.Head(); head.Hash != announced.Hash {
		t.Fatalf("expected zero hash repaired to %s, got %s", announced.Hash, head.Hash)
	}
}

func TestPopulateUntil_FailsOnParentHashMismatch(t *testing.T) {
	c, _ := cache.New(10, 10)
	c.Anchor(mustBlock(100, 0xA0, 0x00))

	remote := newFakeBackend(
		mustBlock(101, 0xB0, 0xFF), // wrong parent hash
	)

	rep := NewRepairer(remote, c, testEngineConfig(), testLogger())
	err := rep.PopulateUntil(context.Background(), mustBlock(101, 0xB0, 0xFF))
	if !domain.Is(err, domain.KindMaxRetryReach) {
		t.Fatalf("expected KindMaxRetryReach, got %v", err)
	}
}
