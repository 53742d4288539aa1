package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/chainflux/logwatch/internal/core/config"
	"github.com/chainflux/logwatch/internal/core/domain"
)

type fakeBackend struct {
	blocks map[uint64]domain.Block
	logs   []domain.Log
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{blocks: make(map[uint64]domain.Block)}
}

func (f *fakeBackend) setBlock(b domain.Block) { f.blocks[b.Number] = b }

func (f *fakeBackend) GetBlock(ctx context.Context, number uint64) (domain.Block, error) {
	b, ok := f.blocks[number]
	if !ok {
		return domain.Block{}, domain.NewError(domain.KindBlockNotFound, nil)
	}
	return b, nil
}

func (f *fakeBackend) BatchGetBlocks(ctx context.Context, from, to uint64) ([]domain.Block, error) {
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
	var out []domain.Log
	for _, l := range f.logs {
		if l.BlockNumber > fromExclusive && l.BlockNumber <= toInclusive {
			out = append(out, l)
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCfg(maxCached, batch int) config.Engine {
	return config.Engine{
		MaxBlockCached:       maxCached,
		BatchSize:            batch,
		MaxRetryGetBlock:     2,
		RetryDelayGetBlockMs: 0,
		MaxRetryGetLogs:      2,
		RetryDelayGetLogsMs:  0,
	}
}

func blk(n uint64, hash, parent byte) domain.Block {
	b := domain.Block{Number: n}
	b.Hash[0] = hash
	b.ParentHash[0] = parent
	return b
}

type countingBackend struct {
	*fakeBackend
	getLogsCalls int
}

func (c *countingBackend) GetLogs(ctx context.Context, fromExclusive, toInclusive uint64, addrs []domain.AddressAndTopics) ([]domain.Log, error) {
	c.getLogsCalls++
	return c.fakeBackend.GetLogs(ctx, fromExclusive, toInclusive, addrs)
}

type trackingSubscriber struct {
	handled    []domain.Log
	rolledBack []domain.Block
}

func (s *trackingSubscriber) Initialize(ctx context.Context, anchor domain.Block) error { return nil }
func (s *trackingSubscriber) HandleLog(ctx context.Context, log domain.Log) {
	s.handled = append(s.handled, log)
}
func (s *trackingSubscriber) Rollback(target domain.Block) {
	s.rolledBack = append(s.rolledBack, target)
}

func TestLinearAdvance(t *testing.T) {
	backend := &countingBackend{fakeBackend: newFakeBackend()}
	backend.setBlock(blk(100, 0xA0, 0x00))
	backend.setBlock(blk(101, 0xB0, 0xA0))
	backend.setBlock(blk(102, 0xC0, 0xB0))

	e, err := New(backend, testCfg(5, 5), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	e.Initialize(blk(100, 0xA0, 0x00))

	sub := &trackingSubscriber{}
	e.SubscribeToLogs(context.Background(), domain.AddressAndTopics{Address: "0xabc"}, sub)

	if _, err := e.HandleBlock(context.Background(), blk(101, 0xB0, 0xA0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.HandleBlock(context.Background(), blk(102, 0xC0, 0xB0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if backend.getLogsCalls != 2 {
		t.Fatalf("expected 2 getLogs calls, got %d", backend.getLogsCalls)
	}
	if head := e.Head(); head.Number != 102 {
		t.Fatalf("expected head 102, got %d", head.Number)
	}
}

func TestOneBlockReorg(t *testing.T) {
	backend := newFakeBackend()
	backend.setBlock(blk(100, 0xA0, 0x00))
	backend.setBlock(blk(101, 0xB0, 0xA0))
	backend.setBlock(blk(102, 0xC0, 0xB0))
	backend.logs = []domain.Log{
		{BlockNumber: 101, BlockHash: blk(101, 0xB0, 0xA0).Hash, Address: "0xabc"},
	}

	e, _ := New(backend, testCfg(5, 5), testLogger())
	e.Initialize(blk(100, 0xA0, 0x00))

	sub := &trackingSubscriber{}
	e.SubscribeToLogs(context.Background(), domain.AddressAndTopics{Address: "0xabc"}, sub)

	if _, err := e.HandleBlock(context.Background(), blk(101, 0xB0, 0xA0)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleBlock(context.Background(), blk(102, 0xC0, 0xB0)); err != nil {
		t.Fatal(err)
	}

	// Remote forks at 101: the new canonical chain is 101',102',103', and
	// the next header to arrive extends the forked tail past the old head.
	backend.setBlock(blk(101, 0xB1, 0xA0))
	backend.setBlock(blk(102, 0xC1, 0xB1))
	backend.setBlock(blk(103, 0xD1, 0xC1))

	outcome, err := e.HandleBlock(context.Background(), blk(103, 0xD1, 0xC1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Rollback == nil || outcome.Rollback.Number != 100 {
		t.Fatalf("expected rollback to 100, got %+v", outcome.Rollback)
	}
	if len(sub.rolledBack) != 1 || sub.rolledBack[0].Number != 100 {
		t.Fatalf("expected subscriber rollback to 100, got %+v", sub.rolledBack)
	}
	if head := e.Head(); head.Number != 103 {
		t.Fatalf("expected head 103 after repair, got %d", head.Number)
	}
}

func TestDeepReorgBeyondCacheReanchors(t *testing.T) {
	backend := newFakeBackend()
	backend.setBlock(blk(102, 0x02, 0x01))
	backend.setBlock(blk(103, 0x03, 0x02))
	backend.setBlock(blk(104, 0x04, 0x03))
	backend.setBlock(blk(105, 0x05, 0x04))

	e, _ := New(backend, testCfg(3, 3), testLogger())
	e.Initialize(blk(103, 0x03, 0x02))
	e.cache.Append(blk(104, 0x04, 0x03))
	e.cache.Append(blk(105, 0x05, 0x04))

	sub := &trackingSubscriber{}
	e.SubscribeToLogs(context.Background(), domain.AddressAndTopics{Address: "0xabc"}, sub)

	// RPC now shows every cached hash back to 103 as different.
	backend.setBlock(blk(102, 0xF2, 0xF1))
	backend.setBlock(blk(103, 0xF3, 0xF2))
	backend.setBlock(blk(104, 0xF4, 0xF3))
	backend.setBlock(blk(105, 0xF5, 0xF4))

	newBlock := blk(106, 0xF6, 0xF5)
	outcome, err := e.HandleBlock(context.Background(), newBlock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Rollback == nil || outcome.Rollback.Number != 106 {
		t.Fatalf("expected rollback=newBlock(106), got %+v", outcome.Rollback)
	}
	if head := e.Head(); head.Number != 106 {
		t.Fatalf("expected head re-anchored at 106, got %d", head.Number)
	}
}

func TestGapFill(t *testing.T) {
	backend := &countingBackend{fakeBackend: newFakeBackend()}
	backend.setBlock(blk(100, 0xA0, 0x00))
	backend.setBlock(blk(101, 0xB0, 0xA0))
	backend.setBlock(blk(102, 0xC0, 0xB0))
	backend.setBlock(blk(103, 0xD0, 0xC0))
	backend.setBlock(blk(104, 0xE0, 0xD0))
	backend.setBlock(blk(105, 0xF0, 0xE0))

	e, _ := New(backend, testCfg(10, 10), testLogger())
	e.Initialize(blk(100, 0xA0, 0x00))

	sub := &trackingSubscriber{}
	e.SubscribeToLogs(context.Background(), domain.AddressAndTopics{Address: "0xabc"}, sub)

	outcome, err := e.HandleBlock(context.Background(), blk(105, 0xF0, 0xE0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Rollback != nil {
		t.Fatalf("expected no rollback, got %+v", outcome.Rollback)
	}
	if head := e.Head(); head.Number != 105 {
		t.Fatalf("expected head 105 after gap fill, got %d", head.Number)
	}
	if backend.getLogsCalls != 1 {
		t.Fatalf("expected 1 getLogs call, got %d", backend.getLogsCalls)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	backend := &countingBackend{fakeBackend: newFakeBackend()}
	backend.setBlock(blk(100, 0xA0, 0x00))
	backend.setBlock(blk(101, 0xB0, 0xA0))

	e, _ := New(backend, testCfg(5, 5), testLogger())
	e.Initialize(blk(100, 0xA0, 0x00))

	sub := &trackingSubscriber{}
	e.SubscribeToLogs(context.Background(), domain.AddressAndTopics{Address: "0xabc"}, sub)

	if _, err := e.HandleBlock(context.Background(), blk(101, 0xB0, 0xA0)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleBlock(context.Background(), blk(101, 0xB0, 0xA0)); err != nil {
		t.Fatal(err)
	}

	if backend.getLogsCalls != 1 {
		t.Fatalf("expected exactly 1 getLogs call across both deliveries, got %d", backend.getLogsCalls)
	}
}
