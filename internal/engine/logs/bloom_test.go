package logs

import (
	"context"
	"testing"

	"github.com/chainflux/logwatch/internal/core/domain"
	"github.com/chainflux/logwatch/internal/engine/cache"
	"github.com/chainflux/logwatch/internal/engine/reorg"
)

const (
	subscribedAddr = "0x00000000000000000000000000000000000abc"
	otherAddr      = "0x0000000000000000000000000000000000dead"
)

func bloomBlock(n uint64, hash, parent byte, addrs ...string) domain.Block {
	b := blk(n, hash, parent)
	for _, a := range addrs {
		if err := AddAddress(&b.LogsBloom, a); err != nil {
			panic(err)
		}
	}
	b.HasLogsBloom = true
	return b
}

func TestQuery_SkipsGetLogsWhenBloomExcludesAddress(t *testing.T) {
	c, _ := cache.New(5, 5)
	c.Anchor(bloomBlock(100, 0xA0, 0x00, otherAddr))
	toBlock := bloomBlock(101, 0xB0, 0xA0, otherAddr)

	backend := &fakeLogBackend{
		blocks: map[uint64]domain.Block{100: c.Head(), 101: toBlock},
		logs:   []domain.Log{{BlockNumber: 101, BlockHash: toBlock.Hash}},
	}
	resolver := reorg.NewResolver(backend, c, testCfg(), testLogger())
	repairer := reorg.NewRepairer(backend, c, testCfg(), testLogger())

	f := New(backend, c, resolver, repairer, testCfg(), testLogger(), func() []domain.AddressAndTopics {
		return []domain.AddressAndTopics{{Address: subscribedAddr}}
	})

	res, err := f.Query(context.Background(), c.Head(), toBlock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Logs) != 0 {
		t.Fatalf("expected no logs, got %d", len(res.Logs))
	}
	if backend.getLogsCalls != 0 {
		t.Fatalf("expected the bloom filter to skip the getLogs call, got %d calls", backend.getLogsCalls)
	}
}

func TestQuery_FetchesWhenBloomMayContainAddress(t *testing.T) {
	c, _ := cache.New(5, 5)
	c.Anchor(bloomBlock(100, 0xA0, 0x00, otherAddr))
	toBlock := bloomBlock(101, 0xB0, 0xA0, subscribedAddr)

	backend := &fakeLogBackend{
		blocks: map[uint64]domain.Block{100: c.Head(), 101: toBlock},
		logs:   []domain.Log{{BlockNumber: 101, BlockHash: toBlock.Hash}},
	}
	resolver := reorg.NewResolver(backend, c, testCfg(), testLogger())
	repairer := reorg.NewRepairer(backend, c, testCfg(), testLogger())

	f := New(backend, c, resolver, repairer, testCfg(), testLogger(), func() []domain.AddressAndTopics {
		return []domain.AddressAndTopics{{Address: subscribedAddr}}
	})

	res, err := f.Query(context.Background(), c.Head(), toBlock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(res.Logs))
	}
	if backend.getLogsCalls != 1 {
		t.Fatalf("expected exactly 1 getLogs call, got %d", backend.getLogsCalls)
	}
}

func TestQuery_MissingBloomDataNeverSkips(t *testing.T) {
	c, _ := cache.New(5, 5)
	from := bloomBlock(100, 0xA0, 0x00, otherAddr)
	c.Anchor(from)
	// Block 101 sits inside the queried chunk but never reported a bloom;
	// the fold must fall back to an unconditional fetch even though 102's
	// own bloom (the chunk's `to`) excludes the address.
	c.Append(blk(101, 0xB1, 0xA0))
	toBlock := bloomBlock(102, 0xC0, 0xB1, otherAddr)

	backend := &fakeLogBackend{
		blocks: map[uint64]domain.Block{100: from, 101: {Number: 101}, 102: toBlock},
		logs:   []domain.Log{{BlockNumber: 102, BlockHash: toBlock.Hash}},
	}
	resolver := reorg.NewResolver(backend, c, testCfg(), testLogger())
	repairer := reorg.NewRepairer(backend, c, testCfg(), testLogger())

	f := New(backend, c, resolver, repairer, testCfg(), testLogger(), func() []domain.AddressAndTopics {
		return []domain.AddressAndTopics{{Address: subscribedAddr}}
	})

	res, err := f.Query(context.Background(), from, toBlock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Logs) != 1 {
		t.Fatalf("expected the fetch to still happen and return the log, got %d", len(res.Logs))
	}
	if backend.getLogsCalls != 1 {
		t.Fatalf("expected exactly 1 getLogs call, got %d", backend.getLogsCalls)
	}
}

func TestBloomValues_RoundTripsThroughAddAddressAndTest(t *testing.T) {
	var bits [bloomByteLength]byte
	if err := AddAddress(&bits, subscribedAddr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bloomTest(bits, subscribedAddr) {
		t.Fatal("expected bloomTest to report the added address as possibly present")
	}
	if bloomTest(bits, otherAddr) {
		t.Fatal("expected an address never added to test as absent")
	}
}
