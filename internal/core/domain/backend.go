package domain

import "context"

// Backend is the upstream RPC contract the engine drives. A block or log
// fetch that cannot be satisfied returns an *EngineError; Backend
// implementations never panic on remote failures.
type Backend interface {
	// GetBlock fetches a single block by number.
	GetBlock(ctx context.Context, number uint64) (Block, error)

	// BatchGetBlocks fetches [from, to] inclusive in one round-trip, ordered
	// ascending by number. A zero hash in the last slot is tolerated; the
	// caller is responsible for the announced-hash substitution.
	BatchGetBlocks(ctx context.Context, from, to uint64) ([]Block, error)

	// GetLogs fetches logs in (fromExclusive, toInclusive] for the given
	// addresses, ordered ascending by (BlockNumber, LogIndex). An empty
	// addresses slice must return no logs without making a call.
	GetLogs(ctx context.Context, fromExclusive, toInclusive uint64, addresses []AddressAndTopics) ([]Log, error)
}
