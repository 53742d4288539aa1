package domain

import "context"

// Subscriber is the downstream contract: a consumer of logs for a
// specific address. Initialize happens-before any HandleLog; HandleLog calls
// for a given subscriber are delivered strictly in stream order; Rollback
// happens-before any later HandleLog at a number greater than the rollback
// target.
//
// HandleLog and Rollback must not throw — a failing subscriber logs its own
// errors and keeps going; the engine never inspects a subscriber's internal
// state beyond these three calls.
type Subscriber interface {
	// Initialize anchors the subscriber at block and returns an error if it
	// could not establish its starting state there.
	Initialize(ctx context.Context, anchor Block) error

	// HandleLog delivers one log. Calls for a single subscriber are always
	// awaited serially by the engine, never run concurrently with each other.
	HandleLog(ctx context.Context, log Log)

	// Rollback informs the subscriber that the chain has reorganized back to
	// target; it must be synchronous and must not block on I/O.
	Rollback(target Block)
}
