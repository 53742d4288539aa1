package domain

import "errors"

// Kind enumerates the engine's error taxonomy. The core never throws —
// every structural failure comes back as one of these, wrapped in an
// *EngineError, so callers can switch on Kind instead of matching strings.
type Kind int

const (
	// KindUnknown is never returned by the engine; it is the zero value so a
	// missing Kind check fails loudly instead of silently matching "ok".
	KindUnknown Kind = iota

	// KindBlockNotFound: the RPC could not return a requested block after
	// exhausting retries.
	KindBlockNotFound

	// KindFailedGetBlock: the batched ancestor lookup in the Reorg Resolver
	// exhausted maxRetryGetBlock.
	KindFailedGetBlock

	// KindMaxRetryReach: a block or log fetch exhausted its retry budget.
	KindMaxRetryReach

	// KindFailedFetchingLog: getLogs returned an error on every attempt of
	// the log fetcher's retry budget. A returned log whose block is neither
	// in the cache nor the queried range's last block is delivered without a
	// hash check and does not produce this kind.
	KindFailedFetchingLog

	// KindNoCommonAncestorFoundInCache: the reorg resolver found no matching
	// hash within the cache's retained depth — the fork is deeper than
	// maxBlockCached.
	KindNoCommonAncestorFoundInCache

	// KindReInitializeBlockManager: propagates the deep-reorg re-anchor
	// decision up to the caller of handleBlock.
	KindReInitializeBlockManager
)

func (k Kind) String() string {
	switch k {
	case KindBlockNotFound:
		return "BlockNotFound"
	case KindFailedGetBlock:
		return "FailedGetBlock"
	case KindMaxRetryReach:
		return "MaxRetryReach"
	case KindFailedFetchingLog:
		return "FailedFetchingLog"
	case KindNoCommonAncestorFoundInCache:
		return "NoCommonAncestorFoundInCache"
	case KindReInitializeBlockManager:
		return "ReInitializeBlockManager"
	default:
		return "Unknown"
	}
}

// EngineError wraps a structural failure with its taxonomy Kind so callers
// can branch on Kind via errors.As instead of matching error strings.
type EngineError struct {
	Kind Kind
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewError builds an *EngineError of the given kind wrapping err.
func NewError(kind Kind, err error) *EngineError {
	return &EngineError{Kind: kind, Err: err}
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return KindUnknown, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
