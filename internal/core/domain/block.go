// Package domain holds the types shared across the engine: blocks, logs,
// subscriptions and the tagged-sum result kinds the engine returns instead
// of throwing.
package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash is a 32-byte block or transaction digest, hex-encoded with the
// "0x" prefix on the wire but compared by value everywhere in the engine.
type Hash [32]byte

// ZeroHash is the sentinel some batched block fetchers return for the
// absolute latest block instead of its real hash.
var ZeroHash Hash

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h[:])
}

// HashFromHex parses a 32-byte hash from its "0x"-prefixed hex form.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("domain: invalid hash %q: %w", s, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("domain: hash %q has %d bytes, want %d", s, len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// Block is the minimal chain-cache unit: a number, its own hash, and the
// hash of its parent. Two blocks are equal iff their hashes are equal.
//
// LogsBloom carries the block header's 2048-bit logs bloom filter, when the
// backend supplies one; HasLogsBloom distinguishes a genuinely empty bloom
// (no logs in the block) from a backend that never reported the field, so
// callers never mistake "unknown" for "provably empty".
type Block struct {
	Number       uint64
	Hash         Hash
	ParentHash   Hash
	LogsBloom    [256]byte
	HasLogsBloom bool
}

// Equal reports whether two blocks share the same hash.
func (b Block) Equal(other Block) bool {
	return b.Hash == other.Hash
}

// Header is a parent-less anchoring variant, used only to seed a fresh
// chain cache.
type Header struct {
	Number uint64
	Hash   Hash
}

// AsBlock promotes a Header into a Block with a zero parent hash. Used only
// when anchoring the cache, where there is by definition no parent on file.
func (h Header) AsBlock() Block {
	return Block{Number: h.Number, Hash: h.Hash}
}
