package domain

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// ChecksumAddress canonicalizes a 20-byte hex address into EIP-55 mixed-case
// checksum form. The registry and the log fetcher both key and compare on
// this canonical form, so they agree regardless of the casing an upstream
// RPC or a caller happens to supply.
func ChecksumAddress(address string) string {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(addr) != 40 {
		return "0x" + addr
	}

	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(addr))
	digest := hash.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := addr[i]
		if c >= '0' && c <= '9' {
			out[i] = c
			continue
		}
		// nth hex nibble of the hash selects upper/lower case for c.
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - ('a' - 'A')
		} else {
			out[i] = c
		}
	}

	return "0x" + string(out)
}
