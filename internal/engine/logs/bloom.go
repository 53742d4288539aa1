package logs

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/chainflux/logwatch/internal/core/domain"
)

const bloomByteLength = 256

// chunkBloom folds the per-block logs bloom of every header in a chunk into
// one 2048-bit filter, the same OR-of-headers a full node performs when
// answering an eth_getLogs range query internally. ok stays false once any
// folded block never reported a bloom, so a backend or test fixture that
// omits the field never causes a false skip.
type chunkBloom struct {
	bits [bloomByteLength]byte
	ok   bool
}

func newChunkBloom() *chunkBloom {
	return &chunkBloom{ok: true}
}

func (c *chunkBloom) fold(b domain.Block) {
	if !b.HasLogsBloom {
		c.ok = false
		return
	}
	for i := range c.bits {
		c.bits[i] |= b.LogsBloom[i]
	}
}

// mayContainAny reports whether any of addrs could have logged in the
// folded chunk. A false result is a proof, not a guess: querying the chunk
// for these addresses is guaranteed to return no logs.
func (c *chunkBloom) mayContainAny(addrs []domain.AddressAndTopics) bool {
	if !c.ok {
		return true
	}
	for _, a := range addrs {
		if bloomTest(c.bits, a.Address) {
			return true
		}
	}
	return false
}

// bloomTest checks address against bits using the three-hash Keccak256 test
// Ethereum consensus uses to set bits in a block header's logsBloom; an FNV
// or other locally-chosen hash would not agree with bits the chain already
// set, so the hash here has to match the chain's, not the pack's usual
// address-set filters.
func bloomTest(bits [bloomByteLength]byte, address string) bool {
	raw, err := addressBytes(address)
	if err != nil {
		return true
	}
	i1, v1, i2, v2, i3, v3 := bloomValues(raw)
	return bits[i1]&v1 != 0 && bits[i2]&v2 != 0 && bits[i3]&v3 != 0
}

// AddAddress sets address's three bloom positions in bits, the same
// operation a chain node performs while assembling a block's logsBloom.
// Exported for tests that need to construct a realistic synthetic bloom.
func AddAddress(bits *[bloomByteLength]byte, address string) error {
	raw, err := addressBytes(address)
	if err != nil {
		return err
	}
	i1, v1, i2, v2, i3, v3 := bloomValues(raw)
	bits[i1] |= v1
	bits[i2] |= v2
	bits[i3] |= v3
	return nil
}

func bloomValues(data []byte) (i1 int, v1 byte, i2 int, v2 byte, i3 int, v3 byte) {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	digest := hash.Sum(nil)

	v1 = byte(1 << (digest[1] & 0x7))
	v2 = byte(1 << (digest[3] & 0x7))
	v3 = byte(1 << (digest[5] & 0x7))

	i1 = bloomByteLength - int((binary.BigEndian.Uint16(digest[0:2])&0x7ff)>>3) - 1
	i2 = bloomByteLength - int((binary.BigEndian.Uint16(digest[2:4])&0x7ff)>>3) - 1
	i3 = bloomByteLength - int((binary.BigEndian.Uint16(digest[4:6])&0x7ff)>>3) - 1
	return
}

func addressBytes(address string) ([]byte, error) {
	s := strings.TrimPrefix(strings.ToLower(address), "0x")
	return hex.DecodeString(s)
}
