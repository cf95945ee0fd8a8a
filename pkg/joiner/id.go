package joiner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
)

// IDLength is the size of a Joiner ID.
const IDLength = 8

// ID is a Joiner Identifier.
type ID [IDLength]byte

// String returns the ID in lower-case hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Uint64 returns the ID as a big-endian integer.
func (id ID) Uint64() uint64 {
	return binary.BigEndian.Uint64(id[:])
}

// ParseID parses a 16-digit hex Joiner ID.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != IDLength {
		return id, errcode.Wrap(errcode.InvalidArgs, ErrInvalidID, "parse %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// ComputeJoinerID derives the Joiner ID of an EUI-64: the first 8 bytes of
// SHA-256 over the big-endian EUI-64, with the locally administered bit
// (0x02 of the first byte) set.
func ComputeJoinerID(eui64 uint64) ID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], eui64)
	sum := sha256.Sum256(buf[:])

	var id ID
	copy(id[:], sum[:IDLength])
	id[0] |= 0x02
	return id
}

// ComputeJoinerIDFromDiscerner returns the Joiner ID of a discerner over a
// zero base.
func ComputeJoinerIDFromDiscerner(d Discerner) ID {
	return OverlayDiscerner(ID{}, d)
}

// OverlayDiscerner writes the low BitLength bits of d.Value into the tail
// of base, bit 0 landing in the least significant bit of the last byte.
// Bits of base outside the discerner are kept. d must be valid.
func OverlayDiscerner(base ID, d Discerner) ID {
	mask := discernerMask(d.BitLength)
	v := base.Uint64()&^mask | d.Value&mask

	var id ID
	binary.BigEndian.PutUint64(id[:], v)
	return id
}

// MatchesDiscerner reports whether the tail of id carries d.
func MatchesDiscerner(id ID, d Discerner) bool {
	mask := discernerMask(d.BitLength)
	return id.Uint64()&mask == d.Value&mask
}

func discernerMask(bits uint8) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<bits - 1
}
