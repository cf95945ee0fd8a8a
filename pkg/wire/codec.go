package wire

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for signed structures.
// Configured for deterministic encoding with sorted integer keys.
var encMode cbor.EncMode

// orderedEncMode keeps struct fields in declaration order.
var orderedEncMode cbor.EncMode

// decMode is the CBOR decoder mode for peer input.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	orderedOpts := encOpts
	orderedOpts.Sort = cbor.SortNone
	orderedEncMode, err = orderedOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create ordered CBOR encoder mode: %v", err))
	}

	// Peer input is untrusted: no duplicate keys, no indefinite lengths.
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to deterministic CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// MarshalOrdered encodes a value to CBOR, writing struct fields in
// declaration order instead of sorted key order.
func MarshalOrdered(v any) ([]byte, error) {
	return orderedEncMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
// Trailing bytes after the first data item are an error.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Valid reports whether data is exactly one well-formed CBOR data item.
func Valid(data []byte) error {
	return decMode.Wellformed(data)
}

// CBOR major types, as found in the top three bits of an item's first byte.
const (
	MajorUnsigned uint8 = 0
	MajorNegative uint8 = 1
	MajorBytes    uint8 = 2
	MajorText     uint8 = 3
	MajorArray    uint8 = 4
	MajorMap      uint8 = 5
	MajorTag      uint8 = 6
	MajorSimple   uint8 = 7
)

// nullByte is the encoding of CBOR null.
const nullByte = 0xf6

// PeekMajorType returns the major type of the first data item in data.
func PeekMajorType(data []byte) (uint8, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty CBOR data")
	}
	return data[0] >> 5, nil
}

// IsNull reports whether data is exactly the CBOR null value.
func IsNull(data []byte) bool {
	return len(data) == 1 && data[0] == nullByte
}

// Null returns the encoding of CBOR null.
func Null() cbor.RawMessage {
	return cbor.RawMessage{nullByte}
}

// Equal compares two values by their CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
