package joiner

import (
	"fmt"
	"strings"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
)

// Type identifies how a joiner is recognized during steering.
type Type uint8

const (
	// TypeAnyMeshCoP accepts any MeshCoP joiner presenting the PSKd.
	TypeAnyMeshCoP Type = iota

	// TypeEui64 is a MeshCoP joiner identified by its EUI-64.
	TypeEui64

	// TypeDiscerner is a MeshCoP joiner identified by a discerner.
	TypeDiscerner

	// TypeCcmAE is a CCM autonomous enrollment joiner.
	TypeCcmAE

	// TypeCcmNmkp is a CCM network master key provisioning joiner.
	TypeCcmNmkp
)

var typeNames = map[Type]string{
	TypeAnyMeshCoP: "any",
	TypeEui64:      "eui64",
	TypeDiscerner:  "discerner",
	TypeCcmAE:      "ccm-ae",
	TypeCcmNmkp:    "ccm-nmkp",
}

// String returns the type name as used in policy files.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Valid reports whether t is a known joiner type.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// MeshCoP reports whether t authenticates with a PSKd.
func (t Type) MeshCoP() bool {
	return t == TypeAnyMeshCoP || t == TypeEui64 || t == TypeDiscerner
}

// ParseType parses a type name. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errcode.Wrap(errcode.InvalidArgs, ErrUnknownType, "parse %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errcode.Wrap(errcode.InvalidArgs, ErrUnknownType, "marshal %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Discerner is an operator-assigned bit pattern identifying a joiner.
type Discerner struct {
	// Value holds the pattern in its low BitLength bits.
	Value uint64

	// BitLength is the number of significant bits, 1 to 64.
	BitLength uint8
}

// MaxDiscernerBitLength is the widest discerner.
const MaxDiscernerBitLength = 64

// Valid reports whether the bit length is in range and Value fits in it.
func (d Discerner) Valid() bool {
	if d.BitLength == 0 || d.BitLength > MaxDiscernerBitLength {
		return false
	}
	return d.BitLength == MaxDiscernerBitLength || d.Value>>d.BitLength == 0
}

// String returns the discerner as "value/bits" in hex.
func (d Discerner) String() string {
	return fmt.Sprintf("0x%x/%d", d.Value, d.BitLength)
}

// Info describes a joiner allowed by commissioning policy. It is passed by
// value and never modified by this package.
type Info struct {
	Type Type

	// Eui64 is the joiner's factory identifier; zero means unset.
	Eui64 uint64

	Discerner Discerner

	// PSKd is the pre-shared device key.
	PSKd string

	// ProvisioningURL is used for vendor-specific provisioning by MeshCoP
	// joiners.
	ProvisioningURL string
}

// Label returns a short description for logs. It never includes the PSKd.
func (i Info) Label() string {
	switch i.Type {
	case TypeEui64, TypeCcmAE, TypeCcmNmkp:
		return fmt.Sprintf("%s %016x", i.Type, i.Eui64)
	case TypeDiscerner:
		return fmt.Sprintf("%s %s", i.Type, i.Discerner)
	default:
		return i.Type.String()
	}
}
