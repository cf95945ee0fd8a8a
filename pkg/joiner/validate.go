package joiner

import (
	"errors"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
)

// Joiner validation errors. Each is returned wrapped in an
// errcode.InvalidArgs error.
var (
	ErrUnknownType      = errors.New("unknown joiner type")
	ErrMissingPSKd      = errors.New("joiner PSKd is required")
	ErrMissingEui64     = errors.New("joiner EUI-64 is required")
	ErrInvalidDiscerner = errors.New("invalid joiner discerner")
	ErrInvalidPSKd      = errors.New("invalid joiner PSKd")
	ErrInvalidID        = errors.New("invalid joiner ID")
)

// ValidateJoiner checks that info is internally consistent. Checks run in
// order: the type is known, MeshCoP types carry a PSKd, then the identity
// field of the type is well formed. The first violation is returned.
func ValidateJoiner(info Info) error {
	if !info.Type.Valid() {
		return errcode.Wrap(errcode.InvalidArgs, ErrUnknownType, "validate joiner type %d", uint8(info.Type))
	}

	if info.Type.MeshCoP() && info.PSKd == "" {
		return errcode.Wrap(errcode.InvalidArgs, ErrMissingPSKd, "validate %s joiner", info.Type)
	}

	switch info.Type {
	case TypeEui64:
		if info.Eui64 == 0 {
			return errcode.Wrap(errcode.InvalidArgs, ErrMissingEui64, "validate %s joiner", info.Type)
		}
	case TypeDiscerner:
		if !info.Discerner.Valid() {
			return errcode.Wrap(errcode.InvalidArgs, ErrInvalidDiscerner, "validate discerner %s", info.Discerner)
		}
	}
	return nil
}

// PSKd length bounds.
const (
	MinPSKdLength = 6
	MaxPSKdLength = 32
)

// ValidatePSKd checks the Thread PSKd format: 6 to 32 characters drawn from
// digits and upper-case letters other than I, O, Q and Z.
func ValidatePSKd(pskd string) error {
	if len(pskd) < MinPSKdLength || len(pskd) > MaxPSKdLength {
		return errcode.Wrap(errcode.InvalidArgs, ErrInvalidPSKd, "length %d not in [%d, %d]", len(pskd), MinPSKdLength, MaxPSKdLength)
	}
	for i := 0; i < len(pskd); i++ {
		if !pskdChar(pskd[i]) {
			return errcode.Wrap(errcode.InvalidArgs, ErrInvalidPSKd, "character at offset %d not allowed", i)
		}
	}
	return nil
}

func pskdChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'A' && c <= 'Z':
		return c != 'I' && c != 'O' && c != 'Q' && c != 'Z'
	default:
		return false
	}
}
