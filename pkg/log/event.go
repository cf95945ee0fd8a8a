package log

import (
	"time"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
)

// Event represents a security event emitted by a signing, validation or
// admission operation. Integer keys keep the CBOR audit log compact.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// Category classifies the component that emitted the event.
	Category Category `cbor:"2,keyasint"`

	// Operation names the operation, e.g. "sign" or "validate".
	Operation string `cbor:"3,keyasint"`

	// Outcome reports whether the operation succeeded.
	Outcome Outcome `cbor:"4,keyasint"`

	// Code is the error kind on failure.
	Code errcode.Code `cbor:"5,keyasint,omitempty"`

	// KeyID is the key identifier involved, if known.
	KeyID []byte `cbor:"6,keyasint,omitempty"`

	// JoinerID is the hex joiner identifier involved, if any.
	JoinerID string `cbor:"7,keyasint,omitempty"`

	// Detail is a short human-readable note. Never key material.
	Detail string `cbor:"8,keyasint,omitempty"`
}

// Category classifies the component that emitted an event.
type Category uint8

const (
	// CategoryKey covers public key encoding and decoding.
	CategoryKey Category = 0
	// CategoryEnvelope covers signed envelope operations.
	CategoryEnvelope Category = 1
	// CategoryAdmission covers joiner validation and lookup.
	CategoryAdmission Category = 2
	// CategoryToken covers commissioner token issuance and verification.
	CategoryToken Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryKey:
		return "KEY"
	case CategoryEnvelope:
		return "ENVELOPE"
	case CategoryAdmission:
		return "ADMISSION"
	case CategoryToken:
		return "TOKEN"
	default:
		return "UNKNOWN"
	}
}

// Outcome reports the result of an operation.
type Outcome uint8

const (
	// OutcomeSuccess indicates the operation completed.
	OutcomeSuccess Outcome = 0
	// OutcomeFailure indicates the operation returned an error.
	OutcomeFailure Outcome = 1
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeFailure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Result builds an event for operation op in category c from err.
// A nil err yields a success event.
func Result(c Category, op string, err error) Event {
	e := Event{Category: c, Operation: op}
	if err != nil {
		e.Outcome = OutcomeFailure
		e.Code = errcode.CodeOf(err)
	}
	return e
}
