package token

import (
	"crypto/ecdsa"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
	"github.com/mash-protocol/meshcop-go/pkg/wire"
)

// Claims is the claim set of a commissioner token (RFC 8392).
type Claims struct {
	Issuer   string
	Subject  string
	Audience string

	// Expiration, NotBefore and IssuedAt have one second resolution. Zero
	// values are omitted.
	Expiration time.Time
	NotBefore  time.Time
	IssuedAt   time.Time

	// ID uniquely identifies the token.
	ID uuid.UUID
}

// Token is a verified commissioner token.
type Token struct {
	Claims

	// KeyID is the kid header of the signing key, if present.
	KeyID []byte

	// ProofKey is the commissioner's bound public key from the cnf claim.
	ProofKey *ecdsa.PublicKey
}

// claimsWire is the CWT claims map. Labels: iss(1) sub(2) aud(3) exp(4)
// nbf(5) iat(6) cti(7) cnf(8).
type claimsWire struct {
	Issuer       string        `cbor:"1,keyasint,omitempty"`
	Subject      string        `cbor:"2,keyasint,omitempty"`
	Audience     string        `cbor:"3,keyasint,omitempty"`
	Expiration   int64         `cbor:"4,keyasint,omitempty"`
	NotBefore    int64         `cbor:"5,keyasint,omitempty"`
	IssuedAt     int64         `cbor:"6,keyasint,omitempty"`
	ID           []byte        `cbor:"7,keyasint,omitempty"`
	Confirmation *confirmation `cbor:"8,keyasint,omitempty"`
}

// confirmation is the cnf claim (RFC 8747) carrying a COSE_Key.
type confirmation struct {
	Key cbor.RawMessage `cbor:"1,keyasint"`
}

func numericDate(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromNumericDate(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func encodeClaims(c Claims, coseKey []byte) ([]byte, error) {
	w := claimsWire{
		Issuer:     c.Issuer,
		Subject:    c.Subject,
		Audience:   c.Audience,
		Expiration: numericDate(c.Expiration),
		NotBefore:  numericDate(c.NotBefore),
		IssuedAt:   numericDate(c.IssuedAt),
	}
	if c.ID != uuid.Nil {
		w.ID = c.ID[:]
	}
	if len(coseKey) > 0 {
		w.Confirmation = &confirmation{Key: coseKey}
	}
	data, err := wire.Marshal(w)
	if err != nil {
		return nil, errcode.Wrap(errcode.EncodingFailed, err, "encode token claims")
	}
	return data, nil
}

func decodeClaims(data []byte) (Claims, []byte, error) {
	if mt, err := wire.PeekMajorType(data); err != nil || mt != wire.MajorMap {
		return Claims{}, nil, errcode.New(errcode.BadFormat, "token claims are not a map")
	}
	var w claimsWire
	if err := wire.Unmarshal(data, &w); err != nil {
		return Claims{}, nil, errcode.Wrap(errcode.BadFormat, err, "decode token claims")
	}

	c := Claims{
		Issuer:     w.Issuer,
		Subject:    w.Subject,
		Audience:   w.Audience,
		Expiration: fromNumericDate(w.Expiration),
		NotBefore:  fromNumericDate(w.NotBefore),
		IssuedAt:   fromNumericDate(w.IssuedAt),
	}
	if len(w.ID) > 0 {
		id, err := uuid.FromBytes(w.ID)
		if err != nil {
			return Claims{}, nil, errcode.Wrap(errcode.BadFormat, err, "decode token ID")
		}
		c.ID = id
	}

	var key []byte
	if w.Confirmation != nil {
		key = w.Confirmation.Key
	}
	return c, key, nil
}
