package cose

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

var errBadSignatureEncoding = errors.New("malformed ECDSA signature")

// rawSignature converts an ASN.1 ECDSA signature, as returned by
// crypto.Signer, into the fixed-width r||s form used by COSE.
func rawSignature(der []byte, size int) ([]byte, error) {
	var (
		r, s  cryptobyte.String
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1(&r, asn1.INTEGER) ||
		!inner.ReadASN1(&s, asn1.INTEGER) ||
		!inner.Empty() {
		return nil, errBadSignatureEncoding
	}

	out := make([]byte, 2*size)
	if !putInteger(out[:size], r) || !putInteger(out[size:], s) {
		return nil, errBadSignatureEncoding
	}
	return out, nil
}

// putInteger right-aligns a positive DER integer into dst.
func putInteger(dst []byte, v cryptobyte.String) bool {
	if len(v) == 0 || v[0]&0x80 != 0 {
		return false
	}
	for len(v) > 1 && v[0] == 0 {
		v = v[1:]
	}
	if len(v) > len(dst) {
		return false
	}
	copy(dst[len(dst)-len(v):], v)
	return true
}
