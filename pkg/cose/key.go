package cose

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/sha512"
	"math/big"

	gocose "github.com/veraison/go-cose"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
	"github.com/mash-protocol/meshcop-go/pkg/wire"
)

// MaxEncodedKeySize bounds the encoded size of a COSE_Key.
const MaxEncodedKeySize = 1024

// KeyType is a COSE key type (RFC 9053 §7).
type KeyType int64

// KeyTypeEC2 is the elliptic curve key type with x and y coordinates.
const KeyTypeEC2 KeyType = 2

// Curve is a COSE elliptic curve identifier.
type Curve int64

// Supported curves (RFC 9053 §7.1).
const (
	CurveP256 Curve = 1
	CurveP384 Curve = 2
	CurveP521 Curve = 3
)

// String returns the curve name.
func (c Curve) String() string {
	switch c {
	case CurveP256:
		return "P-256"
	case CurveP384:
		return "P-384"
	case CurveP521:
		return "P-521"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether c is a supported curve.
func (c Curve) Valid() bool {
	return c == CurveP256 || c == CurveP384 || c == CurveP521
}

// CoordinateSize returns the fixed width in bytes of one coordinate, which is
// also the width of each half of a signature.
func (c Curve) CoordinateSize() int {
	switch c {
	case CurveP256:
		return 32
	case CurveP384:
		return 48
	case CurveP521:
		return 66
	default:
		return 0
	}
}

// Elliptic returns the curve implementation, or nil for an unsupported curve.
func (c Curve) Elliptic() elliptic.Curve {
	switch c {
	case CurveP256:
		return elliptic.P256()
	case CurveP384:
		return elliptic.P384()
	case CurveP521:
		return elliptic.P521()
	default:
		return nil
	}
}

// Algorithm returns the ECDSA signature algorithm paired with c.
func (c Curve) Algorithm() gocose.Algorithm {
	switch c {
	case CurveP256:
		return gocose.AlgorithmES256
	case CurveP384:
		return gocose.AlgorithmES384
	case CurveP521:
		return gocose.AlgorithmES512
	default:
		return 0
	}
}

func (c Curve) hash() crypto.Hash {
	switch c {
	case CurveP384:
		return crypto.SHA384
	case CurveP521:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

func (c Curve) digest(data []byte) []byte {
	switch c {
	case CurveP384:
		d := sha512.Sum384(data)
		return d[:]
	case CurveP521:
		d := sha512.Sum512(data)
		return d[:]
	default:
		d := sha256.Sum256(data)
		return d[:]
	}
}

func (c Curve) ecdh() ecdh.Curve {
	switch c {
	case CurveP256:
		return ecdh.P256()
	case CurveP384:
		return ecdh.P384()
	case CurveP521:
		return ecdh.P521()
	default:
		return nil
	}
}

// CurveOf identifies the COSE curve of an elliptic curve implementation.
func CurveOf(ec elliptic.Curve) (Curve, bool) {
	switch ec {
	case elliptic.P256():
		return CurveP256, true
	case elliptic.P384():
		return CurveP384, true
	case elliptic.P521():
		return CurveP521, true
	default:
		return 0, false
	}
}

// Key is an EC2 public key in COSE_Key form (RFC 9052 §7).
// X and Y are always CoordinateSize bytes long.
type Key struct {
	KeyID   []byte
	KeyType KeyType
	Curve   Curve
	X       []byte
	Y       []byte
}

// keyWire is the COSE_Key wire layout using the RFC 9052 labels
// kid(2), kty(1), crv(-1), x(-2) and y(-3). Fields are written in
// declaration order.
type keyWire struct {
	KeyID   []byte `cbor:"2,keyasint,omitempty"`
	KeyType int64  `cbor:"1,keyasint"`
	Curve   int64  `cbor:"-1,keyasint"`
	X       []byte `cbor:"-2,keyasint"`
	Y       []byte `cbor:"-3,keyasint"`
}

// ecPublicKey extracts the ECDSA public key from a public or private key.
func ecPublicKey(k any) (*ecdsa.PublicKey, Curve, error) {
	var pub *ecdsa.PublicKey
	switch key := k.(type) {
	case *ecdsa.PublicKey:
		pub = key
	case *ecdsa.PrivateKey:
		if key != nil {
			pub = &key.PublicKey
		}
	default:
		return nil, 0, errcode.New(errcode.UnsupportedKey, "key of type %T is not an EC key", k)
	}
	if pub == nil || pub.Curve == nil || pub.X == nil || pub.Y == nil {
		return nil, 0, errcode.New(errcode.UnsupportedKey, "EC key is not initialized")
	}
	curve, ok := CurveOf(pub.Curve)
	if !ok {
		return nil, 0, errcode.New(errcode.UnsupportedKey, "EC curve %s is not supported", pub.Curve.Params().Name)
	}
	return pub, curve, nil
}

// NewKey builds the COSE_Key form of an EC public key. pub may be an
// *ecdsa.PublicKey or an *ecdsa.PrivateKey, of which only the public half is
// used. keyID may be empty.
func NewKey(pub crypto.PublicKey, keyID []byte) (*Key, error) {
	ecPub, curve, err := ecPublicKey(pub)
	if err != nil {
		return nil, err
	}

	// Coordinates are right-aligned into fixed-width buffers.
	size := curve.CoordinateSize()
	if ecPub.X.Sign() < 0 || ecPub.Y.Sign() < 0 || ecPub.X.BitLen() > size*8 || ecPub.Y.BitLen() > size*8 {
		return nil, errcode.New(errcode.UnsupportedKey, "EC point does not fit curve %s", curve)
	}
	x := ecPub.X.FillBytes(make([]byte, size))
	y := ecPub.Y.FillBytes(make([]byte, size))

	var kid []byte
	if len(keyID) > 0 {
		kid = append([]byte(nil), keyID...)
	}

	return &Key{
		KeyID:   kid,
		KeyType: KeyTypeEC2,
		Curve:   curve,
		X:       x,
		Y:       y,
	}, nil
}

// Marshal encodes the key as a COSE_Key map.
func (k *Key) Marshal() ([]byte, error) {
	data, err := wire.MarshalOrdered(keyWire{
		KeyID:   k.KeyID,
		KeyType: int64(k.KeyType),
		Curve:   int64(k.Curve),
		X:       k.X,
		Y:       k.Y,
	})
	if err != nil {
		return nil, errcode.Wrap(errcode.EncodingFailed, err, "encode COSE key")
	}
	if len(data) > MaxEncodedKeySize {
		return nil, errcode.New(errcode.EncodingFailed, "encoded COSE key is %d bytes, limit is %d", len(data), MaxEncodedKeySize)
	}
	return data, nil
}

// EncodeKey encodes an EC public key as a COSE_Key. It fails with
// errcode.UnsupportedKey for non-EC keys and unsupported curves.
func EncodeKey(pub crypto.PublicKey, keyID []byte) ([]byte, error) {
	k, err := NewKey(pub, keyID)
	if err != nil {
		return nil, err
	}
	return k.Marshal()
}

// DecodeKey parses a COSE_Key and checks that it describes a point on a
// supported curve. Any defect is reported as errcode.InvalidArgs.
func DecodeKey(data []byte) (*Key, error) {
	if len(data) == 0 {
		return nil, errcode.New(errcode.InvalidArgs, "COSE key must not be empty")
	}
	if len(data) > MaxEncodedKeySize {
		return nil, errcode.New(errcode.InvalidArgs, "COSE key exceeds %d bytes", MaxEncodedKeySize)
	}
	if mt, _ := wire.PeekMajorType(data); mt != wire.MajorMap {
		return nil, errcode.New(errcode.InvalidArgs, "COSE key is not a map")
	}

	var w keyWire
	if err := wire.Unmarshal(data, &w); err != nil {
		return nil, errcode.Wrap(errcode.InvalidArgs, err, "decode COSE key")
	}
	if KeyType(w.KeyType) != KeyTypeEC2 {
		return nil, errcode.New(errcode.InvalidArgs, "COSE key type %d is not EC2", w.KeyType)
	}
	curve := Curve(w.Curve)
	if !curve.Valid() {
		return nil, errcode.New(errcode.InvalidArgs, "COSE key curve %d is not supported", w.Curve)
	}
	size := curve.CoordinateSize()
	if len(w.X) != size || len(w.Y) != size {
		return nil, errcode.New(errcode.InvalidArgs, "COSE key coordinates must be %d bytes for %s", size, curve)
	}

	k := &Key{
		KeyID:   w.KeyID,
		KeyType: KeyTypeEC2,
		Curve:   curve,
		X:       w.X,
		Y:       w.Y,
	}
	if _, err := k.PublicKey(); err != nil {
		return nil, err
	}
	return k, nil
}

// PublicKey returns the ECDSA public key described by k.
func (k *Key) PublicKey() (*ecdsa.PublicKey, error) {
	size := k.Curve.CoordinateSize()
	if k.KeyType != KeyTypeEC2 || size == 0 || len(k.X) != size || len(k.Y) != size {
		return nil, errcode.New(errcode.InvalidArgs, "COSE key is not a valid EC2 key")
	}

	// crypto/ecdh rejects points not on the curve.
	point := make([]byte, 0, 1+2*size)
	point = append(point, 0x04)
	point = append(point, k.X...)
	point = append(point, k.Y...)
	if _, err := k.Curve.ecdh().NewPublicKey(point); err != nil {
		return nil, errcode.Wrap(errcode.InvalidArgs, err, "COSE key is not a point on %s", k.Curve)
	}

	return &ecdsa.PublicKey{
		Curve: k.Curve.Elliptic(),
		X:     new(big.Int).SetBytes(k.X),
		Y:     new(big.Int).SetBytes(k.Y),
	}, nil
}
