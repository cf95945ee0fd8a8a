// Package keys generates and stores the EC key material used to sign and
// verify envelopes.
package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/mash-protocol/meshcop-go/pkg/cose"
)

// PEM encoding/decoding errors.
var (
	ErrInvalidPEM    = errors.New("invalid PEM data")
	ErrUnsupportedEC = errors.New("unsupported EC key type")
)

// PEM block types.
const (
	blockPrivateKey = "EC PRIVATE KEY"
	blockPublicKey  = "PUBLIC KEY"
)

// Generate creates a private key on a supported curve.
func Generate(c cose.Curve) (*ecdsa.PrivateKey, error) {
	ec := c.Elliptic()
	if ec == nil {
		return nil, fmt.Errorf("%w: curve %d", ErrUnsupportedEC, int64(c))
	}
	return ecdsa.GenerateKey(ec, rand.Reader)
}

// ParseCurve parses a curve name such as "P-256" or "p256".
func ParseCurve(name string) (cose.Curve, error) {
	switch name {
	case "P-256", "P256", "p256":
		return cose.CurveP256, nil
	case "P-384", "P384", "p384":
		return cose.CurveP384, nil
	case "P-521", "P521", "p521":
		return cose.CurveP521, nil
	default:
		return 0, fmt.Errorf("%w: curve %q", ErrUnsupportedEC, name)
	}
}

// EncodePrivateKeyPEM encodes an ECDSA private key to SEC 1 PEM format.
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  blockPrivateKey,
		Bytes: der,
	}), nil
}

// DecodePrivateKeyPEM decodes a PEM-encoded ECDSA private key.
func DecodePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockPrivateKey {
		return nil, ErrInvalidPEM
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	if _, ok := cose.CurveOf(key.Curve); !ok {
		return nil, ErrUnsupportedEC
	}
	return key, nil
}

// EncodePublicKeyPEM encodes an ECDSA public key to PKIX PEM format.
func EncodePublicKeyPEM(key *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{
		Type:  blockPublicKey,
		Bytes: der,
	}), nil
}

// DecodePublicKeyPEM decodes a PKIX PEM public key. A private key block is
// accepted and its public half returned.
func DecodePublicKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEM
	}
	switch block.Type {
	case blockPrivateKey:
		key, err := DecodePrivateKeyPEM(data)
		if err != nil {
			return nil, err
		}
		return &key.PublicKey, nil
	case blockPublicKey:
	default:
		return nil, ErrInvalidPEM
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPEM, err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrUnsupportedEC
	}
	if _, ok := cose.CurveOf(ecPub.Curve); !ok {
		return nil, ErrUnsupportedEC
	}
	return ecPub, nil
}

// WriteKeyFile writes a private key to a PEM file with restricted permissions.
func WriteKeyFile(path string, key *ecdsa.PrivateKey) error {
	data, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	return nil
}

// ReadKeyFile reads a private key from a PEM file.
func ReadKeyFile(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePrivateKeyPEM(data)
}

// WritePublicKeyFile writes a public key to a PEM file.
func WritePublicKeyFile(path string, key *ecdsa.PublicKey) error {
	data, err := EncodePublicKeyPEM(key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	return nil
}

// ReadPublicKeyFile reads a public key from a PEM file.
func ReadPublicKeyFile(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePublicKeyPEM(data)
}
