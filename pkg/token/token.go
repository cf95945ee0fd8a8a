package token

import (
	"crypto"
	"time"

	"github.com/google/uuid"
	gocose "github.com/veraison/go-cose"

	"github.com/mash-protocol/meshcop-go/pkg/cose"
	"github.com/mash-protocol/meshcop-go/pkg/errcode"
	"github.com/mash-protocol/meshcop-go/pkg/log"
)

// DefaultLifetime is the validity of a token issued without an expiration.
const DefaultLifetime = 24 * time.Hour

// Issuer signs commissioner tokens.
type Issuer struct {
	// Signer is the issuer's EC private key.
	Signer crypto.Signer

	// KeyID, if set, is written to the protected kid header.
	KeyID []byte

	// Name is used as the iss claim when the claims leave it empty.
	Name string

	// Lifetime applies when the claims have no expiration. Zero means
	// DefaultLifetime.
	Lifetime time.Duration

	// Binding, if set, is bound into the signature as external data.
	Binding []byte

	Logger log.Logger

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Issue signs claims, binding proofKey through the cnf claim. Missing iat,
// exp, iss and cti claims are filled in.
func (i *Issuer) Issue(claims Claims, proofKey crypto.PublicKey) ([]byte, error) {
	data, err := i.issue(&claims, proofKey)

	event := log.Result(log.CategoryToken, "issue", err)
	event.KeyID = i.KeyID
	if err == nil {
		event.Detail = claims.ID.String()
	}
	log.Emit(i.Logger, event)
	return data, err
}

func (i *Issuer) issue(claims *Claims, proofKey crypto.PublicKey) ([]byte, error) {
	if i.Signer == nil {
		return nil, errcode.New(errcode.InvalidArgs, "token issuer has no signing key")
	}

	now := i.now()
	if claims.IssuedAt.IsZero() {
		claims.IssuedAt = now
	}
	if claims.Expiration.IsZero() {
		lifetime := i.Lifetime
		if lifetime <= 0 {
			lifetime = DefaultLifetime
		}
		claims.Expiration = claims.IssuedAt.Add(lifetime)
	}
	if claims.Issuer == "" {
		claims.Issuer = i.Name
	}
	if claims.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, errcode.Wrap(errcode.Unknown, err, "generate token ID")
		}
		claims.ID = id
	}

	var coseKey []byte
	if proofKey != nil {
		var err error
		if coseKey, err = cose.EncodeKey(proofKey, nil); err != nil {
			return nil, err
		}
	}

	payload, err := encodeClaims(*claims, coseKey)
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message(cose.WithLogger(i.Logger))
	defer msg.Free()
	if err := msg.SetPayload(payload); err != nil {
		return nil, err
	}
	if len(i.KeyID) > 0 {
		if err := msg.AddBytesAttribute(gocose.HeaderLabelKeyID, i.KeyID, cose.Protected); err != nil {
			return nil, err
		}
	}
	if len(i.Binding) > 0 {
		if err := msg.SetExternalData(i.Binding); err != nil {
			return nil, err
		}
	}
	if err := msg.Sign(i.Signer); err != nil {
		return nil, err
	}
	return msg.Serialize()
}

// Verifier checks commissioner tokens.
type Verifier struct {
	// Key is the issuer's EC public key.
	Key crypto.PublicKey

	// Audience, if set, must equal the aud claim.
	Audience string

	// Binding must equal the issuer's Binding.
	Binding []byte

	// Leeway is the clock skew tolerated on exp and nbf.
	Leeway time.Duration

	Logger log.Logger

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify validates a token and returns its claims. Signature, lifetime and
// audience failures, including a missing exp claim, are errcode.Security;
// malformed tokens are errcode.BadFormat.
func (v *Verifier) Verify(data []byte) (*Token, error) {
	tok, err := v.verify(data)

	event := log.Result(log.CategoryToken, "verify", err)
	if tok != nil {
		event.KeyID = tok.KeyID
		event.Detail = tok.ID.String()
	}
	log.Emit(v.Logger, event)
	return tok, err
}

func (v *Verifier) verify(data []byte) (*Token, error) {
	msg, err := cose.Deserialize(data, cose.WithLogger(v.Logger))
	if err != nil {
		return nil, err
	}
	defer msg.Free()

	if len(v.Binding) > 0 {
		if err := msg.SetExternalData(v.Binding); err != nil {
			return nil, err
		}
	}
	if err := msg.Validate(v.Key); err != nil {
		return nil, err
	}

	payload, ok := msg.Payload()
	if !ok {
		return nil, errcode.New(errcode.BadFormat, "token has no claims")
	}
	claims, coseKey, err := decodeClaims(payload)
	if err != nil {
		return nil, err
	}

	now := v.now()
	if claims.Expiration.IsZero() {
		return nil, errcode.New(errcode.Security, "token has no expiration")
	}
	if now.After(claims.Expiration.Add(v.Leeway)) {
		return nil, errcode.New(errcode.Security, "token expired")
	}
	if !claims.NotBefore.IsZero() && now.Add(v.Leeway).Before(claims.NotBefore) {
		return nil, errcode.New(errcode.Security, "token not yet valid")
	}
	if v.Audience != "" && claims.Audience != v.Audience {
		return nil, errcode.New(errcode.Security, "token audience mismatch")
	}

	tok := &Token{Claims: claims}
	if kid, ok := msg.KeyID(); ok {
		tok.KeyID = append([]byte(nil), kid...)
	}
	if len(coseKey) > 0 {
		k, err := cose.DecodeKey(coseKey)
		if err != nil {
			return nil, errcode.Wrap(errcode.BadFormat, err, "decode token proof key")
		}
		if tok.ProofKey, err = k.PublicKey(); err != nil {
			return nil, errcode.Wrap(errcode.BadFormat, err, "decode token proof key")
		}
	}
	return tok, nil
}
