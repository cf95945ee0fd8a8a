package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/meshcop-go/pkg/cose"
	"github.com/mash-protocol/meshcop-go/pkg/errcode"
	"github.com/mash-protocol/meshcop-go/pkg/wire"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newKey(t *testing.T, c elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(c, rand.Reader)
	require.NoError(t, err)
	return key
}

func TestIssueVerify(t *testing.T) {
	issuerKey := newKey(t, elliptic.P256())
	proof := newKey(t, elliptic.P384())

	issuer := &Issuer{
		Signer: issuerKey,
		KeyID:  []byte("registrar-1"),
		Name:   "registrar.example",
		Now:    fixedNow,
	}
	data, err := issuer.Issue(Claims{Subject: "commissioner-7", Audience: "border-agent"}, &proof.PublicKey)
	require.NoError(t, err)

	verifier := &Verifier{Key: &issuerKey.PublicKey, Audience: "border-agent", Now: fixedNow}
	tok, err := verifier.Verify(data)
	require.NoError(t, err)

	assert.Equal(t, "registrar.example", tok.Issuer)
	assert.Equal(t, "commissioner-7", tok.Subject)
	assert.Equal(t, testNow, tok.IssuedAt)
	assert.Equal(t, testNow.Add(DefaultLifetime), tok.Expiration)
	assert.NotEqual(t, uuid.Nil, tok.ID)
	assert.Equal(t, []byte("registrar-1"), tok.KeyID)
	require.NotNil(t, tok.ProofKey)
	assert.True(t, tok.ProofKey.Equal(&proof.PublicKey))
}

func TestIssueKeepsExplicitClaims(t *testing.T) {
	issuerKey := newKey(t, elliptic.P256())
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	issuer := &Issuer{Signer: issuerKey, Name: "default", Now: fixedNow}
	data, err := issuer.Issue(Claims{
		Issuer:     "explicit",
		ID:         id,
		Expiration: testNow.Add(time.Hour),
		NotBefore:  testNow.Add(-time.Minute),
	}, nil)
	require.NoError(t, err)

	tok, err := (&Verifier{Key: &issuerKey.PublicKey, Now: fixedNow}).Verify(data)
	require.NoError(t, err)
	assert.Equal(t, "explicit", tok.Issuer)
	assert.Equal(t, id, tok.ID)
	assert.Equal(t, testNow.Add(time.Hour), tok.Expiration)
	assert.Nil(t, tok.ProofKey)
}

func TestVerifyRejects(t *testing.T) {
	issuerKey := newKey(t, elliptic.P256())
	other := newKey(t, elliptic.P256())

	issuer := &Issuer{Signer: issuerKey, Lifetime: time.Hour, Binding: []byte("session-1"), Now: fixedNow}
	data, err := issuer.Issue(Claims{Audience: "ba", NotBefore: testNow}, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier Verifier
	}{
		{"WrongKey", Verifier{Key: &other.PublicKey, Binding: []byte("session-1"), Now: fixedNow}},
		{"WrongBinding", Verifier{Key: &issuerKey.PublicKey, Binding: []byte("session-2"), Now: fixedNow}},
		{"NoBinding", Verifier{Key: &issuerKey.PublicKey, Now: fixedNow}},
		{"Expired", Verifier{Key: &issuerKey.PublicKey, Binding: []byte("session-1"), Now: func() time.Time { return testNow.Add(2 * time.Hour) }}},
		{"NotYetValid", Verifier{Key: &issuerKey.PublicKey, Binding: []byte("session-1"), Now: func() time.Time { return testNow.Add(-time.Minute) }}},
		{"Audience", Verifier{Key: &issuerKey.PublicKey, Binding: []byte("session-1"), Audience: "other", Now: fixedNow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Verify(data)
			assert.ErrorIs(t, err, errcode.ErrSecurity)
		})
	}

	leeway := Verifier{
		Key:     &issuerKey.PublicKey,
		Binding: []byte("session-1"),
		Leeway:  5 * time.Minute,
		Now:     func() time.Time { return testNow.Add(-time.Minute) },
	}
	_, err = leeway.Verify(data)
	assert.NoError(t, err)
}

func TestVerifyMalformed(t *testing.T) {
	issuerKey := newKey(t, elliptic.P256())
	verifier := &Verifier{Key: &issuerKey.PublicKey, Now: fixedNow}

	_, err := verifier.Verify([]byte{0x01})
	assert.ErrorIs(t, err, errcode.ErrBadFormat)

	// A valid envelope whose payload is not a claims map.
	msg := cose.NewSign1Message()
	require.NoError(t, msg.SetPayload([]byte("not claims")))
	require.NoError(t, msg.Sign(issuerKey))
	data, err := msg.Serialize()
	require.NoError(t, err)
	_, err = verifier.Verify(data)
	assert.ErrorIs(t, err, errcode.ErrBadFormat)

	// A claims map whose cti is not a UUID.
	claims, err := wire.Marshal(map[int64]any{7: []byte{0x01, 0x02}})
	require.NoError(t, err)
	msg = cose.NewSign1Message()
	require.NoError(t, msg.SetPayload(claims))
	require.NoError(t, msg.Sign(issuerKey))
	data, err = msg.Serialize()
	require.NoError(t, err)
	_, err = verifier.Verify(data)
	assert.ErrorIs(t, err, errcode.ErrBadFormat)
}

func TestVerifyRequiresExpiration(t *testing.T) {
	issuerKey := newKey(t, elliptic.P256())
	verifier := &Verifier{Key: &issuerKey.PublicKey, Now: fixedNow}

	claims, err := wire.Marshal(map[int64]any{1: "registrar", 2: "comm-1"})
	require.NoError(t, err)
	msg := cose.NewSign1Message()
	require.NoError(t, msg.SetPayload(claims))
	require.NoError(t, msg.Sign(issuerKey))
	data, err := msg.Serialize()
	require.NoError(t, err)

	_, err = verifier.Verify(data)
	assert.ErrorIs(t, err, errcode.ErrSecurity)
}

func TestIssueErrors(t *testing.T) {
	_, err := (&Issuer{}).Issue(Claims{}, nil)
	assert.ErrorIs(t, err, errcode.ErrInvalidArgs)

	issuerKey := newKey(t, elliptic.P256())
	_, err = (&Issuer{Signer: issuerKey}).Issue(Claims{}, "not a key")
	assert.ErrorIs(t, err, errcode.ErrUnsupportedKey)
}
