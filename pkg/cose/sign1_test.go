package cose

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	gocose "github.com/veraison/go-cose"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
	"github.com/mash-protocol/meshcop-go/pkg/log"
	"github.com/mash-protocol/meshcop-go/pkg/wire"
)

var testPayload = []byte("commissioner petition")

// signedMessage returns the wire form of a message signed by priv.
func signedMessage(t *testing.T, priv *ecdsa.PrivateKey, payload, external []byte, opts ...Option) []byte {
	t.Helper()
	msg := NewSign1Message(opts...)
	require.NoError(t, msg.SetPayload(payload))
	if external != nil {
		require.NoError(t, msg.SetExternalData(external))
	}
	require.NoError(t, msg.Sign(priv))
	data, err := msg.Serialize()
	require.NoError(t, err)
	return data
}

func TestSign1RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		curve  elliptic.Curve
		alg    gocose.Algorithm
		sigLen int
	}{
		{"P256", elliptic.P256(), gocose.AlgorithmES256, 64},
		{"P384", elliptic.P384(), gocose.AlgorithmES384, 96},
		{"P521", elliptic.P521(), gocose.AlgorithmES512, 132},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			priv := mustGenerate(t, tt.curve)
			data := signedMessage(t, priv, testPayload, nil)

			msg, err := Deserialize(data)
			require.NoError(t, err)

			alg, ok := msg.Algorithm()
			require.True(t, ok)
			assert.Equal(t, tt.alg, alg)
			assert.Len(t, msg.Signature(), tt.sigLen)

			require.NoError(t, msg.Validate(&priv.PublicKey))
			assert.True(t, msg.Validated())

			payload, ok := msg.Payload()
			require.True(t, ok)
			assert.Equal(t, testPayload, payload)
		})
	}
}

func TestSign1ValidateWithPrivateKey(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	msg, err := Deserialize(signedMessage(t, priv, testPayload, nil))
	require.NoError(t, err)

	assert.NoError(t, msg.Validate(priv))
}

func TestSign1SerializedLayout(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())

	data := signedMessage(t, priv, testPayload, nil)
	// tag(18), array(4), bstr(3) {1: -7}, {}
	prefix := []byte{0xD2, 0x84, 0x43, 0xA1, 0x01, 0x26, 0xA0}
	if !bytes.HasPrefix(data, prefix) {
		t.Errorf("Serialize() prefix = %x, want %x", data[:len(prefix)], prefix)
	}

	untagged := signedMessage(t, priv, testPayload, nil, WithoutTag())
	if untagged[0] != 0x84 {
		t.Errorf("Serialize() with WithoutTag starts with %#x, want 0x84", untagged[0])
	}

	msg, err := Deserialize(untagged)
	require.NoError(t, err)
	assert.NoError(t, msg.Validate(&priv.PublicKey))
}

func TestSign1SerializeReceivedIsStable(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	data := signedMessage(t, priv, testPayload, nil)

	msg, err := Deserialize(data)
	require.NoError(t, err)
	again, err := msg.Serialize()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestSign1Tampering(t *testing.T) {
	for _, c := range []elliptic.Curve{elliptic.P256(), elliptic.P384(), elliptic.P521()} {
		t.Run(c.Params().Name, func(t *testing.T) {
			priv := mustGenerate(t, c)
			data := signedMessage(t, priv, testPayload, nil)
			sigSize := 2 * (c.Params().BitSize + 7) / 8

			payloadAt := bytes.Index(data, testPayload)
			require.Positive(t, payloadAt)

			regions := []struct {
				name       string
				start, end int
			}{
				// D2 84 43 | A1 01 xx
				{"Protected", 3, 6},
				{"Payload", payloadAt, payloadAt + len(testPayload)},
				{"Signature", len(data) - sigSize, len(data)},
			}

			for _, r := range regions {
				for i := r.start; i < r.end; i++ {
					for bit := 0; bit < 8; bit++ {
						tampered := append([]byte(nil), data...)
						tampered[i] ^= 1 << bit

						msg, err := Deserialize(tampered)
						if err != nil {
							if !errors.Is(err, errcode.ErrBadFormat) {
								t.Errorf("%s byte %d bit %d: Deserialize() error = %v, want BAD_FORMAT", r.name, i, bit, err)
							}
							continue
						}
						err = msg.Validate(&priv.PublicKey)
						if !errors.Is(err, errcode.ErrSecurity) {
							t.Errorf("%s byte %d bit %d: Validate() error = %v, want SECURITY", r.name, i, bit, err)
						}
					}
				}
			}
		})
	}
}

func TestSign1ValidateWrongKey(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	other := mustGenerate(t, elliptic.P256())
	p384 := mustGenerate(t, elliptic.P384())
	data := signedMessage(t, priv, testPayload, nil)

	msg, err := Deserialize(data)
	require.NoError(t, err)

	errOther := msg.Validate(&other.PublicKey)
	errCurve := msg.Validate(&p384.PublicKey)
	assert.ErrorIs(t, errOther, errcode.ErrSecurity)
	assert.ErrorIs(t, errCurve, errcode.ErrSecurity)
	// The failure reason is not disclosed.
	assert.Equal(t, errOther.Error(), errCurve.Error())
	assert.False(t, msg.Validated())
}

func TestSign1ValidateRejectsNonECKey(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	msg, err := Deserialize(signedMessage(t, priv, testPayload, nil))
	require.NoError(t, err)

	assert.ErrorIs(t, msg.Validate(&rsaKey.PublicKey), errcode.ErrInvalidArgs)
	assert.ErrorIs(t, msg.Validate(nil), errcode.ErrInvalidArgs)
}

func TestSign1ExternalData(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	external := []byte{0x01, 0x02, 0x03, 0x04}

	t.Run("Matching", func(t *testing.T) {
		msg, err := Deserialize(signedMessage(t, priv, testPayload, external))
		require.NoError(t, err)
		require.NoError(t, msg.SetExternalData(external))
		assert.NoError(t, msg.Validate(&priv.PublicKey))
	})

	t.Run("Missing", func(t *testing.T) {
		msg, err := Deserialize(signedMessage(t, priv, testPayload, external))
		require.NoError(t, err)
		assert.ErrorIs(t, msg.Validate(&priv.PublicKey), errcode.ErrSecurity)
	})

	t.Run("Different", func(t *testing.T) {
		msg, err := Deserialize(signedMessage(t, priv, testPayload, external))
		require.NoError(t, err)
		require.NoError(t, msg.SetExternalData([]byte{0x01, 0x02, 0x03, 0x05}))
		assert.ErrorIs(t, msg.Validate(&priv.PublicKey), errcode.ErrSecurity)
	})

	t.Run("Unexpected", func(t *testing.T) {
		msg, err := Deserialize(signedMessage(t, priv, testPayload, nil))
		require.NoError(t, err)
		require.NoError(t, msg.SetExternalData(external))
		assert.ErrorIs(t, msg.Validate(&priv.PublicKey), errcode.ErrSecurity)
	})

	t.Run("Empty", func(t *testing.T) {
		msg := NewSign1Message()
		assert.ErrorIs(t, msg.SetExternalData(nil), errcode.ErrInvalidArgs)
		assert.ErrorIs(t, msg.SetExternalData([]byte{}), errcode.ErrInvalidArgs)
	})
}

func TestSign1ValidateResetOnChange(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	msg, err := Deserialize(signedMessage(t, priv, testPayload, nil))
	require.NoError(t, err)
	require.NoError(t, msg.Validate(&priv.PublicKey))
	require.True(t, msg.Validated())

	require.NoError(t, msg.SetExternalData([]byte{0x09}))
	assert.False(t, msg.Validated())
	assert.ErrorIs(t, msg.Validate(&priv.PublicKey), errcode.ErrSecurity)
}

func TestSign1EmptyPayload(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	data := signedMessage(t, priv, []byte{}, nil)

	// Payload element is a zero-length byte string, not null.
	wantTail := []byte{0x40, 0x58, 0x40}
	if !bytes.Contains(data, wantTail) {
		t.Errorf("Serialize() = %x, want empty payload followed by signature", data)
	}

	msg, err := Deserialize(data)
	require.NoError(t, err)
	require.NoError(t, msg.Validate(&priv.PublicKey))

	payload, ok := msg.Payload()
	assert.True(t, ok)
	assert.Empty(t, payload)
}

func TestSign1DetachedPayload(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())

	msg := NewSign1Message()
	require.NoError(t, msg.SetPayload(testPayload))
	require.NoError(t, msg.Sign(priv))
	require.NoError(t, msg.DetachPayload())
	data, err := msg.Serialize()
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, testPayload), "detached payload should not be transmitted")

	received, err := Deserialize(data)
	require.NoError(t, err)

	_, ok := received.Payload()
	assert.False(t, ok)
	assert.ErrorIs(t, received.Validate(&priv.PublicKey), errcode.ErrInvalidState)

	require.NoError(t, received.SetPayload(testPayload))
	assert.NoError(t, received.Validate(&priv.PublicKey))
}

func TestSign1SignErrors(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	p224 := mustGenerate(t, elliptic.P224())
	rsaKey, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	t.Run("NoPayload", func(t *testing.T) {
		msg := NewSign1Message()
		assert.ErrorIs(t, msg.Sign(priv), errcode.ErrInvalidArgs)
	})

	t.Run("NilKey", func(t *testing.T) {
		msg := NewSign1Message()
		require.NoError(t, msg.SetPayload(testPayload))
		assert.ErrorIs(t, msg.Sign(nil), errcode.ErrInvalidArgs)
	})

	t.Run("RSAKey", func(t *testing.T) {
		msg := NewSign1Message()
		require.NoError(t, msg.SetPayload(testPayload))
		assert.ErrorIs(t, msg.Sign(rsaKey), errcode.ErrInvalidArgs)
	})

	t.Run("UnsupportedCurve", func(t *testing.T) {
		msg := NewSign1Message()
		require.NoError(t, msg.SetPayload(testPayload))
		assert.ErrorIs(t, msg.Sign(p224), errcode.ErrInvalidArgs)
	})

	t.Run("AlgorithmMismatch", func(t *testing.T) {
		msg := NewSign1Message()
		require.NoError(t, msg.SetPayload(testPayload))
		require.NoError(t, msg.AddIntAttribute(gocose.HeaderLabelAlgorithm, int64(gocose.AlgorithmES384), Protected))
		assert.ErrorIs(t, msg.Sign(priv), errcode.ErrInvalidArgs)
	})

	t.Run("AlgorithmPreset", func(t *testing.T) {
		msg := NewSign1Message()
		require.NoError(t, msg.SetPayload(testPayload))
		require.NoError(t, msg.AddIntAttribute(gocose.HeaderLabelAlgorithm, int64(gocose.AlgorithmES256), Protected))
		assert.NoError(t, msg.Sign(priv))
	})
}

// mockSigner is a crypto.Signer whose behavior is scripted per test.
type mockSigner struct {
	mock.Mock
}

func (m *mockSigner) Public() crypto.PublicKey {
	args := m.Called()
	return args.Get(0)
}

func (m *mockSigner) Sign(r io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	args := m.Called(r, digest, opts)
	sig, _ := args.Get(0).([]byte)
	return sig, args.Error(1)
}

func TestSign1SignerFailures(t *testing.T) {
	priv := mustGenerate(t, elliptic.P384())

	tests := []struct {
		name string
		sig  []byte
		err  error
	}{
		{"BackendError", nil, errors.New("token removed")},
		{"MalformedSignature", []byte{0x30, 0x03, 0x02, 0x01}, nil},
		{"NegativeInteger", []byte{0x30, 0x06, 0x02, 0x01, 0x81, 0x02, 0x01, 0x01}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := &mockSigner{}
			signer.On("Public").Return(&priv.PublicKey)
			signer.On("Sign", mock.Anything, mock.Anything, crypto.SHA384).Return(tt.sig, tt.err)

			msg := NewSign1Message()
			require.NoError(t, msg.SetPayload(testPayload))
			assert.ErrorIs(t, msg.Sign(signer), errcode.ErrSecurity)
			signer.AssertExpectations(t)

			_, err := msg.Serialize()
			assert.ErrorIs(t, err, errcode.ErrInvalidState)
		})
	}
}

func TestSign1StateErrors(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())

	msg := NewSign1Message()
	_, err := msg.Serialize()
	assert.ErrorIs(t, err, errcode.ErrInvalidState)
	assert.ErrorIs(t, msg.Validate(&priv.PublicKey), errcode.ErrInvalidState)
	_, ok := msg.Payload()
	assert.False(t, ok)

	require.NoError(t, msg.SetPayload(testPayload))
	require.NoError(t, msg.Sign(priv))
	_, err = msg.Serialize()
	require.NoError(t, err)

	// A change after signing discards the signature.
	require.NoError(t, msg.AddBytesAttribute(gocose.HeaderLabelKeyID, []byte("kid"), Unprotected))
	assert.Nil(t, msg.Signature())
	_, err = msg.Serialize()
	assert.ErrorIs(t, err, errcode.ErrInvalidState)
}

func TestSign1Free(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	msg, err := Deserialize(signedMessage(t, priv, testPayload, []byte{0x01}))
	require.NoError(t, err)

	msg.Free()
	msg.Free()

	_, err = msg.Serialize()
	assert.ErrorIs(t, err, errcode.ErrInvalidState)
	assert.ErrorIs(t, msg.Validate(&priv.PublicKey), errcode.ErrInvalidState)
	assert.ErrorIs(t, msg.SetPayload(testPayload), errcode.ErrInvalidState)
	assert.ErrorIs(t, msg.Sign(priv), errcode.ErrInvalidState)
	_, ok := msg.Payload()
	assert.False(t, ok)
}

func TestSign1Attributes(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	kid := []byte("commissioner-1")

	msg := NewSign1Message()
	require.NoError(t, msg.SetPayload(testPayload))
	require.NoError(t, msg.AddBytesAttribute(gocose.HeaderLabelKeyID, kid, Unprotected))
	require.NoError(t, msg.AddIntAttribute(-70000, 42, Protected))

	// Same key, other placement.
	err := msg.AddIntAttribute(gocose.HeaderLabelKeyID, 1, Protected)
	assert.ErrorIs(t, err, errcode.ErrInvalidArgs)

	// Replacement in the same placement is allowed.
	require.NoError(t, msg.AddIntAttribute(-70000, 43, Protected))

	assert.ErrorIs(t, msg.AddBytesAttribute(5, nil, Protected), errcode.ErrInvalidArgs)
	assert.ErrorIs(t, msg.AddAttribute(5, wire.Value{}, Protected), errcode.ErrInvalidArgs)
	assert.ErrorIs(t, msg.AddIntAttribute(5, 1, Placement(9)), errcode.ErrInvalidArgs)

	require.NoError(t, msg.Sign(priv))
	data, err := msg.Serialize()
	require.NoError(t, err)

	received, err := Deserialize(data)
	require.NoError(t, err)
	require.NoError(t, received.Validate(&priv.PublicKey))

	gotKid, ok := received.KeyID()
	require.True(t, ok)
	assert.Equal(t, kid, gotKid)

	v, placement, ok := received.Attribute(-70000)
	require.True(t, ok)
	assert.Equal(t, Protected, placement)
	n, _ := v.AsInt()
	assert.Equal(t, int64(43), n)
}

func TestSign1UnprotectedChangeKeepsSignature(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	msg, err := Deserialize(signedMessage(t, priv, testPayload, nil))
	require.NoError(t, err)

	require.NoError(t, msg.AddBytesAttribute(gocose.HeaderLabelKeyID, []byte("late"), Unprotected))
	assert.NoError(t, msg.Validate(&priv.PublicKey))
}

func TestSign1ValidateEncodedKey(t *testing.T) {
	priv := mustGenerate(t, elliptic.P521())
	msg, err := Deserialize(signedMessage(t, priv, testPayload, nil))
	require.NoError(t, err)

	coseKey, err := EncodeKey(&priv.PublicKey, nil)
	require.NoError(t, err)
	assert.NoError(t, msg.ValidateEncodedKey(coseKey))

	assert.ErrorIs(t, msg.ValidateEncodedKey([]byte{0xA0}), errcode.ErrInvalidArgs)
	assert.ErrorIs(t, msg.ValidateEncodedKey(nil), errcode.ErrInvalidArgs)
}

func TestDeserializeRejects(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	valid := signedMessage(t, priv, testPayload, nil)

	encode := func(v any) []byte {
		data, err := cbor.Marshal(v)
		require.NoError(t, err)
		return data
	}
	sig := make([]byte, 64)
	protected := []byte{0xA1, 0x01, 0x26}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Empty", nil, errcode.ErrInvalidArgs},
		{"WrongTag", encode(cbor.Tag{Number: 98, Content: []any{protected, map[int]any{}, testPayload, sig}}), errcode.ErrBadFormat},
		{"NotArray", encode(map[int]int{1: 1}), errcode.ErrBadFormat},
		{"ThreeElements", encode([]any{protected, map[int]any{}, testPayload}), errcode.ErrBadFormat},
		{"FiveElements", encode([]any{protected, map[int]any{}, testPayload, sig, sig}), errcode.ErrBadFormat},
		{"ProtectedNotBytes", encode([]any{map[int]int{1: -7}, map[int]any{}, testPayload, sig}), errcode.ErrBadFormat},
		{"ProtectedNotMap", encode([]any{[]byte{0x01}, map[int]any{}, testPayload, sig}), errcode.ErrBadFormat},
		{"UnprotectedNotMap", encode([]any{protected, []int{}, testPayload, sig}), errcode.ErrBadFormat},
		{"PayloadNotBytes", encode([]any{protected, map[int]any{}, 7, sig}), errcode.ErrBadFormat},
		{"SignatureNotBytes", encode([]any{protected, map[int]any{}, testPayload, "sig"}), errcode.ErrBadFormat},
		{"DuplicateLabel", encode([]any{protected, map[int]any{1: -7}, testPayload, sig}), errcode.ErrBadFormat},
		{"TrailingBytes", append(append([]byte(nil), valid...), 0x00), errcode.ErrBadFormat},
		{"Truncated", valid[:len(valid)-1], errcode.ErrBadFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Deserialize() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSign1Logging(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	logger := &recordingLogger{}

	msg := NewSign1Message(WithLogger(logger))
	require.NoError(t, msg.SetPayload(testPayload))
	require.NoError(t, msg.AddBytesAttribute(gocose.HeaderLabelKeyID, []byte{0x0A}, Unprotected))
	require.NoError(t, msg.Sign(priv))
	data, err := msg.Serialize()
	require.NoError(t, err)

	received, err := Deserialize(data, WithLogger(logger))
	require.NoError(t, err)
	other := mustGenerate(t, elliptic.P256())
	_ = received.Validate(&other.PublicKey)

	require.Len(t, logger.events, 3)
	assert.Equal(t, "sign", logger.events[0].Operation)
	assert.Equal(t, []byte{0x0A}, logger.events[0].KeyID)
	assert.Equal(t, "deserialize", logger.events[1].Operation)
	assert.Equal(t, log.OutcomeFailure, logger.events[2].Outcome)
	assert.Equal(t, errcode.Security, logger.events[2].Code)
}

type recordingLogger struct {
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.events = append(r.events, e)
}

func TestSign1InteropVerifiedByGoCOSE(t *testing.T) {
	priv := mustGenerate(t, elliptic.P256())
	external := []byte("session")
	data := signedMessage(t, priv, testPayload, external)

	var msg gocose.Sign1Message
	require.NoError(t, msg.UnmarshalCBOR(data))
	assert.Equal(t, testPayload, msg.Payload)

	verifier, err := gocose.NewVerifier(gocose.AlgorithmES256, &priv.PublicKey)
	require.NoError(t, err)
	assert.NoError(t, msg.Verify(external, verifier))
}

func TestSign1InteropSignedByGoCOSE(t *testing.T) {
	priv := mustGenerate(t, elliptic.P384())
	external := []byte("session")

	msg := gocose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(gocose.AlgorithmES384)
	msg.Payload = testPayload
	signer, err := gocose.NewSigner(gocose.AlgorithmES384, priv)
	require.NoError(t, err)
	require.NoError(t, msg.Sign(rand.Reader, external, signer))
	data, err := msg.MarshalCBOR()
	require.NoError(t, err)

	received, err := Deserialize(data)
	require.NoError(t, err)
	require.NoError(t, received.SetExternalData(external))
	assert.NoError(t, received.Validate(&priv.PublicKey))
}
