package cose

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"io"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	gocose "github.com/veraison/go-cose"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
	"github.com/mash-protocol/meshcop-go/pkg/log"
	"github.com/mash-protocol/meshcop-go/pkg/wire"
)

// CBORTagSign1 is the CBOR tag of a COSE_Sign1 structure.
const CBORTagSign1 = 18

// sign1Context is the Sig_structure context string for COSE_Sign1.
const sign1Context = "Signature1"

// errValidateFailed is returned for every cryptographic verification
// failure. The message is fixed so that callers cannot learn which check
// failed.
var errValidateFailed = errcode.New(errcode.Security, "validate COSE SIGN1 message failed")

// Placement selects the attribute map an attribute goes to.
type Placement uint8

const (
	// Protected attributes are covered by the signature.
	Protected Placement = 1

	// Unprotected attributes are transmitted but not signed.
	Unprotected Placement = 2
)

// String returns the placement name.
func (p Placement) String() string {
	switch p {
	case Protected:
		return "PROTECTED"
	case Unprotected:
		return "UNPROTECTED"
	default:
		return "UNKNOWN"
	}
}

// state is the lifecycle position of a Sign1Message.
type state uint8

const (
	stateEmpty state = iota
	stateConfigured
	stateSigned
	stateReceived
	stateValidated
	stateFreed
)

// String returns the state name.
func (s state) String() string {
	switch s {
	case stateEmpty:
		return "EMPTY"
	case stateConfigured:
		return "CONFIGURED"
	case stateSigned:
		return "SIGNED"
	case stateReceived:
		return "RECEIVED"
	case stateValidated:
		return "VALIDATED"
	case stateFreed:
		return "FREED"
	default:
		return "UNKNOWN"
	}
}

// Sign1Message is a single-signer COSE_Sign1 message (RFC 9052 §4.2).
//
// A message is either built locally and signed:
//
//	msg := cose.NewSign1Message()
//	msg.SetPayload(content)
//	_ = msg.SetExternalData(sessionID)
//	_ = msg.Sign(privateKey)
//	data, _ := msg.Serialize()
//
// or received from a peer and validated:
//
//	msg, err := cose.Deserialize(data)
//	_ = msg.SetExternalData(sessionID)
//	err = msg.Validate(publicKey)
//	content, _ := msg.Payload()
//
// A Sign1Message is not safe for concurrent use.
type Sign1Message struct {
	protected   *wire.Map
	unprotected *wire.Map

	// protectedRaw is the encoded protected map as signed or as received.
	// nil means it must be encoded from protected.
	protectedRaw []byte

	payload    []byte
	hasPayload bool
	detached   bool

	external  []byte
	signature []byte

	// encoded caches the wire form of a received message until it changes.
	encoded []byte

	state  state
	tagged bool
	rand   io.Reader
	logger log.Logger
}

// Option configures a Sign1Message.
type Option func(*Sign1Message)

// WithLogger sets the security event logger.
func WithLogger(l log.Logger) Option {
	return func(m *Sign1Message) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRand sets the randomness source used for signing.
func WithRand(r io.Reader) Option {
	return func(m *Sign1Message) {
		if r != nil {
			m.rand = r
		}
	}
}

// WithoutTag makes Serialize omit the COSE_Sign1 CBOR tag.
func WithoutTag() Option {
	return func(m *Sign1Message) {
		m.tagged = false
	}
}

// NewSign1Message returns an empty message.
func NewSign1Message(opts ...Option) *Sign1Message {
	m := &Sign1Message{
		protected:   wire.NewMap(),
		unprotected: wire.NewMap(),
		tagged:      true,
		rand:        rand.Reader,
		logger:      log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// touch records a mutation. A signed message must be signed again; a
// received message must be validated again.
func (m *Sign1Message) touch() {
	m.encoded = nil
	switch m.state {
	case stateEmpty, stateSigned:
		m.state = stateConfigured
		m.signature = nil
	case stateValidated:
		m.state = stateReceived
	}
}

func (m *Sign1Message) checkLive() error {
	if m.state == stateFreed {
		return errcode.New(errcode.InvalidState, "COSE SIGN1 message has been freed")
	}
	return nil
}

// SetPayload sets the content to be signed. An empty payload is encoded as
// a present zero-length byte string.
func (m *Sign1Message) SetPayload(payload []byte) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	m.payload = append(make([]byte, 0, len(payload)), payload...)
	m.hasPayload = true
	m.touch()
	return nil
}

// DetachPayload makes Serialize transmit a null payload. The payload is
// still signed; the receiver supplies it with SetPayload before Validate.
func (m *Sign1Message) DetachPayload() error {
	if err := m.checkLive(); err != nil {
		return err
	}
	m.detached = true
	m.encoded = nil
	return nil
}

// SetExternalData sets data bound into the signature but never transmitted.
// Both signer and validator must set the same data.
func (m *Sign1Message) SetExternalData(external []byte) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if len(external) == 0 {
		return errcode.New(errcode.InvalidArgs, "cannot set COSE SIGN1 message to empty external data")
	}
	m.external = append([]byte(nil), external...)
	m.touch()
	return nil
}

// AddAttribute stores an attribute in the protected or unprotected map.
// An existing attribute with the same key and placement is replaced; a key
// already present in the other map is rejected.
func (m *Sign1Message) AddAttribute(key int64, value wire.Value, p Placement) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if !value.IsValid() {
		return errcode.New(errcode.InvalidArgs, "add invalid COSE SIGN1 message attribute %d", key)
	}

	var target, other *wire.Map
	switch p {
	case Protected:
		target, other = m.protected, m.unprotected
	case Unprotected:
		target, other = m.unprotected, m.protected
	default:
		return errcode.New(errcode.InvalidArgs, "invalid COSE SIGN1 attribute placement %d", p)
	}
	if other.Has(key) {
		return errcode.New(errcode.InvalidArgs, "COSE SIGN1 attribute %d already present in other header", key)
	}

	target.Set(key, value)
	if p == Protected {
		m.protectedRaw = nil
	}
	m.touch()
	return nil
}

// AddIntAttribute stores an integer attribute.
func (m *Sign1Message) AddIntAttribute(key, value int64, p Placement) error {
	return m.AddAttribute(key, wire.IntValue(value), p)
}

// AddBytesAttribute stores a byte string attribute. value must not be empty.
func (m *Sign1Message) AddBytesAttribute(key int64, value []byte, p Placement) error {
	if len(value) == 0 {
		return errcode.New(errcode.InvalidArgs, "add empty COSE SIGN1 message attribute %d", key)
	}
	return m.AddAttribute(key, wire.BytesValue(value), p)
}

// Attribute returns the attribute stored under key and where it was found.
func (m *Sign1Message) Attribute(key int64) (wire.Value, Placement, bool) {
	if v, ok := m.protected.Get(key); ok {
		return v, Protected, true
	}
	if v, ok := m.unprotected.Get(key); ok {
		return v, Unprotected, true
	}
	return wire.Value{}, 0, false
}

// KeyID returns the kid header, which selects the validation key.
func (m *Sign1Message) KeyID() ([]byte, bool) {
	v, _, ok := m.Attribute(gocose.HeaderLabelKeyID)
	if !ok {
		return nil, false
	}
	return v.AsBytes()
}

// Algorithm returns the protected alg header.
func (m *Sign1Message) Algorithm() (gocose.Algorithm, bool) {
	v, ok := m.protected.Get(gocose.HeaderLabelAlgorithm)
	if !ok {
		return 0, false
	}
	alg, ok := v.AsInt()
	return gocose.Algorithm(alg), ok
}

// Payload returns the message content. It is available after Sign or
// Deserialize, before validation, so that callers can inspect the content;
// it must not be trusted until Validate succeeds. It reports false when the
// payload was transmitted detached and has not been supplied.
func (m *Sign1Message) Payload() ([]byte, bool) {
	switch m.state {
	case stateSigned, stateReceived, stateValidated:
	default:
		return nil, false
	}
	if !m.hasPayload {
		return nil, false
	}
	return m.payload, true
}

// Signature returns the raw r||s signature, or nil before Sign or Deserialize.
func (m *Sign1Message) Signature() []byte {
	return m.signature
}

// Validated reports whether Validate has succeeded since the last change.
func (m *Sign1Message) Validated() bool {
	return m.state == stateValidated
}

// encodeProtected returns the protected map as a CBOR byte string body. An
// empty map is encoded as a zero-length string.
func (m *Sign1Message) encodeProtected() ([]byte, error) {
	if m.protectedRaw != nil {
		return m.protectedRaw, nil
	}
	if m.protected.Len() == 0 {
		return []byte{}, nil
	}
	data, err := m.protected.MarshalCBOR()
	if err != nil {
		return nil, errcode.Wrap(errcode.EncodingFailed, err, "encode COSE SIGN1 protected header")
	}
	return data, nil
}

// toBeSigned builds the Sig_structure:
//
//	["Signature1", protected, external_aad, payload]
func (m *Sign1Message) toBeSigned(protected []byte) ([]byte, error) {
	external := m.external
	if external == nil {
		external = []byte{}
	}
	payload := m.payload
	if payload == nil {
		payload = []byte{}
	}
	data, err := wire.Marshal([]any{sign1Context, protected, external, payload})
	if err != nil {
		return nil, errcode.Wrap(errcode.EncodingFailed, err, "encode COSE SIGN1 Sig_structure")
	}
	return data, nil
}

// Sign signs the message with an EC private key on a supported curve. The
// alg header is added to the protected map when absent and must match the
// key's curve when present. The key is not retained.
func (m *Sign1Message) Sign(key crypto.Signer) error {
	err := m.sign(key)
	event := log.Result(log.CategoryEnvelope, "sign", err)
	event.KeyID, _ = m.KeyID()
	log.Emit(m.logger, event)
	return err
}

func (m *Sign1Message) sign(key crypto.Signer) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	if key == nil {
		return errcode.New(errcode.InvalidArgs, "sign COSE SIGN1 message without valid EC private key")
	}
	_, curve, err := ecPublicKey(key.Public())
	if err != nil {
		return errcode.Wrap(errcode.InvalidArgs, err, "sign COSE SIGN1 message without valid EC private key")
	}
	if !m.hasPayload {
		return errcode.New(errcode.InvalidArgs, "sign COSE SIGN1 message without payload")
	}

	alg := curve.Algorithm()
	if v, ok := m.protected.Get(gocose.HeaderLabelAlgorithm); ok {
		if got, isInt := v.AsInt(); !isInt || gocose.Algorithm(got) != alg {
			return errcode.New(errcode.InvalidArgs, "COSE SIGN1 alg header %s does not match %s key", v, curve)
		}
	} else {
		m.protected.Set(gocose.HeaderLabelAlgorithm, wire.IntValue(int64(alg)))
		m.protectedRaw = nil
	}

	protected, err := m.encodeProtected()
	if err != nil {
		return err
	}
	tbs, err := m.toBeSigned(protected)
	if err != nil {
		return err
	}

	der, err := key.Sign(m.rand, curve.digest(tbs), curve.hash())
	if err != nil {
		return errcode.Wrap(errcode.Security, err, "sign COSE SIGN1 message failed")
	}
	sig, err := rawSignature(der, curve.CoordinateSize())
	if err != nil {
		return errcode.Wrap(errcode.Security, err, "sign COSE SIGN1 message failed")
	}

	m.protectedRaw = protected
	m.signature = sig
	m.encoded = nil
	m.state = stateSigned
	return nil
}

// sign1Wire is the COSE_Sign1 array layout.
type sign1Wire struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected *wire.Map
	Payload     cbor.RawMessage
	Signature   []byte
}

// Serialize returns the wire encoding. It is available only after Sign or
// Deserialize; the result has no fixed maximum size.
func (m *Sign1Message) Serialize() ([]byte, error) {
	if err := m.checkLive(); err != nil {
		return nil, err
	}
	switch m.state {
	case stateSigned, stateReceived, stateValidated:
	default:
		return nil, errcode.New(errcode.InvalidState, "serialize COSE SIGN1 message in state %s", m.state)
	}
	if m.encoded != nil {
		return append([]byte(nil), m.encoded...), nil
	}

	protected, err := m.encodeProtected()
	if err != nil {
		return nil, err
	}

	payload := wire.Null()
	if m.hasPayload && !m.detached {
		p := m.payload
		if p == nil {
			p = []byte{}
		}
		if payload, err = wire.Marshal(p); err != nil {
			return nil, errcode.Wrap(errcode.EncodingFailed, err, "encode COSE SIGN1 payload")
		}
	}

	signature := m.signature
	if signature == nil {
		signature = []byte{}
	}

	var content any = sign1Wire{
		Protected:   protected,
		Unprotected: m.unprotected,
		Payload:     payload,
		Signature:   signature,
	}
	if m.tagged {
		content = cbor.Tag{Number: CBORTagSign1, Content: content}
	}

	data, err := wire.Marshal(content)
	if err != nil {
		return nil, errcode.Wrap(errcode.EncodingFailed, err, "encode COSE SIGN1 message")
	}
	return data, nil
}

// Deserialize parses a tagged or untagged COSE_Sign1 message. Empty input is
// errcode.InvalidArgs; anything that is not a well-formed COSE_Sign1 is
// errcode.BadFormat. The result must be validated before its payload is
// trusted.
func Deserialize(data []byte, opts ...Option) (*Sign1Message, error) {
	m := NewSign1Message(opts...)
	err := m.deserialize(data)
	log.Emit(m.logger, log.Result(log.CategoryEnvelope, "deserialize", err))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Sign1Message) deserialize(data []byte) error {
	if len(data) == 0 {
		return errcode.New(errcode.InvalidArgs, "COSE SIGN1 message must not be empty")
	}
	badFormat := func(reason string) error {
		return errcode.New(errcode.BadFormat, "deserialize COSE SIGN1 message: %s", reason)
	}

	content := data
	m.tagged = false
	if mt, _ := wire.PeekMajorType(data); mt == wire.MajorTag {
		var tag cbor.RawTag
		if err := wire.Unmarshal(data, &tag); err != nil {
			return badFormat("malformed tag")
		}
		if tag.Number != CBORTagSign1 {
			return badFormat("unexpected tag")
		}
		content = tag.Content
		m.tagged = true
	}

	if mt, _ := wire.PeekMajorType(content); mt != wire.MajorArray {
		return badFormat("not an array")
	}
	var elems []cbor.RawMessage
	if err := wire.Unmarshal(content, &elems); err != nil {
		return badFormat("malformed array")
	}
	if len(elems) != 4 {
		return badFormat("array must have 4 elements")
	}

	// protected: bstr .cbor header_map / bstr .size 0
	if mt, _ := wire.PeekMajorType(elems[0]); mt != wire.MajorBytes {
		return badFormat("protected header is not a byte string")
	}
	var protectedRaw []byte
	if err := wire.Unmarshal(elems[0], &protectedRaw); err != nil {
		return badFormat("malformed protected header")
	}
	protected := wire.NewMap()
	if len(protectedRaw) > 0 {
		if err := protected.UnmarshalCBOR(protectedRaw); err != nil {
			return badFormat("malformed protected header")
		}
	}

	unprotected := wire.NewMap()
	if err := unprotected.UnmarshalCBOR(elems[1]); err != nil {
		return badFormat("malformed unprotected header")
	}
	for _, k := range unprotected.Keys() {
		if protected.Has(k) {
			return badFormat("duplicate header label")
		}
	}

	var payload []byte
	hasPayload := false
	if !wire.IsNull(elems[2]) {
		if mt, _ := wire.PeekMajorType(elems[2]); mt != wire.MajorBytes {
			return badFormat("payload is not a byte string")
		}
		if err := wire.Unmarshal(elems[2], &payload); err != nil {
			return badFormat("malformed payload")
		}
		if payload == nil {
			payload = []byte{}
		}
		hasPayload = true
	}

	if mt, _ := wire.PeekMajorType(elems[3]); mt != wire.MajorBytes {
		return badFormat("signature is not a byte string")
	}
	var signature []byte
	if err := wire.Unmarshal(elems[3], &signature); err != nil {
		return badFormat("malformed signature")
	}

	if protectedRaw == nil {
		protectedRaw = []byte{}
	}
	m.protected = protected
	m.unprotected = unprotected
	m.protectedRaw = protectedRaw
	m.payload = payload
	m.hasPayload = hasPayload
	m.detached = !hasPayload
	m.signature = signature
	m.encoded = append([]byte(nil), data...)
	m.state = stateReceived
	return nil
}

// Validate verifies the signature with an EC public key (or the public half
// of a private key). A key that is not an EC key on a supported curve is
// errcode.InvalidArgs. Every verification failure is errcode.Security with
// the same message.
func (m *Sign1Message) Validate(key crypto.PublicKey) error {
	err := m.validateWith(func() (*ecdsa.PublicKey, Curve, error) {
		pub, curve, err := ecPublicKey(key)
		if err != nil {
			return nil, 0, errcode.Wrap(errcode.InvalidArgs, err, "validate COSE SIGN1 message without valid EC public key")
		}
		return pub, curve, nil
	})
	m.logValidate(err)
	return err
}

// ValidateEncodedKey verifies the signature with a COSE_Key as produced by
// EncodeKey.
func (m *Sign1Message) ValidateEncodedKey(coseKey []byte) error {
	err := m.validateWith(func() (*ecdsa.PublicKey, Curve, error) {
		k, err := DecodeKey(coseKey)
		if err != nil {
			return nil, 0, errcode.Wrap(errcode.InvalidArgs, err, "validate COSE SIGN1 message with invalid public key")
		}
		pub, err := k.PublicKey()
		if err != nil {
			return nil, 0, err
		}
		return pub, k.Curve, nil
	})
	m.logValidate(err)
	return err
}

func (m *Sign1Message) logValidate(err error) {
	event := log.Result(log.CategoryEnvelope, "validate", err)
	event.KeyID, _ = m.KeyID()
	log.Emit(m.logger, event)
}

func (m *Sign1Message) validateWith(resolve func() (*ecdsa.PublicKey, Curve, error)) error {
	if err := m.checkLive(); err != nil {
		return err
	}
	switch m.state {
	case stateSigned, stateReceived, stateValidated:
	default:
		return errcode.New(errcode.InvalidState, "validate COSE SIGN1 message in state %s", m.state)
	}
	if !m.hasPayload {
		return errcode.New(errcode.InvalidState, "validate COSE SIGN1 message without payload")
	}

	pub, curve, err := resolve()
	if err != nil {
		return err
	}

	if alg, ok := m.Algorithm(); !ok || alg != curve.Algorithm() {
		return errValidateFailed
	}
	size := curve.CoordinateSize()
	if len(m.signature) != 2*size {
		return errValidateFailed
	}

	protected, err := m.encodeProtected()
	if err != nil {
		return errValidateFailed
	}
	tbs, err := m.toBeSigned(protected)
	if err != nil {
		return errValidateFailed
	}

	r := new(big.Int).SetBytes(m.signature[:size])
	s := new(big.Int).SetBytes(m.signature[size:])
	if !ecdsa.Verify(pub, curve.digest(tbs), r, s) {
		return errValidateFailed
	}

	if m.state != stateSigned {
		m.state = stateValidated
	}
	return nil
}

// Free releases the message state. It is safe to call more than once; every
// other method fails afterwards.
func (m *Sign1Message) Free() {
	if m.state == stateFreed {
		return
	}
	clear(m.external)
	*m = Sign1Message{
		protected:   wire.NewMap(),
		unprotected: wire.NewMap(),
		state:       stateFreed,
		logger:      log.NoopLogger{},
	}
}

// Equal reports whether two messages have identical wire encodings.
func Equal(a, b *Sign1Message) bool {
	da, errA := a.Serialize()
	db, errB := b.Serialize()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}
