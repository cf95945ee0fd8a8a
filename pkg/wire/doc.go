// Package wire provides the CBOR codec used by the envelope and key encoding
// packages.
//
// Encoding is deterministic (RFC 8949 core deterministic encoding) so that
// signed structures hash identically on every implementation. Decoding is
// strict: indefinite lengths and duplicate map keys from a peer are rejected.
//
// # Attribute Values
//
// Attribute maps hold integer keys and Values. A Value is one of:
//   - Integer: a signed 64-bit integer
//   - Bytes: a byte string (a present empty string differs from absence)
//   - Map: a nested integer-keyed Map
//   - Array: an ordered list of Values
//
// Any other CBOR type (text, floats, tags, null) fails to decode into a Value.
package wire
