// Package cose implements the COSE structures used during commissioning:
// COSE_Key encoding of EC public keys and single-signer COSE_Sign1
// envelopes (RFC 9052).
//
// Only ECDSA on P-256, P-384 and P-521 is supported, paired with ES256,
// ES384 and ES512 respectively. Signatures are carried in the raw r||s form
// with each half padded to the curve's coordinate width.
//
// # Lifecycle
//
// A Sign1Message moves through these states:
//
//	empty -> configured -> signed          (local signer)
//	received -> validated                  (from Deserialize)
//
// Changing a signed message discards the signature; changing a validated
// message requires validating it again. Free releases the message and makes
// every later call fail with errcode.InvalidState.
//
// # Errors
//
// All errors are *errcode.Error values. Signature verification failures are
// always errcode.Security with the same message, whatever check failed.
package cose
