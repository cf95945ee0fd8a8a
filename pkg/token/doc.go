// Package token issues and verifies commissioner tokens: CBOR Web Token
// claim sets (RFC 8392) carried in a COSE_Sign1 envelope, with the
// commissioner's public key bound through the cnf claim (RFC 8747).
//
// The issuer signs with its private key; a verifier trusts the token only
// after the signature, the lifetime and the optional audience check out.
package token
