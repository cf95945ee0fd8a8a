// Package joiner implements joiner admission: Joiner ID derivation,
// validation of joiner configuration and the commissioner's admission
// policy.
//
// A joiner is identified either by its factory EUI-64 or by an
// operator-assigned discerner. Both map to an 8-byte Joiner ID:
//
//	id := joiner.ComputeJoinerID(0x0011223344556677)
//	id = joiner.ComputeJoinerIDFromDiscerner(joiner.Discerner{Value: 5, BitLength: 3})
//
// Validation errors are errcode.InvalidArgs errors wrapping one of the
// package sentinels, so callers may test for either.
package joiner
