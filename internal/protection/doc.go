// Package protection implements the streaming content-protection pipeline.
//
// A session turns an arbitrarily chunked byte stream of a declared length
// into fixed-size blocks, applies a length-preserving stream cipher to each
// block, and frames protected artifacts with the per-file IV:
//
//	'(' <32 lowercase hex chars> ')' <ciphertext blocks...>
//
// Termination is decided from the declared length, never from the source's
// own end-of-data signal. Sessions are independent; only the immutable
// KeyMaterial is shared between them.
package protection
