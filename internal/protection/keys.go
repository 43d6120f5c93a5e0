package protection

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Algorithm names a length-preserving stream transform.
type Algorithm string

// Supported algorithms.
const (
	AlgorithmAES256CTR Algorithm = "aes-256-ctr"
	AlgorithmAES192CTR Algorithm = "aes-192-ctr"
	AlgorithmAES128CTR Algorithm = "aes-128-ctr"
	AlgorithmChaCha20  Algorithm = "chacha20"

	// DefaultAlgorithm is used when no algorithm is configured.
	DefaultAlgorithm = AlgorithmAES256CTR
)

// HKDF parameters for deriving the cipher key from the shared key.
const (
	keyDerivationSalt = "protected-store-v1"
	keyDerivationInfo = "file-content-key"
)

// KeySize returns the cipher key length for the algorithm.
func (a Algorithm) KeySize() (int, error) {
	switch a {
	case AlgorithmAES256CTR, AlgorithmChaCha20:
		return 32, nil
	case AlgorithmAES192CTR:
		return 24, nil
	case AlgorithmAES128CTR:
		return 16, nil
	default:
		return 0, fmt.Errorf("%w: unsupported algorithm %q", ErrConfiguration, string(a))
	}
}

// KeyMaterial is the process-wide protection configuration: an algorithm
// and the key derived from the shared secret. It is immutable after
// construction and safe for concurrent use by any number of sessions.
// A nil *KeyMaterial disables protection.
type KeyMaterial struct {
	algorithm Algorithm
	key       []byte
	failOpen  bool
}

// KeyOption customizes KeyMaterial construction.
type KeyOption func(*KeyMaterial)

// WithFailOpen makes cipher failures pass data through unmodified instead
// of failing the session. Data written this way is stored in clear.
func WithFailOpen(failOpen bool) KeyOption {
	return func(km *KeyMaterial) {
		km.failOpen = failOpen
	}
}

// NewKeyMaterial derives the cipher key for algorithm from sharedKey.
func NewKeyMaterial(algorithm Algorithm, sharedKey []byte, opts ...KeyOption) (*KeyMaterial, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}

	keySize, err := algorithm.KeySize()
	if err != nil {
		return nil, err
	}

	if len(sharedKey) == 0 {
		return nil, fmt.Errorf("%w: shared key is empty", ErrConfiguration)
	}

	reader := hkdf.New(sha256.New, sharedKey, []byte(keyDerivationSalt), []byte(keyDerivationInfo+":"+string(algorithm)))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("%w: key derivation failed: %v", ErrConfiguration, err)
	}

	km := &KeyMaterial{
		algorithm: algorithm,
		key:       key,
	}
	for _, opt := range opts {
		opt(km)
	}
	return km, nil
}

// Algorithm returns the configured algorithm.
func (km *KeyMaterial) Algorithm() Algorithm {
	return km.algorithm
}

// FailOpen reports whether cipher failures pass data through unmodified.
func (km *KeyMaterial) FailOpen() bool {
	return km.failOpen
}
