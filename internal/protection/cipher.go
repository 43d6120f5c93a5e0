package protection

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20"
)

// BlockCipher applies a keyed, length-preserving stream transform to the
// blocks of one session. It is built once per (key, IV) pair so the
// keystream position advances across blocks; it must not be shared between
// sessions.
type BlockCipher struct {
	stream    cipher.Stream // nil means passthrough
	algorithm Algorithm
	failOpen  bool
	logger    *logrus.Entry
}

// NewBlockCipher creates the cipher for one session. With nil key material
// the returned cipher passes blocks through unchanged. When the stream
// cannot be constructed and the key material is fail-open, the failure is
// logged and a passthrough cipher is returned.
func NewBlockCipher(keys *KeyMaterial, iv []byte, logger *logrus.Entry) (*BlockCipher, error) {
	if logger == nil {
		logger = logrus.WithField("component", "block_cipher")
	}
	if keys == nil {
		return &BlockCipher{logger: logger}, nil
	}

	stream, err := newStream(keys, iv)
	if err != nil {
		if keys.failOpen {
			logger.WithError(err).WithField("algorithm", keys.algorithm).
				Error("Cipher unavailable, passing data through unprotected")
			return &BlockCipher{algorithm: keys.algorithm, failOpen: true, logger: logger}, nil
		}
		return nil, err
	}

	return &BlockCipher{
		stream:    stream,
		algorithm: keys.algorithm,
		failOpen:  keys.failOpen,
		logger:    logger,
	}, nil
}

func newStream(keys *KeyMaterial, iv []byte) (cipher.Stream, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d", ErrCipher, IVSize, len(iv))
	}

	switch keys.algorithm {
	case AlgorithmAES256CTR, AlgorithmAES192CTR, AlgorithmAES128CTR:
		block, err := aes.NewCipher(keys.key)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create AES cipher: %v", ErrCipher, err)
		}
		return cipher.NewCTR(block, iv), nil
	case AlgorithmChaCha20:
		stream, err := chacha20.NewUnauthenticatedCipher(keys.key, iv[:chacha20.NonceSize])
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create ChaCha20 cipher: %v", ErrCipher, err)
		}
		return stream, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrCipher, string(keys.algorithm))
	}
}

// Passthrough reports whether the cipher leaves data unchanged.
func (c *BlockCipher) Passthrough() bool {
	return c.stream == nil
}

// Protect encrypts block. The output has the same length as the input.
func (c *BlockCipher) Protect(block []byte) ([]byte, error) {
	return c.transform(block, "protect")
}

// Unprotect decrypts block. The output has the same length as the input.
func (c *BlockCipher) Unprotect(block []byte) ([]byte, error) {
	return c.transform(block, "unprotect")
}

func (c *BlockCipher) transform(block []byte, op string) (out []byte, err error) {
	if c.stream == nil {
		return block, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %s: %v", ErrCipher, op, r)
			if c.failOpen {
				c.logger.WithError(err).WithField("block_size", len(block)).
					Error("Cipher failed, passing block through unprotected")
				out, err = block, nil
			}
		}
	}()

	out = make([]byte, len(block))
	c.stream.XORKeyStream(out, block)
	return out, nil
}
