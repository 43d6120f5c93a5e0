package protection

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	// IVSize is the size of a per-file initialization vector in bytes.
	IVSize = 16

	// IVHexLength is the length of the hex rendering of an IV.
	IVHexLength = IVSize * 2

	// FrameSize is the size of the in-band IV frame: '(' + 32 hex chars + ')'.
	FrameSize = IVHexLength + 2

	frameOpen  = '('
	frameClose = ')'
)

// NewIV returns a fresh random initialization vector.
func NewIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return iv, nil
}

// EncodeFrame renders iv as the 34-byte stream frame "(<32 hex>)".
func EncodeFrame(iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d", ErrFraming, IVSize, len(iv))
	}

	frame := make([]byte, FrameSize)
	frame[0] = frameOpen
	hex.Encode(frame[1:1+IVHexLength], iv)
	frame[FrameSize-1] = frameClose
	return frame, nil
}

// DecodeFrame extracts the hex IV between the first '(' and the first ')'
// after it. Content longer than 32 characters is truncated to the first 32.
// The returned string is always lowercase.
func DecodeFrame(b []byte) (string, error) {
	start := bytes.IndexByte(b, frameOpen)
	if start < 0 {
		return "", fmt.Errorf("%w: opening marker not found", ErrFraming)
	}

	end := bytes.IndexByte(b[start+1:], frameClose)
	if end < 0 {
		return "", fmt.Errorf("%w: closing marker not found", ErrFraming)
	}

	content := b[start+1 : start+1+end]
	if len(content) < IVHexLength {
		return "", fmt.Errorf("%w: IV has %d characters, want %d", ErrFraming, len(content), IVHexLength)
	}

	ivHex := string(bytes.ToLower(content[:IVHexLength]))
	if _, err := hex.DecodeString(ivHex); err != nil {
		return "", fmt.Errorf("%w: IV is not hex: %v", ErrFraming, err)
	}
	return ivHex, nil
}

// ParseFrame is the strict form used on decrypt: the frame must sit at
// offset 0 and occupy exactly FrameSize bytes.
func ParseFrame(b []byte) ([]byte, error) {
	if len(b) < FrameSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrFraming, FrameSize, len(b))
	}
	if b[0] != frameOpen || b[FrameSize-1] != frameClose {
		return nil, fmt.Errorf("%w: no frame at offset 0", ErrFraming)
	}
	for _, c := range b[1 : FrameSize-1] {
		if !isLowerHex(c) {
			return nil, fmt.Errorf("%w: IV contains %q", ErrFraming, c)
		}
	}
	return ParseIV(string(b[1 : FrameSize-1]))
}

func isLowerHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// ParseIV decodes a 32-character hex IV.
func ParseIV(ivHex string) ([]byte, error) {
	if len(ivHex) != IVHexLength {
		return nil, fmt.Errorf("%w: IV has %d characters, want %d", ErrFraming, len(ivHex), IVHexLength)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("%w: IV is not hex: %v", ErrFraming, err)
	}
	return iv, nil
}
