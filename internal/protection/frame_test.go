package protection

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var frameRegexp = regexp.MustCompile(`^\(([0-9a-f]{32})\)`)

func TestEncodeFrame(t *testing.T) {
	iv, err := NewIV()
	require.NoError(t, err)

	frame, err := EncodeFrame(iv)
	require.NoError(t, err)
	assert.Len(t, frame, FrameSize)
	assert.Regexp(t, frameRegexp, string(frame))

	decoded, err := ParseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, iv, decoded)
}

func TestEncodeFrame_InvalidIV(t *testing.T) {
	_, err := EncodeFrame(make([]byte, 8))
	assert.ErrorIs(t, err, ErrFraming)
}

func TestNewIV_Unique(t *testing.T) {
	a, err := NewIV()
	require.NoError(t, err)
	b, err := NewIV()
	require.NoError(t, err)

	assert.Len(t, a, IVSize)
	assert.NotEqual(t, a, b)
}

func TestDecodeFrame(t *testing.T) {
	const ivHex = "00112233445566778899aabbccddeeff"

	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "valid frame", input: "(" + ivHex + ")", expected: ivHex},
		{name: "frame followed by content", input: "(" + ivHex + ")ciphertext", expected: ivHex},
		{name: "leading bytes before marker", input: "xx(" + ivHex + ")", expected: ivHex},
		{name: "uppercase is normalized", input: "(00112233445566778899AABBCCDDEEFF)", expected: ivHex},
		{name: "longer content is truncated", input: "(" + ivHex + "abcd)", expected: ivHex},
		{name: "missing opening marker", input: ivHex + ")", expectError: true},
		{name: "missing closing marker", input: "(" + ivHex, expectError: true},
		{name: "content too short", input: "(0011)", expectError: true},
		{name: "content not hex", input: "(zz112233445566778899aabbccddeeff)", expectError: true},
		{name: "empty input", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.input))
			if tt.expectError {
				assert.ErrorIs(t, err, ErrFraming)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseFrame_Strict(t *testing.T) {
	valid := []byte("(00112233445566778899aabbccddeeff)")

	_, err := ParseFrame(valid)
	require.NoError(t, err)

	tests := map[string][]byte{
		"too short":        valid[:FrameSize-1],
		"not at offset 0":  append([]byte("x"), valid[:FrameSize-1]...),
		"uppercase hex":    []byte("(00112233445566778899AABBCCDDEEFF)"),
		"closing misplaced": bytes.Replace(valid, []byte(")"), []byte("0"), 1),
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame(input)
			assert.ErrorIs(t, err, ErrFraming)
		})
	}
}

func TestParseIV(t *testing.T) {
	iv, err := ParseIV("00112233445566778899aabbccddeeff")
	require.NoError(t, err)
	assert.Len(t, iv, IVSize)

	_, err = ParseIV("0011")
	assert.ErrorIs(t, err, ErrFraming)

	_, err = ParseIV("gg112233445566778899aabbccddeeff")
	assert.ErrorIs(t, err, ErrFraming)
}
