package protection

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(t *testing.T, algorithm Algorithm, opts ...KeyOption) *KeyMaterial {
	t.Helper()
	km, err := NewKeyMaterial(algorithm, []byte("test-shared-key"), opts...)
	require.NoError(t, err)
	return km
}

type panickingStream struct{}

func (panickingStream) XORKeyStream(dst, src []byte) {
	panic("stream exhausted")
}

func TestBlockCipher_Passthrough(t *testing.T) {
	c, err := NewBlockCipher(nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, c.Passthrough())

	data := []byte("plain")
	out, err := c.Protect(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestBlockCipher_CounterAdvancesAcrossBlocks(t *testing.T) {
	for _, algorithm := range []Algorithm{AlgorithmAES256CTR, AlgorithmAES192CTR, AlgorithmAES128CTR, AlgorithmChaCha20} {
		t.Run(string(algorithm), func(t *testing.T) {
			keys := testKeys(t, algorithm)
			iv, err := NewIV()
			require.NoError(t, err)

			plaintext := bytes.Repeat([]byte("0123456789abcdef"), 5)

			whole, err := NewBlockCipher(keys, iv, nil)
			require.NoError(t, err)
			expected, err := whole.Protect(plaintext)
			require.NoError(t, err)
			assert.Len(t, expected, len(plaintext))
			assert.NotEqual(t, plaintext, expected)

			blocks, err := NewBlockCipher(keys, iv, nil)
			require.NoError(t, err)
			var got []byte
			for _, part := range [][]byte{plaintext[:5], plaintext[5:16], plaintext[16:19], plaintext[19:]} {
				out, err := blocks.Protect(part)
				require.NoError(t, err)
				got = append(got, out...)
			}
			assert.Equal(t, expected, got)

			dec, err := NewBlockCipher(keys, iv, nil)
			require.NoError(t, err)
			recovered, err := dec.Unprotect(got)
			require.NoError(t, err)
			assert.Equal(t, plaintext, recovered)
		})
	}
}

func TestBlockCipher_InvalidIV(t *testing.T) {
	_, err := NewBlockCipher(testKeys(t, AlgorithmAES256CTR), make([]byte, 3), nil)
	assert.ErrorIs(t, err, ErrCipher)

	c, err := NewBlockCipher(testKeys(t, AlgorithmAES256CTR, WithFailOpen(true)), make([]byte, 3), nil)
	require.NoError(t, err)
	assert.True(t, c.Passthrough())

	out, err := c.Protect([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), out)
}

func TestBlockCipher_TransformFailure(t *testing.T) {
	closed := &BlockCipher{stream: panickingStream{}, logger: testLogger()}
	out, err := closed.Protect([]byte("data"))
	assert.ErrorIs(t, err, ErrCipher)
	assert.Nil(t, out)

	open := &BlockCipher{stream: panickingStream{}, failOpen: true, logger: testLogger()}
	out, err = open.Unprotect([]byte("data"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), out)
}
