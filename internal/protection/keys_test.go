package protection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlgorithm_KeySize(t *testing.T) {
	tests := []struct {
		algorithm Algorithm
		size      int
	}{
		{AlgorithmAES256CTR, 32},
		{AlgorithmAES192CTR, 24},
		{AlgorithmAES128CTR, 16},
		{AlgorithmChaCha20, 32},
	}

	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			size, err := tt.algorithm.KeySize()
			require.NoError(t, err)
			assert.Equal(t, tt.size, size)
		})
	}

	_, err := Algorithm("rot13").KeySize()
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewKeyMaterial(t *testing.T) {
	km, err := NewKeyMaterial("", []byte("correct horse battery staple"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAlgorithm, km.Algorithm())
	assert.False(t, km.FailOpen())
	assert.Len(t, km.key, 32)

	again, err := NewKeyMaterial(AlgorithmAES256CTR, []byte("correct horse battery staple"))
	require.NoError(t, err)
	assert.Equal(t, km.key, again.key, "derivation must be deterministic")

	other, err := NewKeyMaterial(AlgorithmAES256CTR, []byte("another secret"))
	require.NoError(t, err)
	assert.NotEqual(t, km.key, other.key)

	short, err := NewKeyMaterial(AlgorithmAES128CTR, []byte("correct horse battery staple"), WithFailOpen(true))
	require.NoError(t, err)
	assert.Len(t, short.key, 16)
	assert.True(t, short.FailOpen())
}

func TestNewKeyMaterial_Invalid(t *testing.T) {
	_, err := NewKeyMaterial(AlgorithmAES256CTR, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewKeyMaterial("des-cbc", []byte("secret"))
	assert.ErrorIs(t, err, ErrConfiguration)
}
