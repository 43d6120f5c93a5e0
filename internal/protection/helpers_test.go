package protection

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func testPipeline(t *testing.T, keys *KeyMaterial, opts ...Option) *Pipeline {
	t.Helper()
	return NewPipeline(keys, append([]Option{WithLogger(testLogger())}, opts...)...)
}

// fixedIV makes encrypt sessions of p reuse iv so outputs can be compared.
func fixedIV(p *Pipeline, iv []byte) {
	p.newIV = func() ([]byte, error) {
		return append([]byte(nil), iv...), nil
	}
}

// splitEvery cuts data into chunks of n bytes.
func splitEvery(data []byte, n int) [][]byte {
	var chunks [][]byte
	for len(data) > n {
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}

func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}

// recordingSink is a concurrency-safe sink that remembers write sizes.
type recordingSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes []int
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, len(p))
	return s.buf.Write(p)
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func (s *recordingSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func encryptAll(t *testing.T, p *Pipeline, plaintext []byte, chunks [][]byte) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, p.Encrypt(t.Context(), NewChunkSource(chunks...), int64(len(plaintext)), &out))
	return out.Bytes()
}
