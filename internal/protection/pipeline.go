package protection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 64 * 1024

// Recorder receives pipeline measurements. The monitoring package provides
// a Prometheus implementation.
type Recorder interface {
	RecordSession(direction, status string, duration time.Duration)
	RecordBlocks(direction string, blocks int)
	RecordBytes(direction string, n int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordSession(string, string, time.Duration) {}
func (nopRecorder) RecordBlocks(string, int)                    {}
func (nopRecorder) RecordBytes(string, int64)                   {}

// Pipeline builds encrypt and decrypt sessions that share one immutable
// key material. A Pipeline is safe for concurrent use; each session it
// creates is not.
type Pipeline struct {
	keys      *KeyMaterial
	blockSize int
	placement FramePlacement
	recorder  Recorder
	logger    *logrus.Entry

	newIV func() ([]byte, error)
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithBlockSize sets the block size used for cipher processing and
// flow-control rounds. Values below 1 are ignored.
func WithBlockSize(blockSize int) Option {
	return func(p *Pipeline) {
		if blockSize > 0 {
			p.blockSize = blockSize
		}
	}
}

// WithFramePlacement sets how encrypt sessions write the IV frame.
func WithFramePlacement(placement FramePlacement) Option {
	return func(p *Pipeline) {
		p.placement = placement
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(p *Pipeline) {
		if recorder != nil {
			p.recorder = recorder
		}
	}
}

// WithLogger sets the base logger for sessions.
func WithLogger(logger *logrus.Entry) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a pipeline. With nil keys every session is a
// passthrough that copies exactly the declared length and writes no frame.
func NewPipeline(keys *KeyMaterial, opts ...Option) *Pipeline {
	p := &Pipeline{
		keys:      keys,
		blockSize: DefaultBlockSize,
		placement: FrameAhead,
		recorder:  nopRecorder{},
		logger:    logrus.WithField("component", "protection_pipeline"),
		newIV:     NewIV,
	}
	for _, opt := range opts {
		opt(p)
	}

	fields := logrus.Fields{
		"block_size": p.blockSize,
		"protected":  keys != nil,
	}
	if keys != nil {
		fields["algorithm"] = keys.Algorithm()
		fields["fail_open"] = keys.FailOpen()
	}
	p.logger.WithFields(fields).Debug("Initialized protection pipeline")
	return p
}

// Protected reports whether sessions encrypt and frame their output.
func (p *Pipeline) Protected() bool {
	return p.keys != nil
}

// BlockSize returns the configured block size.
func (p *Pipeline) BlockSize() int {
	return p.blockSize
}

// ProtectedLength returns the artifact size for a plaintext of n bytes.
func (p *Pipeline) ProtectedLength(n int64) int64 {
	if p.keys == nil {
		return n
	}
	return n + FrameSize
}

// ContentLength returns the plaintext size for an artifact of n bytes.
func (p *Pipeline) ContentLength(n int64) (int64, error) {
	if p.keys == nil {
		return n, nil
	}
	if n < FrameSize {
		return 0, fmt.Errorf("%w: artifact of %d bytes cannot hold a frame", ErrFraming, n)
	}
	return n - FrameSize, nil
}

// NewEncryptSession creates a session that reads declaredPlaintextLength
// bytes from src and emits the frame followed by the protected blocks.
func (p *Pipeline) NewEncryptSession(src Source, declaredPlaintextLength int64) (*Session, error) {
	return newSession(p, DirectionEncrypt, src, declaredPlaintextLength, p.placement)
}

// NewDecryptSession creates a session that reads declaredCiphertextLength
// bytes (frame included) from src and emits the plaintext blocks.
func (p *Pipeline) NewDecryptSession(src Source, declaredCiphertextLength int64) (*Session, error) {
	return newSession(p, DirectionDecrypt, src, declaredCiphertextLength, p.placement)
}

// Encrypt runs an encrypt session from src to sink.
func (p *Pipeline) Encrypt(ctx context.Context, src Source, declaredPlaintextLength int64, sink io.Writer) error {
	session, err := p.NewEncryptSession(src, declaredPlaintextLength)
	if err != nil {
		return err
	}
	return session.Run(ctx, sink)
}

// Decrypt runs a decrypt session from src to sink.
func (p *Pipeline) Decrypt(ctx context.Context, src Source, declaredCiphertextLength int64, sink io.Writer) error {
	session, err := p.NewDecryptSession(src, declaredCiphertextLength)
	if err != nil {
		return err
	}
	return session.Run(ctx, sink)
}

// EncryptReader returns a reader producing the protected form of the
// declaredPlaintextLength bytes read from r. A session failure is returned
// by Read; the caller must treat such a stream as failed.
func (p *Pipeline) EncryptReader(ctx context.Context, r io.Reader, declaredPlaintextLength int64) (io.ReadCloser, error) {
	session, err := p.NewEncryptSession(NewReaderSource(r, p.blockSize), declaredPlaintextLength)
	if err != nil {
		return nil, err
	}
	return runPiped(ctx, session), nil
}

// DecryptReader returns a reader producing the plaintext of the
// declaredCiphertextLength artifact bytes read from r.
func (p *Pipeline) DecryptReader(ctx context.Context, r io.Reader, declaredCiphertextLength int64) (io.ReadCloser, error) {
	session, err := p.NewDecryptSession(NewReaderSource(r, p.blockSize), declaredCiphertextLength)
	if err != nil {
		return nil, err
	}
	return runPiped(ctx, session), nil
}

func runPiped(ctx context.Context, session *Session) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(session.Run(ctx, pw))
	}()
	return pr
}

// EncryptBytes protects a whole in-memory buffer. The frame is joined to
// the first block in a single write.
func (p *Pipeline) EncryptBytes(ctx context.Context, plaintext []byte) ([]byte, error) {
	session, err := newSession(p, DirectionEncrypt, NewChunkSource(plaintext), int64(len(plaintext)), FramePrepended)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(int(p.ProtectedLength(int64(len(plaintext)))))
	if err := session.Run(ctx, &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecryptBytes recovers the plaintext of a whole in-memory artifact.
func (p *Pipeline) DecryptBytes(ctx context.Context, artifact []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := p.Decrypt(ctx, NewChunkSource(artifact), int64(len(artifact)), &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
