package protection

import (
	"context"
	"io"
	"sync"
)

// Source yields the upstream byte stream in chunks of any size. Next
// returns io.EOF once the source has nothing more to deliver. A returned
// chunk is only valid until the next call to Next.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// Pauser is implemented by sources that can hold delivery while a round is
// being processed.
type Pauser interface {
	Pause()
	Resume()
}

// Releaser is implemented by sources that need to learn when the session
// ends. Release is called exactly once with the session outcome.
type Releaser interface {
	Release(err error)
}

// ReaderSource adapts an io.Reader to a Source, reading up to readSize
// bytes per chunk.
type ReaderSource struct {
	r   io.Reader
	buf []byte
}

// NewReaderSource creates a pull-based source over r.
func NewReaderSource(r io.Reader, readSize int) *ReaderSource {
	if readSize < 1 {
		readSize = DefaultBlockSize
	}
	return &ReaderSource{r: r, buf: make([]byte, readSize)}
}

// Next reads the next chunk from the underlying reader.
func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, err := s.r.Read(s.buf)
	return s.buf[:n], err
}

// ChunkSource delivers a fixed list of chunks, then io.EOF.
type ChunkSource struct {
	chunks [][]byte
	next   int
}

// NewChunkSource creates a source over chunks.
func NewChunkSource(chunks ...[]byte) *ChunkSource {
	return &ChunkSource{chunks: chunks}
}

// Next returns the next chunk.
func (s *ChunkSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.chunks) {
		return nil, io.EOF
	}
	chunk := s.chunks[s.next]
	s.next++
	return chunk, nil
}

type pushedChunk struct {
	data []byte
	done chan struct{}
}

// PushSource bridges callback-style producers to a session. Push blocks
// until the round that consumed the chunk has finished, so at most one
// chunk is in flight per session. Push must not be called concurrently.
type PushSource struct {
	chunks chan pushedChunk

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	released    chan struct{}
	releaseOnce sync.Once
	releaseErr  error

	mu      sync.Mutex
	current *pushedChunk
	paused  bool
}

// NewPushSource creates an empty push source.
func NewPushSource() *PushSource {
	return &PushSource{
		chunks:   make(chan pushedChunk),
		closed:   make(chan struct{}),
		released: make(chan struct{}),
	}
}

// Push hands chunk to the session and waits for its round to complete.
// A nil return means the chunk was processed; the session's overall
// outcome is reported by Session.Run. Once the session has ended Push
// returns the session's failure, or ErrSessionClosed after success.
func (s *PushSource) Push(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	select {
	case <-s.released:
		return s.releasedError()
	default:
	}

	c := pushedChunk{data: chunk, done: make(chan struct{})}
	select {
	case s.chunks <- c:
	case <-s.released:
		return s.releasedError()
	case <-s.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.done:
		return nil
	case <-s.released:
		select {
		case <-c.done:
			return nil
		default:
			return s.releasedError()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals the end of the stream.
func (s *PushSource) Close() {
	s.CloseWithError(nil)
}

// CloseWithError ends the stream with err, which the session reports as a
// source failure. A nil err behaves like Close.
func (s *PushSource) CloseWithError(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.closed)
	})
}

// Next waits for the next pushed chunk.
func (s *PushSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case c := <-s.chunks:
		s.mu.Lock()
		s.current = &c
		s.mu.Unlock()
		return c.data, nil
	case <-s.closed:
		if s.closeErr != nil {
			return nil, s.closeErr
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause marks the source as held; the producer stays blocked in Push.
func (s *PushSource) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume completes the round for the chunk in flight and unblocks its producer.
func (s *PushSource) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.current != nil {
		close(s.current.done)
		s.current = nil
	}
}

// Paused reports whether a round is currently holding the source.
func (s *PushSource) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Release ends the session for the producer side.
func (s *PushSource) Release(err error) {
	s.releaseOnce.Do(func() {
		s.releaseErr = err
		s.Resume()
		close(s.released)
	})
}

func (s *PushSource) releasedError() error {
	if s.releaseErr != nil {
		return s.releaseErr
	}
	return ErrSessionClosed
}
