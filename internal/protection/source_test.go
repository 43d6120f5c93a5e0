package protection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderSource(t *testing.T) {
	src := NewReaderSource(bytes.NewReader(patterned(10)), 4)

	var got []byte
	for {
		chunk, err := src.Next(t.Context())
		assert.LessOrEqual(t, len(chunk), 4)
		got = append(got, chunk...)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, patterned(10), got)
}

func TestReaderSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewReaderSource(bytes.NewReader(patterned(10)), 4).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunkSource(t *testing.T) {
	src := NewChunkSource([]byte("ab"), []byte("c"))

	chunk, err := src.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), chunk)

	chunk, err = src.Next(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), chunk)

	_, err = src.Next(t.Context())
	assert.ErrorIs(t, err, io.EOF)
}

func TestPushSource_PushReturnsAfterRound(t *testing.T) {
	p := testPipeline(t, testKeys(t, AlgorithmAES256CTR), WithBlockSize(4))
	src := NewPushSource()
	sink := &recordingSink{}

	session, err := p.NewEncryptSession(src, 10)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background(), sink) }()

	require.NoError(t, src.Push(t.Context(), patterned(4)))
	assert.Equal(t, FrameSize+4, sink.Len(), "the round must have emitted before Push returns")
	assert.False(t, src.Paused())

	require.NoError(t, src.Push(t.Context(), patterned(3)))
	assert.Equal(t, FrameSize+4, sink.Len(), "3 pending bytes do not form a block")

	require.NoError(t, src.Push(t.Context(), patterned(3)))
	require.NoError(t, <-done)
	assert.Equal(t, FrameSize+10, sink.Len())
	assert.Equal(t, StateDone, session.State())

	err = src.Push(t.Context(), patterned(1))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestPushSource_EmptyPushIsNoop(t *testing.T) {
	src := NewPushSource()
	assert.NoError(t, src.Push(t.Context(), nil))
}

func TestPushSource_CloseWithError(t *testing.T) {
	p := testPipeline(t, testKeys(t, AlgorithmAES256CTR), WithBlockSize(4))
	src := NewPushSource()
	upstream := errors.New("connection reset")

	done := make(chan error, 1)
	go func() { done <- p.Encrypt(context.Background(), src, 100, io.Discard) }()

	require.NoError(t, src.Push(t.Context(), patterned(8)))
	src.CloseWithError(upstream)

	err := <-done
	assert.ErrorIs(t, err, ErrSource)
	assert.ErrorIs(t, err, upstream)

	err = src.Push(t.Context(), patterned(1))
	assert.ErrorIs(t, err, ErrSource)
}

func TestPushSource_EarlyCloseIsTruncation(t *testing.T) {
	p := testPipeline(t, nil, WithBlockSize(4))
	src := NewPushSource()

	done := make(chan error, 1)
	go func() { done <- p.Encrypt(context.Background(), src, 10, io.Discard) }()

	require.NoError(t, src.Push(t.Context(), patterned(5)))
	src.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSource)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish after the source closed")
	}
}

func TestPushSource_ContextCancelUnblocksProducer(t *testing.T) {
	src := NewPushSource()
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := src.Push(ctx, patterned(4))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
