package protection

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Direction tells whether a session encrypts or decrypts.
type Direction int

const (
	DirectionEncrypt Direction = iota
	DirectionDecrypt
)

func (d Direction) String() string {
	switch d {
	case DirectionEncrypt:
		return "encrypt"
	case DirectionDecrypt:
		return "decrypt"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// State is the position of a session in its lifecycle.
//
//	AwaitingFrame (decrypt only) -> Accumulating -> Emitting -> (Accumulating | Done)
//
// Any failure moves the session to Failed. Done and Failed are terminal.
type State int

const (
	StateAwaitingFrame State = iota
	StateAccumulating
	StateEmitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateAccumulating:
		return "accumulating"
	case StateEmitting:
		return "emitting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// FramePlacement selects how an encrypt session writes the IV frame.
type FramePlacement int

const (
	// FrameAhead writes the frame to the sink on its own before the first block.
	FrameAhead FramePlacement = iota
	// FramePrepended joins the frame and the first block into a single write.
	FramePrepended
)

// Session is one pass of the pipeline over one file's byte stream. It owns
// all per-file state; nothing is shared with other sessions except the
// immutable key material.
type Session struct {
	id        string
	direction Direction
	protected bool
	placement FramePlacement

	source      Source
	reassembler *Reassembler
	cipher      *BlockCipher
	keys        *KeyMaterial

	iv           []byte
	frame        []byte // encrypt: frame not yet written
	state        State
	err          error
	blocks       int
	bytesEmitted int64

	recorder Recorder
	logger   *logrus.Entry
}

func newSession(p *Pipeline, direction Direction, src Source, declaredLength int64, placement FramePlacement) (*Session, error) {
	id := uuid.NewString()
	s := &Session{
		id:        id,
		direction: direction,
		protected: p.keys != nil,
		placement: placement,
		source:    src,
		keys:      p.keys,
		state:     StateAccumulating,
		recorder:  p.recorder,
		logger: p.logger.WithFields(logrus.Fields{
			"session_id": id,
			"direction":  direction.String(),
		}),
	}

	framed := s.protected && direction == DirectionDecrypt
	reassembler, err := NewReassembler(p.blockSize, declaredLength, framed)
	if err != nil {
		return nil, err
	}
	s.reassembler = reassembler

	switch {
	case !s.protected:
		s.cipher, _ = NewBlockCipher(nil, nil, s.logger)
	case direction == DirectionEncrypt:
		iv, err := p.newIV()
		if err != nil {
			return nil, err
		}
		if s.cipher, err = NewBlockCipher(p.keys, iv, s.logger); err != nil {
			return nil, err
		}
		if s.frame, err = EncodeFrame(iv); err != nil {
			return nil, err
		}
		s.iv = iv
	default:
		s.state = StateAwaitingFrame
	}

	s.logger.WithFields(logrus.Fields{
		"declared_length": declaredLength,
		"block_size":      p.blockSize,
		"protected":       s.protected,
	}).Debug("Created protection session")

	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Direction returns whether the session encrypts or decrypts.
func (s *Session) Direction() Direction { return s.direction }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Err returns the failure that moved the session to StateFailed.
func (s *Session) Err() error { return s.err }

// IV returns the hex IV of the session, or "" before it is known or when
// the session is unprotected.
func (s *Session) IV() string {
	if s.iv == nil {
		return ""
	}
	return hex.EncodeToString(s.iv)
}

// Processed returns the number of content bytes emitted so far.
func (s *Session) Processed() int64 { return s.reassembler.Processed() }

// Remaining returns the number of content bytes still expected.
func (s *Session) Remaining() int64 { return s.reassembler.Remaining() }

// Declared returns the content length, excluding a peeled frame.
func (s *Session) Declared() int64 { return s.reassembler.Declared() }

// Run drives the session to completion, writing output to sink in stream
// order. It returns nil only once the declared length has been fully
// processed.
func (s *Session) Run(ctx context.Context, sink io.Writer) error {
	if s.state.Terminal() {
		return ErrSessionFinished
	}

	start := time.Now()
	coordinator := NewFlowCoordinator(s.source, s.logger)

	err := coordinator.Run(ctx, s.reassembler.Done, func(chunk []byte) error {
		return s.round(chunk, sink)
	})
	if err == nil {
		err = s.flushFrame(sink)
	}

	duration := time.Since(start)
	if err != nil {
		s.state = StateFailed
		s.err = err
		s.recorder.RecordSession(s.direction.String(), "error", duration)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"processed": s.reassembler.Processed(),
			"remaining": s.reassembler.Remaining(),
			"rounds":    coordinator.Rounds(),
		}).Error("Protection session failed")
		return err
	}

	s.state = StateDone
	s.recorder.RecordSession(s.direction.String(), "success", duration)

	fields := logrus.Fields{
		"processed": s.reassembler.Processed(),
		"emitted":   s.bytesEmitted,
		"blocks":    s.blocks,
		"rounds":    coordinator.Rounds(),
		"duration":  duration,
	}
	if discarded := s.reassembler.Discarded(); discarded > 0 {
		s.logger.WithFields(fields).WithField("discarded", discarded).
			Warn("Source delivered bytes beyond the declared length")
	}
	s.logger.WithFields(fields).Debug("Protection session completed")
	return nil
}

func (s *Session) round(chunk []byte, sink io.Writer) error {
	consumed := s.reassembler.Consume(chunk)

	if consumed.Frame != nil {
		if err := s.acceptFrame(consumed.Frame); err != nil {
			return err
		}
	}

	if len(consumed.Blocks) == 0 {
		return nil
	}

	s.state = StateEmitting
	for _, block := range consumed.Blocks {
		if err := s.emit(block, sink); err != nil {
			return err
		}
	}
	s.recorder.RecordBlocks(s.direction.String(), len(consumed.Blocks))

	if !s.reassembler.Done() {
		s.state = StateAccumulating
	}
	return nil
}

func (s *Session) acceptFrame(frame []byte) error {
	iv, err := ParseFrame(frame)
	if err != nil {
		return err
	}

	cipher, err := NewBlockCipher(s.keys, iv, s.logger)
	if err != nil {
		return err
	}

	s.iv = iv
	s.cipher = cipher
	s.state = StateAccumulating
	s.logger.WithField("iv", s.IV()).Trace("Accepted stream frame")
	return nil
}

func (s *Session) emit(block Block, sink io.Writer) error {
	var (
		out []byte
		err error
	)
	if s.direction == DirectionEncrypt {
		out, err = s.cipher.Protect(block.Data)
	} else {
		out, err = s.cipher.Unprotect(block.Data)
	}
	if err != nil {
		return err
	}

	if s.frame != nil && s.placement == FramePrepended {
		out = append(s.frame, out...)
		s.frame = nil
	} else if err := s.flushFrame(sink); err != nil {
		return err
	}

	if err := s.write(sink, out); err != nil {
		return err
	}

	s.blocks++
	s.recorder.RecordBytes(s.direction.String(), int64(len(block.Data)))
	if block.Terminal {
		s.logger.WithFields(logrus.Fields{
			"block":      s.blocks,
			"block_size": len(block.Data),
		}).Trace("Emitted terminal block")
	}
	return nil
}

// flushFrame writes the encrypt frame if it has not been written yet. For
// empty content this is the only output of the session.
func (s *Session) flushFrame(sink io.Writer) error {
	if s.frame == nil {
		return nil
	}
	frame := s.frame
	s.frame = nil
	return s.write(sink, frame)
}

func (s *Session) write(sink io.Writer, p []byte) error {
	n, err := sink.Write(p)
	s.bytesEmitted += int64(n)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSink, err)
	}
	if n != len(p) {
		return fmt.Errorf("%w: %w", ErrSink, io.ErrShortWrite)
	}
	return nil
}
