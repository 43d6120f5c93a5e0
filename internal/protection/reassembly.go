package protection

import "fmt"

// Block is one fixed-size unit cut from the input stream. Only the last
// block of a session may be shorter than the block size.
type Block struct {
	Data     []byte
	Terminal bool
}

// Consumed is the result of feeding one chunk to a Reassembler.
type Consumed struct {
	// Frame holds the 34 frame bytes on the call that completed them, nil otherwise.
	Frame []byte
	// Blocks holds the blocks completed by this call, in stream order.
	Blocks []Block
}

// Reassembler re-buffers arbitrarily sized chunks into fixed-size blocks
// and decides, from the declared total length alone, which block ends the
// stream. It never relies on the source signalling end of data.
//
// At all times Processed()+Remaining() == Declared().
type Reassembler struct {
	blockSize int

	declaredTotalLength int64
	bytesProcessed      int64
	bytesRemaining      int64

	pending []byte

	awaitingFrame bool
	frame         []byte

	discarded int64
}

// NewReassembler creates a reassembler for a stream of declaredTotalLength
// bytes. When framed is true the first FrameSize bytes of the stream are
// peeled off as the IV frame and are not counted as content.
func NewReassembler(blockSize int, declaredTotalLength int64, framed bool) (*Reassembler, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("block size must be at least 1, got %d", blockSize)
	}
	if declaredTotalLength < 0 {
		return nil, fmt.Errorf("declared length must not be negative, got %d", declaredTotalLength)
	}
	if framed && declaredTotalLength < FrameSize {
		return nil, fmt.Errorf("%w: declared length %d is shorter than the %d byte frame", ErrFraming, declaredTotalLength, FrameSize)
	}

	r := &Reassembler{
		blockSize:           blockSize,
		declaredTotalLength: declaredTotalLength,
		bytesRemaining:      declaredTotalLength,
		awaitingFrame:       framed,
	}
	if framed {
		r.frame = make([]byte, 0, FrameSize)
	}
	return r, nil
}

// Consume appends chunk to the pending buffer and cuts every block that is
// now complete. The terminal check runs on every call, so a short final
// chunk arriving after earlier full blocks still ends the stream.
func (r *Reassembler) Consume(chunk []byte) Consumed {
	var out Consumed

	if r.awaitingFrame {
		take := min(FrameSize-len(r.frame), len(chunk))
		r.frame = append(r.frame, chunk[:take]...)
		chunk = chunk[take:]
		if len(r.frame) < FrameSize {
			return out
		}

		r.awaitingFrame = false
		r.declaredTotalLength -= FrameSize
		r.bytesRemaining -= FrameSize
		out.Frame = r.frame
		r.frame = nil
	}

	if r.bytesRemaining == 0 {
		r.discarded += int64(len(chunk))
		return out
	}

	r.pending = append(r.pending, chunk...)

	offset := 0
	for r.bytesRemaining > 0 {
		available := len(r.pending) - offset
		if available < r.blockSize && int64(available) < r.bytesRemaining {
			break
		}

		n := r.blockSize
		if int64(n) > r.bytesRemaining {
			n = int(r.bytesRemaining)
		}

		data := make([]byte, n)
		copy(data, r.pending[offset:offset+n])
		offset += n

		r.bytesProcessed += int64(n)
		r.bytesRemaining -= int64(n)
		out.Blocks = append(out.Blocks, Block{Data: data, Terminal: r.bytesRemaining == 0})
	}

	if r.bytesRemaining == 0 {
		r.discarded += int64(len(r.pending) - offset)
		r.pending = nil
		return out
	}

	kept := copy(r.pending, r.pending[offset:])
	r.pending = r.pending[:kept]
	return out
}

// Done reports whether the frame (if any) and all declared content have been consumed.
func (r *Reassembler) Done() bool {
	return !r.awaitingFrame && r.bytesRemaining == 0
}

// AwaitingFrame reports whether the frame has not been fully received yet.
func (r *Reassembler) AwaitingFrame() bool {
	return r.awaitingFrame
}

// Declared returns the content length, excluding the frame once it has been peeled.
func (r *Reassembler) Declared() int64 {
	return r.declaredTotalLength
}

// Processed returns the number of content bytes emitted as blocks.
func (r *Reassembler) Processed() int64 {
	return r.bytesProcessed
}

// Remaining returns the number of content bytes still expected.
func (r *Reassembler) Remaining() int64 {
	return r.bytesRemaining
}

// Pending returns the number of buffered bytes not yet emitted.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// Discarded returns the number of bytes received beyond the declared length.
func (r *Reassembler) Discarded() int64 {
	return r.discarded
}
