package protection

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// FlowCoordinator drives a session's rounds against its source. One round
// is: take a chunk, pause the source, process and emit, resume the source.
// Rounds never overlap, which keeps in-flight memory bounded by one chunk
// plus the reassembly buffer.
type FlowCoordinator struct {
	source Source
	pauser Pauser
	rounds int
	logger *logrus.Entry
}

// NewFlowCoordinator creates a coordinator for source.
func NewFlowCoordinator(source Source, logger *logrus.Entry) *FlowCoordinator {
	if logger == nil {
		logger = logrus.WithField("component", "flow_coordinator")
	}
	pauser, _ := source.(Pauser)
	return &FlowCoordinator{
		source: source,
		pauser: pauser,
		logger: logger,
	}
}

// Run executes rounds until done reports true. Termination is decided by
// done alone: the source is not read again once done is satisfied, and an
// end of data before that point is a truncated source. The source is
// always resumed after a round and released when Run returns.
func (fc *FlowCoordinator) Run(ctx context.Context, done func() bool, round func(chunk []byte) error) (err error) {
	if releaser, ok := fc.source.(Releaser); ok {
		defer func() { releaser.Release(err) }()
	}

	for !done() {
		chunk, readErr := fc.source.Next(ctx)

		if len(chunk) > 0 {
			if roundErr := fc.round(chunk, round); roundErr != nil {
				return roundErr
			}
		}

		if readErr != nil {
			if done() {
				// everything declared has arrived
				return nil
			}
			if errors.Is(readErr, io.EOF) {
				return fmt.Errorf("%w: source ended after %d rounds before the declared length was reached", ErrSource, fc.rounds)
			}
			fc.logger.WithError(readErr).WithField("rounds", fc.rounds).Error("Source delivery failed")
			return fmt.Errorf("%w: %w", ErrSource, readErr)
		}
	}

	return nil
}

func (fc *FlowCoordinator) round(chunk []byte, round func(chunk []byte) error) error {
	if fc.pauser != nil {
		fc.pauser.Pause()
		defer fc.pauser.Resume()
	}

	fc.rounds++
	fc.logger.WithFields(logrus.Fields{
		"round":      fc.rounds,
		"chunk_size": len(chunk),
	}).Trace("Processing round")

	return round(chunk)
}

// Rounds returns the number of rounds executed so far.
func (fc *FlowCoordinator) Rounds() int {
	return fc.rounds
}
