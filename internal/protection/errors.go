package protection

import "errors"

// Sentinel errors returned by the protection pipeline. Callers should match
// them with errors.Is; the pipeline always wraps them with context.
var (
	// ErrConfiguration indicates missing or unusable key material.
	ErrConfiguration = errors.New("protection: invalid key material")

	// ErrFraming indicates that a protected stream does not start with a
	// valid IV frame.
	ErrFraming = errors.New("protection: stream frame missing or malformed")

	// ErrSource indicates that the upstream source failed or ended before
	// the declared length was delivered.
	ErrSource = errors.New("protection: source failed")

	// ErrCipher indicates that the block transform could not be applied.
	ErrCipher = errors.New("protection: cipher transform failed")

	// ErrSink indicates that writing to the downstream sink failed.
	ErrSink = errors.New("protection: sink write failed")

	// ErrSessionFinished is returned when a session in a terminal state is run again.
	ErrSessionFinished = errors.New("protection: session already finished")

	// ErrSessionClosed is returned to producers pushing into a session that has ended.
	ErrSessionClosed = errors.New("protection: session closed")
)
