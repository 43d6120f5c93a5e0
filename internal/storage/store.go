package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/protected-store/internal/monitoring"
	"github.com/guided-traffic/protected-store/internal/protection"
)

// ProtectedStore runs every file body through the protection pipeline on
// its way to and from a Backend.
type ProtectedStore struct {
	backend  Backend
	pipeline *protection.Pipeline
	logger   *logrus.Entry
}

// FileInfo describes a stored file.
type FileInfo struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`          // plaintext size
	ArtifactSize int64  `json:"artifact_size"` // stored size, frame included
	IV           string `json:"iv,omitempty"`
}

// NewProtectedStore wraps backend with pipeline.
func NewProtectedStore(backend Backend, pipeline *protection.Pipeline) *ProtectedStore {
	return &ProtectedStore{
		backend:  backend,
		pipeline: pipeline,
		logger: logrus.WithFields(logrus.Fields{
			"component": "protected-store",
			"backend":   backend.Name(),
		}),
	}
}

// Backend returns the underlying backend.
func (s *ProtectedStore) Backend() Backend {
	return s.backend
}

// Protected reports whether stored artifacts are encrypted.
func (s *ProtectedStore) Protected() bool {
	return s.pipeline.Protected()
}

// Put stores size bytes read from r at path. The write is only reported
// as successful when both the session and the backend write succeed.
func (s *ProtectedStore) Put(ctx context.Context, path string, r io.Reader, size int64) (*FileInfo, error) {
	if size < 0 {
		return nil, fmt.Errorf("put %q: content length is required", path)
	}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := s.pipeline.EncryptReader(ctx, r, size)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	artifactSize := s.pipeline.ProtectedLength(size)
	written, err := s.backend.Write(ctx, path, body, artifactSize)
	s.record("put", err, start)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Error("Failed to store file")
		return nil, fmt.Errorf("put %q: %w", path, err)
	}
	monitoring.RecordStorageThroughput("put", written, time.Since(start))

	info := &FileInfo{Path: path, Size: size, ArtifactSize: written}
	if s.Protected() {
		info.IV, err = ReadFileIV(ctx, s.backend, path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Stored file but could not read back its IV")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"path":          path,
		"size":          size,
		"artifact_size": written,
	}).Debug("Stored file")
	return info, nil
}

// Get opens path and returns a reader over its plaintext together with the
// plaintext size. A session failure surfaces as an error from Read.
func (s *ProtectedStore) Get(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	start := time.Now()

	artifact, artifactSize, err := s.backend.Open(ctx, path)
	s.record("get", err, start)
	if err != nil {
		return nil, 0, fmt.Errorf("get %q: %w", path, err)
	}

	size, err := s.pipeline.ContentLength(artifactSize)
	if err != nil {
		artifact.Close()
		return nil, 0, fmt.Errorf("get %q: %w", path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	plaintext, err := s.pipeline.DecryptReader(ctx, artifact, artifactSize)
	if err != nil {
		cancel()
		artifact.Close()
		return nil, 0, fmt.Errorf("get %q: %w", path, err)
	}

	return &plaintextReader{
		ReadCloser: plaintext,
		artifact:   artifact,
		cancel:     cancel,
	}, size, nil
}

// Stat returns size information for path.
func (s *ProtectedStore) Stat(ctx context.Context, path string) (*FileInfo, error) {
	start := time.Now()
	artifactSize, err := s.backend.Stat(ctx, path)
	s.record("stat", err, start)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}

	size, err := s.pipeline.ContentLength(artifactSize)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}

	info := &FileInfo{Path: path, Size: size, ArtifactSize: artifactSize}
	if s.Protected() {
		if info.IV, err = ReadFileIV(ctx, s.backend, path); err != nil {
			return nil, fmt.Errorf("stat %q: %w", path, err)
		}
	}
	return info, nil
}

// Delete removes path.
func (s *ProtectedStore) Delete(ctx context.Context, path string) error {
	start := time.Now()
	err := s.backend.Delete(ctx, path)
	s.record("delete", err, start)
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	return nil
}

// ReadFileIV returns the IV recorded in the artifact at path.
func (s *ProtectedStore) ReadFileIV(ctx context.Context, path string) (string, error) {
	return ReadFileIV(ctx, s.backend, path)
}

func (s *ProtectedStore) record(operation string, err error, start time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	monitoring.RecordStorageOperation(operation, s.backend.Name(), status, time.Since(start))
}

// ReadFileIV reads the frame at the start of the artifact at path and
// returns its 32-character hex IV. It returns "" and a nil error when the
// artifact is absent, shorter than the frame, or the frame is malformed.
// Other backend failures are returned.
func ReadFileIV(ctx context.Context, backend Backend, path string) (string, error) {
	head, err := backend.ReadAt(ctx, path, 0, protection.FrameSize)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	if len(head) < protection.FrameSize {
		return "", nil
	}

	iv, err := protection.DecodeFrame(head)
	if err != nil {
		return "", nil
	}
	return iv, nil
}

// plaintextReader closes the decrypt pipe and the artifact together.
type plaintextReader struct {
	io.ReadCloser
	artifact io.Closer
	cancel   context.CancelFunc
}

func (r *plaintextReader) Close() error {
	r.cancel()
	err := r.ReadCloser.Close()
	if aerr := r.artifact.Close(); err == nil {
		err = aerr
	}
	return err
}
