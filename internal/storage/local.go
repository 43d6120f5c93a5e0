package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Local stores artifacts on the local filesystem under a root directory.
type Local struct {
	root   string
	logger *logrus.Entry
}

// NewLocal creates a Local backend rooted at root, creating the directory if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: local root is empty", ErrInvalidConfig)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root %q: %w", root, err)
	}
	// filepath.Rel checks in abs need an absolute root
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &Local{
		root:   absRoot,
		logger: logrus.WithFields(logrus.Fields{"component": "storage", "backend": "local"}),
	}, nil
}

// Name implements Backend.
func (l *Local) Name() string {
	return "local"
}

// Root returns the absolute root directory.
func (l *Local) Root() string {
	return l.root
}

// abs resolves a logical path to a filesystem path that must stay below root.
func (l *Local) abs(path string) (string, error) {
	joined := filepath.Join(l.root, filepath.Clean(filepath.FromSlash(path)))
	rel, err := filepath.Rel(l.root, joined)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes storage root", ErrInvalidPath, path)
	}
	return joined, nil
}

// Write streams r to path using a temp file and an atomic rename.
func (l *Local) Write(ctx context.Context, path string, r io.Reader, size int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dest, err := l.abs(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, fmt.Errorf("mkdir %q: %w", filepath.Dir(dest), err)
	}

	// unique per write so concurrent writers to one path never share a temp file
	tmp := dest + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("open tmp %q: %w", tmp, err)
	}

	n, werr := io.Copy(f, r)
	cerr := f.Close()

	if werr != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("stream write: %w", werr)
	}
	if cerr != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("flush: %w", cerr)
	}
	if size >= 0 && n != size {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("%w: wrote %d bytes, expected %d", ErrSizeMismatch, n, size)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return 0, fmt.Errorf("rename to %q: %w", dest, err)
	}

	l.logger.WithFields(logrus.Fields{"path": path, "bytes": n}).Debug("Wrote artifact")
	return n, nil
}

// Open implements Backend.
func (l *Local) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	abs, err := l.abs(path)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, 0, wrapFSError(path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %q is a directory", ErrNotFound, path)
	}
	return f, info.Size(), nil
}

// ReadAt implements Backend.
func (l *Local) ReadAt(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range: offset %d, length %d", offset, length)
	}
	rc, _, err := l.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	f := rc.(*os.File)
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return buf[:n], nil
}

// Stat implements Backend.
func (l *Local) Stat(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	abs, err := l.abs(path)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return 0, wrapFSError(path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %q is a directory", ErrNotFound, path)
	}
	return info.Size(), nil
}

// Delete implements Backend. Silently succeeds on ENOENT.
func (l *Local) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := l.abs(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

func wrapFSError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrNotFound, path)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}
