package storage

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors for storage operations.
var (
	// ErrInvalidConfig indicates a backend could not be constructed.
	ErrInvalidConfig = errors.New("storage: invalid configuration")

	// ErrInvalidPath indicates a path that is empty or escapes the backend root.
	ErrInvalidPath = errors.New("storage: invalid path")

	// ErrNotFound indicates the artifact does not exist.
	ErrNotFound = errors.New("storage: file not found")

	// ErrAccessDenied indicates the backend refused the operation.
	ErrAccessDenied = errors.New("storage: access denied")

	// ErrSizeMismatch indicates the written byte count differs from the declared size.
	ErrSizeMismatch = errors.New("storage: size mismatch")

	ErrUploadFailed   = errors.New("storage: upload failed")
	ErrDownloadFailed = errors.New("storage: download failed")
	ErrDeleteFailed   = errors.New("storage: delete failed")
)

// wrapS3Error maps S3 API errors onto the storage sentinels. The original
// error is formatted with %v so callers match sentinels only.
func wrapS3Error(err error, fallback error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "AccessDenied", "Forbidden":
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
	}

	var notFound *types.NoSuchKey
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	return fmt.Errorf("%w: %v", fallback, err)
}
