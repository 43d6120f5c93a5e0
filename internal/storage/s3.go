package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// S3API is the subset of the S3 client used by the S3 backend.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3 backend configuration
type S3Config struct {
	Bucket             string
	Prefix             string
	Endpoint           string
	Region             string
	AccessKeyID        string
	SecretKey          string
	UsePathStyle       bool
	InsecureSkipVerify bool
	PartSize           int64
	Concurrency        int
}

// S3 stores artifacts as objects in a single bucket.
type S3 struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	logger   *logrus.Entry
}

// NewS3 creates an S3 backend with an AWS SDK client built from cfg.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, awsconfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, // #nosec G402 - opt-in for self-signed development endpoints
				},
			},
		}))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3WithClient(client, cfg), nil
}

// NewS3WithClient creates an S3 backend over an existing client.
func NewS3WithClient(client S3API, cfg S3Config) *S3 {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize > 0 {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})

	return &S3{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		logger: logrus.WithFields(logrus.Fields{
			"component": "storage",
			"backend":   "s3",
			"bucket":    cfg.Bucket,
		}),
	}
}

// Name implements Backend.
func (b *S3) Name() string {
	return "s3"
}

func (b *S3) key(path string) (string, error) {
	cleaned := strings.Trim(path, "/")
	if cleaned == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidPath)
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q contains relative segments", ErrInvalidPath, path)
		}
	}
	if b.prefix == "" {
		return cleaned, nil
	}
	return b.prefix + "/" + cleaned, nil
}

// Write implements Backend. Bodies larger than one part are sent as a
// multipart upload which the uploader aborts on error.
func (b *S3) Write(ctx context.Context, path string, r io.Reader, size int64) (int64, error) {
	key, err := b.key(path)
	if err != nil {
		return 0, err
	}

	counter := &countingReader{r: r}
	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   counter,
	}

	if _, err := b.uploader.Upload(ctx, input); err != nil {
		return 0, wrapS3Error(err, ErrUploadFailed)
	}

	if size >= 0 && counter.n != size {
		// the object is already committed, remove it rather than keep a wrong artifact
		if _, derr := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		}); derr != nil {
			b.logger.WithError(derr).WithField("key", key).Error("Failed to remove object with mismatched size")
		}
		return 0, fmt.Errorf("%w: uploaded %d bytes, expected %d", ErrSizeMismatch, counter.n, size)
	}

	b.logger.WithFields(logrus.Fields{"key": key, "bytes": counter.n}).Debug("Uploaded object")
	return counter.n, nil
}

// Open implements Backend.
func (b *S3) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	key, err := b.key(path)
	if err != nil {
		return nil, 0, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, wrapS3Error(err, ErrDownloadFailed)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// ReadAt implements Backend with a ranged GET.
func (b *S3) ReadAt(ctx context.Context, path string, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("invalid range: offset %d, length %d", offset, length)
	}
	if length == 0 {
		return []byte{}, nil
	}
	key, err := b.key(path)
	if err != nil {
		return nil, err
	}

	size, err := b.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	if offset >= size {
		return []byte{}, nil
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, wrapS3Error(err, ErrDownloadFailed)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, length))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return data, nil
}

// Stat implements Backend.
func (b *S3) Stat(ctx context.Context, path string) (int64, error) {
	key, err := b.key(path)
	if err != nil {
		return 0, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, wrapS3Error(err, ErrDownloadFailed)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Delete implements Backend. S3 reports success for missing keys.
func (b *S3) Delete(ctx context.Context, path string) error {
	key, err := b.key(path)
	if err != nil {
		return err
	}
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return wrapS3Error(err, ErrDeleteFailed)
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
