// Package storage provides the physical readers and writers pixels files live
// on: the local file system, Amazon S3 and Google Cloud Storage.
//
// Backends classify failures: a missing object is not_found, anything else is
// an io_failure, which the backend retries under its RetryPolicy before
// returning it.
package storage

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/logger"
)

// Scheme names a backend.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
	SchemeGCS  Scheme = "gcs"
)

// PhysicalReader reads byte ranges of one object.
type PhysicalReader interface {
	// Name returns the object path.
	Name() string
	// Size returns the object size in bytes.
	Size() int64
	// ReadAt fills p from offset off. A short object is an error.
	ReadAt(ctx context.Context, p []byte, off int64) error
	Close() error
}

// PhysicalWriter writes a new object front to back. The object becomes visible
// only when Close succeeds; Abort discards it.
type PhysicalWriter interface {
	Name() string
	// Write appends p.
	Write(ctx context.Context, p []byte) error
	// Position returns the number of bytes written so far.
	Position() int64
	Close(ctx context.Context) error
	Abort() error
}

// Storage opens and creates objects on one backend.
type Storage interface {
	Scheme() Scheme
	Open(ctx context.Context, path string) (PhysicalReader, error)
	Create(ctx context.Context, path string) (PhysicalWriter, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	Close() error
}

// New creates the backend selected by cfg.Scheme.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	log := logger.Named("storage").With(zap.String("scheme", cfg.Scheme))
	retry := NewRetryPolicy(cfg.Retry)

	switch Scheme(cfg.Scheme) {
	case SchemeFile, "":
		return NewLocal(WithLogger(log), WithRetryPolicy(retry)), nil
	case SchemeS3:
		s, err := NewS3(ctx, cfg, WithLogger(log), WithRetryPolicy(retry))
		if err != nil {
			return nil, err
		}
		return s, nil
	case SchemeGCS:
		g, err := NewGCS(ctx, cfg, WithLogger(log), WithRetryPolicy(retry))
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported storage scheme %q", cfg.Scheme)
	}
}

// ParseURI splits a location such as s3://bucket/key, gcs://bucket/key,
// gs://bucket/key, file:///tmp/x or a bare path into scheme, bucket and key.
func ParseURI(uri string) (Scheme, string, string, error) {
	if !strings.Contains(uri, "://") {
		return SchemeFile, "", uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", errors.Wrap(err, errors.ErrorTypeValidation, "parse storage uri")
	}
	switch u.Scheme {
	case "file":
		return SchemeFile, "", u.Path, nil
	case "s3":
		return SchemeS3, u.Host, strings.TrimPrefix(u.Path, "/"), nil
	case "gs", "gcs":
		return SchemeGCS, u.Host, strings.TrimPrefix(u.Path, "/"), nil
	default:
		return "", "", "", errors.Newf(errors.ErrorTypeValidation, "unsupported storage uri scheme %q", u.Scheme)
	}
}

// OpenURI creates the backend for uri, overriding the scheme and bucket of cfg,
// and returns it with the object key.
func OpenURI(ctx context.Context, cfg config.StorageConfig, uri string) (Storage, string, error) {
	scheme, bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, "", err
	}
	cfg.Scheme = string(scheme)
	if bucket != "" {
		cfg.Bucket = bucket
	}
	st, err := New(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	return st, key, nil
}

// Option configures a backend.
type Option func(*options)

type options struct {
	logger *zap.Logger
	retry  *RetryPolicy
}

func newOptions(opts []Option) options {
	o := options{retry: NoRetry()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("storage")
	}
	return o
}

// WithLogger sets the backend logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryPolicy sets the retry policy for reads and metadata calls.
func WithRetryPolicy(rp *RetryPolicy) Option {
	return func(o *options) { o.retry = rp }
}

func ioFailure(err error, op, path string) error {
	return errors.Wrap(err, errors.ErrorTypeIOFailure, op).WithDetail("path", path)
}

func notFound(err error, path string) error {
	return errors.Wrap(err, errors.ErrorTypeNotFound, "object does not exist").WithDetail("path", path)
}
