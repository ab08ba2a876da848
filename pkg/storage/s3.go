package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
)

// s3API is the subset of the S3 client the backend uses.
type s3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores objects in one Amazon S3 bucket. Paths are object keys.
type S3 struct {
	client   s3API
	uploader *manager.Uploader
	bucket   string
	opts     options
}

// NewS3 creates an S3 backend for cfg.Bucket using the default AWS credential chain.
func NewS3(ctx context.Context, cfg config.StorageConfig, opts ...Option) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 storage requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.CredentialsFile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedCredentialsFiles([]string{cfg.CredentialsFile}))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client, cfg.Bucket, opts...), nil
}

func newS3WithClient(client s3API, bucket string, opts ...Option) *S3 {
	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("bucket", bucket))
	return &S3{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = manager.DefaultUploadPartSize
			u.Concurrency = manager.DefaultUploadConcurrency
		}),
		bucket: bucket,
		opts:   o,
	}
}

// Scheme returns s3.
func (s *S3) Scheme() Scheme { return SchemeS3 }

// Open looks up the object size and returns a ranged reader.
func (s *S3) Open(ctx context.Context, key string) (PhysicalReader, error) {
	var size int64
	err := s.opts.retry.Execute(ctx, string(SchemeS3), "head", s.opts.logger, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classifyS3(err, "head object", key)
		}
		size = aws.ToInt64(out.ContentLength)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s3Reader{s: s, key: key, size: size}, nil
}

// Create starts a streaming multipart upload of key.
func (s *S3) Create(ctx context.Context, key string) (PhysicalWriter, error) {
	uploadCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	w := &s3Writer{key: key, pw: pw, cancel: cancel, done: make(chan error, 1), log: s.opts.logger}
	go func() {
		_, err := s.uploader.Upload(uploadCtx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		// Unblock a writer stuck on a failed upload.
		pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

// Exists reports whether key exists.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	r, err := s.Open(ctx, key)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, r.Close()
}

// Delete removes key.
func (s *S3) Delete(ctx context.Context, key string) error {
	return s.opts.retry.Execute(ctx, string(SchemeS3), "delete", s.opts.logger, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classifyS3(err, "delete object", key)
		}
		return nil
	})
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3) Close() error { return nil }

func classifyS3(err error, op, key string) error {
	var noSuchKey *types.NoSuchKey
	var notFoundErr *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFoundErr) {
		return notFound(err, key)
	}
	return ioFailure(err, op, key)
}

type s3Reader struct {
	s    *S3
	key  string
	size int64
}

func (r *s3Reader) Name() string { return r.key }

func (r *s3Reader) Size() int64 { return r.size }

func (r *s3Reader) ReadAt(ctx context.Context, p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	if off < 0 || off+int64(len(p)) > r.size {
		return errors.Newf(errors.ErrorTypeValidation, "read [%d,+%d) beyond %d byte object", off, len(p), r.size).
			WithDetail("path", r.key)
	}
	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)
	return r.s.opts.retry.Execute(ctx, string(SchemeS3), "read", r.s.opts.logger, func() error {
		out, err := r.s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.s.bucket),
			Key:    aws.String(r.key),
			Range:  aws.String(rng),
		})
		if err != nil {
			return classifyS3(err, "get object", r.key)
		}
		defer out.Body.Close()
		if _, err := io.ReadFull(out.Body, p); err != nil {
			return ioFailure(err, "read object body", r.key)
		}
		return nil
	})
}

func (r *s3Reader) Close() error { return nil }

var errUploadAborted = errors.New(errors.ErrorTypeIOFailure, "upload aborted")

type s3Writer struct {
	key    string
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error
	pos    int64
	log    *zap.Logger
	closed bool
}

func (w *s3Writer) Name() string { return w.key }

func (w *s3Writer) Position() int64 { return w.pos }

func (w *s3Writer) Write(_ context.Context, p []byte) error {
	if w.closed {
		return errors.New(errors.ErrorTypeValidation, "write to a closed object").WithDetail("path", w.key)
	}
	n, err := w.pw.Write(p)
	w.pos += int64(n)
	if err != nil {
		return ioFailure(err, "upload object", w.key)
	}
	return nil
}

func (w *s3Writer) Close(_ context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.pw.Close()
	err := <-w.done
	w.cancel()
	if err != nil {
		return ioFailure(err, "complete upload", w.key)
	}
	w.log.Debug("object uploaded", zap.String("key", w.key), zap.Int64("bytes", w.pos))
	return nil
}

func (w *s3Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.pw.CloseWithError(errUploadAborted)
	w.cancel()
	<-w.done
	return nil
}
