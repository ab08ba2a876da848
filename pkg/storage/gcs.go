package storage

import (
	"context"
	"io"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
)

const gcsContentType = "application/x-pixels"

// gcsBucket is the subset of a bucket handle the backend uses.
type gcsBucket interface {
	size(ctx context.Context, name string) (int64, error)
	newRangeReader(ctx context.Context, name string, off, length int64) (io.ReadCloser, error)
	newWriter(ctx context.Context, name string) io.WriteCloser
	delete(ctx context.Context, name string) error
}

type bucketHandle struct {
	b *gcs.BucketHandle
}

func (h bucketHandle) size(ctx context.Context, name string) (int64, error) {
	attrs, err := h.b.Object(name).Attrs(ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

func (h bucketHandle) newRangeReader(ctx context.Context, name string, off, length int64) (io.ReadCloser, error) {
	return h.b.Object(name).NewRangeReader(ctx, off, length)
}

func (h bucketHandle) newWriter(ctx context.Context, name string) io.WriteCloser {
	w := h.b.Object(name).NewWriter(ctx)
	w.ContentType = gcsContentType
	return w
}

func (h bucketHandle) delete(ctx context.Context, name string) error {
	return h.b.Object(name).Delete(ctx)
}

// GCS stores objects in one Google Cloud Storage bucket. Paths are object names.
type GCS struct {
	client *gcs.Client
	bucket gcsBucket
	opts   options
}

// NewGCS creates a GCS backend for cfg.Bucket.
func NewGCS(ctx context.Context, cfg config.StorageConfig, opts ...Option) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs storage requires a bucket")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "create gcs client")
	}

	g := newGCSWithBucket(bucketHandle{b: client.Bucket(cfg.Bucket)}, cfg.Bucket, opts...)
	g.client = client
	return g, nil
}

func newGCSWithBucket(b gcsBucket, name string, opts ...Option) *GCS {
	o := newOptions(opts)
	o.logger = o.logger.With(zap.String("bucket", name))
	return &GCS{bucket: b, opts: o}
}

// Scheme returns gcs.
func (g *GCS) Scheme() Scheme { return SchemeGCS }

// Open looks up the object size and returns a ranged reader.
func (g *GCS) Open(ctx context.Context, name string) (PhysicalReader, error) {
	var size int64
	err := g.opts.retry.Execute(ctx, string(SchemeGCS), "attrs", g.opts.logger, func() error {
		var err error
		size, err = g.bucket.size(ctx, name)
		if err != nil {
			return classifyGCS(err, "object attrs", name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &gcsReader{g: g, name: name, size: size}, nil
}

// Create starts a resumable upload of name.
func (g *GCS) Create(ctx context.Context, name string) (PhysicalWriter, error) {
	wctx, cancel := context.WithCancel(ctx)
	return &gcsWriter{
		name:   name,
		w:      g.bucket.newWriter(wctx, name),
		cancel: cancel,
		log:    g.opts.logger,
	}, nil
}

// Exists reports whether name exists.
func (g *GCS) Exists(ctx context.Context, name string) (bool, error) {
	_, err := g.Open(ctx, name)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes name.
func (g *GCS) Delete(ctx context.Context, name string) error {
	return g.opts.retry.Execute(ctx, string(SchemeGCS), "delete", g.opts.logger, func() error {
		if err := g.bucket.delete(ctx, name); err != nil {
			return classifyGCS(err, "delete object", name)
		}
		return nil
	})
}

// Close releases the client.
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func classifyGCS(err error, op, name string) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return notFound(err, name)
	}
	return ioFailure(err, op, name)
}

type gcsReader struct {
	g    *GCS
	name string
	size int64
}

func (r *gcsReader) Name() string { return r.name }

func (r *gcsReader) Size() int64 { return r.size }

func (r *gcsReader) ReadAt(ctx context.Context, p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	if off < 0 || off+int64(len(p)) > r.size {
		return errors.Newf(errors.ErrorTypeValidation, "read [%d,+%d) beyond %d byte object", off, len(p), r.size).
			WithDetail("path", r.name)
	}
	return r.g.opts.retry.Execute(ctx, string(SchemeGCS), "read", r.g.opts.logger, func() error {
		rc, err := r.g.bucket.newRangeReader(ctx, r.name, off, int64(len(p)))
		if err != nil {
			return classifyGCS(err, "open range reader", r.name)
		}
		defer rc.Close()
		if _, err := io.ReadFull(rc, p); err != nil {
			return ioFailure(err, "read object", r.name)
		}
		return nil
	})
}

func (r *gcsReader) Close() error { return nil }

type gcsWriter struct {
	name   string
	w      io.WriteCloser
	cancel context.CancelFunc
	pos    int64
	log    *zap.Logger
	closed bool
}

func (w *gcsWriter) Name() string { return w.name }

func (w *gcsWriter) Position() int64 { return w.pos }

func (w *gcsWriter) Write(_ context.Context, p []byte) error {
	if w.closed {
		return errors.New(errors.ErrorTypeValidation, "write to a closed object").WithDetail("path", w.name)
	}
	n, err := w.w.Write(p)
	w.pos += int64(n)
	if err != nil {
		return ioFailure(err, "upload object", w.name)
	}
	return nil
}

func (w *gcsWriter) Close(_ context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()
	if err := w.w.Close(); err != nil {
		return ioFailure(err, "finalize upload", w.name)
	}
	w.log.Debug("object uploaded", zap.String("name", w.name), zap.Int64("bytes", w.pos))
	return nil
}

// Abort cancels the upload; a cancelled writer never finalizes the object.
func (w *gcsWriter) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.cancel()
	_ = w.w.Close()
	return nil
}
