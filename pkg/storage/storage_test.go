package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	gcs "cloud.google.com/go/storage"

	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/errors"
)

func fastRetry(attempts int) *RetryPolicy {
	return NewRetryPolicy(config.RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	})
}

func writeAll(t *testing.T, st Storage, path string, chunks ...[]byte) {
	t.Helper()
	ctx := context.Background()
	w, err := st.Create(ctx, path)
	require.NoError(t, err)
	var n int64
	for _, c := range chunks {
		require.NoError(t, w.Write(ctx, c))
		n += int64(len(c))
		assert.Equal(t, n, w.Position())
	}
	require.NoError(t, w.Close(ctx))
}

func exerciseReads(t *testing.T, st Storage, path string, want []byte) {
	t.Helper()
	ctx := context.Background()
	r, err := st.Open(ctx, path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(len(want)), r.Size())
	buf := make([]byte, 7)
	require.NoError(t, r.ReadAt(ctx, buf, 3))
	assert.Equal(t, want[3:10], buf)

	tail := make([]byte, 4)
	require.NoError(t, r.ReadAt(ctx, tail, int64(len(want)-4)))
	assert.Equal(t, want[len(want)-4:], tail)

	err = r.ReadAt(ctx, make([]byte, 8), int64(len(want)-4))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestLocalRoundTrip(t *testing.T) {
	st := NewLocal(WithLogger(zaptest.NewLogger(t)))
	path := filepath.Join(t.TempDir(), "nested", "a.pxl")
	ctx := context.Background()

	w, err := st.Create(ctx, path)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, []byte("hello ")))
	require.NoError(t, w.Write(ctx, []byte("pixels world")))

	ok, err := st.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok, "file must not be visible before close")

	require.NoError(t, w.Close(ctx))
	ok, err = st.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	exerciseReads(t, st, path, []byte("hello pixels world"))

	require.NoError(t, st.Delete(ctx, path))
	ok, err = st.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalAbort(t *testing.T) {
	st := NewLocal()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pxl")
	ctx := context.Background()

	w, err := st.Create(ctx, path)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, []byte("partial")))
	require.NoError(t, w.Abort())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = w.Write(ctx, []byte("x"))
	assert.Error(t, err)
}

func TestLocalNotFound(t *testing.T) {
	st := NewLocal(WithRetryPolicy(fastRetry(3)))
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "missing.pxl")

	_, err := st.Open(ctx, path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = st.Delete(ctx, path)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRetryPolicy(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()
	flaky := errors.New(errors.ErrorTypeIOFailure, "timeout")

	t.Run("recovers", func(t *testing.T) {
		calls := 0
		err := fastRetry(3).Execute(ctx, "file", "read", log, func() error {
			calls++
			if calls < 3 {
				return flaky
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non retryable", func(t *testing.T) {
		calls := 0
		err := fastRetry(5).Execute(ctx, "file", "read", log, func() error {
			calls++
			return errors.New(errors.ErrorTypeNotFound, "gone")
		})
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := fastRetry(4).Execute(ctx, "file", "read", log, func() error {
			calls++
			return flaky
		})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeIOFailure))
		assert.Equal(t, 4, calls)
	})

	t.Run("cancelled between attempts", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		rp := NewRetryPolicy(config.RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour, Multiplier: 1})
		calls := 0
		err := rp.Execute(cctx, "file", "read", log, func() error {
			calls++
			cancel()
			return flaky
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("delay bounded", func(t *testing.T) {
		rp := &RetryPolicy{MaxAttempts: 10, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}
		assert.Equal(t, 10*time.Millisecond, rp.calculateDelay(0))
		assert.Equal(t, 20*time.Millisecond, rp.calculateDelay(1))
		assert.Equal(t, 40*time.Millisecond, rp.calculateDelay(5))
	})
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		scheme Scheme
		bucket string
		key    string
		err    bool
	}{
		{uri: "/tmp/a.pxl", scheme: SchemeFile, key: "/tmp/a.pxl"},
		{uri: "file:///tmp/a.pxl", scheme: SchemeFile, key: "/tmp/a.pxl"},
		{uri: "s3://bucket/dir/a.pxl", scheme: SchemeS3, bucket: "bucket", key: "dir/a.pxl"},
		{uri: "gs://b/a.pxl", scheme: SchemeGCS, bucket: "b", key: "a.pxl"},
		{uri: "gcs://b/a.pxl", scheme: SchemeGCS, bucket: "b", key: "a.pxl"},
		{uri: "hdfs://nn/a.pxl", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			scheme, bucket, key, err := ParseURI(tt.uri)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Scheme: "ftp"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

// fakeS3 is an in-memory bucket. Single part uploads only.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	getFails int
	gets     int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, fmt.Errorf("multipart not supported")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart not supported")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getFails > 0 {
		f.getFails--
		return nil, fmt.Errorf("connection reset")
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	var start, end int
	if _, err := fmt.Sscanf(aws.ToString(in.Range), "bytes=%d-%d", &start, &end); err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data[start : end+1]))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3(t *testing.T) {
	fake := newFakeS3()
	st := newS3WithClient(fake, "bucket", WithLogger(zaptest.NewLogger(t)), WithRetryPolicy(fastRetry(3)))
	ctx := context.Background()
	want := []byte(strings.Repeat("0123456789", 10))

	writeAll(t, st, "dir/a.pxl", want[:40], want[40:])
	assert.Equal(t, want, fake.objects["dir/a.pxl"])

	fake.getFails = 2
	exerciseReads(t, st, "dir/a.pxl", want)

	_, err := st.Open(ctx, "dir/missing.pxl")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	ok, err := st.Exists(ctx, "dir/a.pxl")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, st.Delete(ctx, "dir/a.pxl"))
	ok, err = st.Exists(ctx, "dir/a.pxl")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Abort(t *testing.T) {
	fake := newFakeS3()
	st := newS3WithClient(fake, "bucket")
	ctx := context.Background()

	w, err := st.Create(ctx, "a.pxl")
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, []byte("partial")))
	require.NoError(t, w.Abort())

	_, ok := fake.objects["a.pxl"]
	assert.False(t, ok)
}

// fakeGCS is an in-memory bucket.
type fakeGCS struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type fakeGCSWriter struct {
	ctx  context.Context
	f    *fakeGCS
	name string
	buf  bytes.Buffer
}

func (w *fakeGCSWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeGCSWriter) Close() error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.f.mu.Lock()
	w.f.objects[w.name] = w.buf.Bytes()
	w.f.mu.Unlock()
	return nil
}

func (f *fakeGCS) size(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return 0, gcs.ErrObjectNotExist
	}
	return int64(len(data)), nil
}

func (f *fakeGCS) newRangeReader(_ context.Context, name string, off, length int64) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(data[off : off+length])), nil
}

func (f *fakeGCS) newWriter(ctx context.Context, name string) io.WriteCloser {
	return &fakeGCSWriter{ctx: ctx, f: f, name: name}
}

func (f *fakeGCS) delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[name]; !ok {
		return gcs.ErrObjectNotExist
	}
	delete(f.objects, name)
	return nil
}

func TestGCS(t *testing.T) {
	fake := &fakeGCS{objects: make(map[string][]byte)}
	st := newGCSWithBucket(fake, "bucket", WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	want := []byte(strings.Repeat("abcdefghij", 5))

	writeAll(t, st, "a.pxl", want)
	exerciseReads(t, st, "a.pxl", want)

	w, err := st.Create(ctx, "b.pxl")
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, want))
	require.NoError(t, w.Abort())
	ok, err := st.Exists(ctx, "b.pxl")
	require.NoError(t, err)
	assert.False(t, ok)

	err = st.Delete(ctx, "b.pxl")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	require.NoError(t, st.Close())
}
