package storage

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/errors"
)

const localWriteBuffer = 1 << 20

// Local stores objects as files. Paths are file system paths.
type Local struct {
	opts options
}

// NewLocal creates a local file system backend.
func NewLocal(opts ...Option) *Local {
	return &Local{opts: newOptions(opts)}
}

// Scheme returns file.
func (l *Local) Scheme() Scheme { return SchemeFile }

// Open opens an existing file for ranged reads.
func (l *Local) Open(ctx context.Context, path string) (PhysicalReader, error) {
	var f *os.File
	var size int64
	err := l.opts.retry.Execute(ctx, string(SchemeFile), "open", l.opts.logger, func() error {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return classifyLocal(err, "open file", path)
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return classifyLocal(err, "stat file", path)
		}
		size = fi.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &localReader{f: f, size: size, opts: l.opts}, nil
}

// Create starts a new file. Data goes to a temporary file in the same
// directory that is renamed over path on Close.
func (l *Local) Create(_ context.Context, path string) (PhysicalWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, classifyLocal(err, "create directory", dir)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, classifyLocal(err, "create file", path)
	}
	return &localWriter{
		path: path,
		f:    f,
		w:    bufio.NewWriterSize(f, localWriteBuffer),
		log:  l.opts.logger,
	}, nil
}

// Exists reports whether path exists.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, classifyLocal(err, "stat file", path)
}

// Delete removes path.
func (l *Local) Delete(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		return classifyLocal(err, "delete file", path)
	}
	return nil
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

func classifyLocal(err error, op, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(err, path)
	}
	return ioFailure(err, op, path)
}

type localReader struct {
	f    *os.File
	size int64
	opts options
}

func (r *localReader) Name() string { return r.f.Name() }

func (r *localReader) Size() int64 { return r.size }

func (r *localReader) ReadAt(ctx context.Context, p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > r.size {
		return errors.Newf(errors.ErrorTypeValidation, "read [%d,+%d) beyond %d byte file", off, len(p), r.size).
			WithDetail("path", r.f.Name())
	}
	return r.opts.retry.Execute(ctx, string(SchemeFile), "read", r.opts.logger, func() error {
		n, err := r.f.ReadAt(p, off)
		if n == len(p) {
			return nil
		}
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return ioFailure(err, "read file", r.f.Name())
	})
}

func (r *localReader) Close() error {
	return r.f.Close()
}

type localWriter struct {
	path string
	f    *os.File
	w    *bufio.Writer
	pos  int64
	log  *zap.Logger
	done bool
}

func (w *localWriter) Name() string { return w.path }

func (w *localWriter) Position() int64 { return w.pos }

func (w *localWriter) Write(_ context.Context, p []byte) error {
	if w.done {
		return errors.New(errors.ErrorTypeValidation, "write to a closed file").WithDetail("path", w.path)
	}
	n, err := w.w.Write(p)
	w.pos += int64(n)
	if err != nil {
		return ioFailure(err, "write file", w.path)
	}
	return nil
}

func (w *localWriter) Close(_ context.Context) error {
	if w.done {
		return nil
	}
	w.done = true
	tmp := w.f.Name()
	err := multierr.Combine(w.w.Flush(), w.f.Sync(), w.f.Close())
	if err == nil {
		err = os.Rename(tmp, w.path)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return ioFailure(err, "commit file", w.path)
	}
	w.log.Debug("file committed", zap.String("path", w.path), zap.Int64("bytes", w.pos))
	return nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	tmp := w.f.Name()
	return multierr.Append(w.f.Close(), os.Remove(tmp))
}
