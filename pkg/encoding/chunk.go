package encoding

import (
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// Pixel locates one pixel inside a column chunk. Offset is relative to the
// start of the chunk.
type Pixel struct {
	_      struct{} `cbor:",toarray"`
	Offset uint64
	Length uint64
	Rows   uint32
	Stats  stats.Statistics
}

// PixelRange selects pixels [Start, End) of a chunk.
type PixelRange struct {
	Start int
	End   int
}

// AllPixels returns the single range covering n pixels.
func AllPixels(n int) []PixelRange {
	if n == 0 {
		return nil
	}
	return []PixelRange{{Start: 0, End: n}}
}

// Chunk is one encoded column of a row group.
type Chunk struct {
	Data   []byte
	Pixels []Pixel
	Stats  stats.Statistics
	// Collector holds the merged pixel statistics, including the distinct
	// sketch, for file-level aggregation.
	Collector *stats.Collector
}

// EncodeChunk encodes the first rows rows of v as consecutive pixels of
// pixelStride rows; the last pixel may be shorter.
func EncodeChunk(t *schema.TypeDescription, v vector.ColumnVector, rows, pixelStride int, opts *Options) (*Chunk, error) {
	if pixelStride <= 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "pixel stride must be positive, got %d", pixelStride)
	}
	if rows > v.Len() {
		return nil, errors.Newf(errors.ErrorTypeValidation, "%d rows requested from a vector of %d", rows, v.Len())
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	chunk := &Chunk{
		Pixels:    make([]Pixel, 0, (rows+pixelStride-1)/pixelStride),
		Collector: stats.NewCollector(),
	}
	for off := 0; off < rows; off += pixelStride {
		n := min(pixelStride, rows-off)
		col := stats.NewCollector()
		blob, err := EncodePixel(t, v, off, n, col, opts)
		if err != nil {
			return nil, err
		}
		chunk.Pixels = append(chunk.Pixels, Pixel{
			Offset: uint64(len(chunk.Data)),
			Length: uint64(len(blob)),
			Rows:   uint32(n),
			Stats:  col.Statistics(),
		})
		chunk.Data = append(chunk.Data, blob...)
		chunk.Collector.Merge(col)
	}
	chunk.Stats = chunk.Collector.Statistics()
	return chunk, nil
}

// DecodeChunk decodes the pixels selected by ranges, in order, into a fresh
// vector. Pixels outside the ranges are never touched.
func DecodeChunk(t *schema.TypeDescription, data []byte, pixels []Pixel, ranges []PixelRange, opts *Options) (vector.ColumnVector, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	total := 0
	for _, r := range ranges {
		if r.Start < 0 || r.End > len(pixels) || r.Start > r.End {
			return nil, errors.Newf(errors.ErrorTypeValidation, "pixel range [%d,%d) outside %d pixels", r.Start, r.End, len(pixels))
		}
		for _, p := range pixels[r.Start:r.End] {
			total += int(p.Rows)
		}
	}

	v, err := t.NewColumnVector(total)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "allocate column vector")
	}
	off := 0
	for _, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			blob, err := PixelBytes(data, pixels[i])
			if err != nil {
				return nil, err
			}
			n, err := DecodePixel(t, blob, v, off, int(pixels[i].Rows), opts)
			if err != nil {
				return nil, err
			}
			off += n
		}
	}
	return v, nil
}

// PixelBytes slices the blob of p out of its chunk.
func PixelBytes(chunk []byte, p Pixel) ([]byte, error) {
	end := p.Offset + p.Length
	if end < p.Offset || end > uint64(len(chunk)) {
		return nil, corrupt("pixel [%d,%d) outside chunk of %d bytes", p.Offset, end, len(chunk))
	}
	return chunk[p.Offset:end], nil
}
