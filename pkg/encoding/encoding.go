// Package encoding turns column vectors into pixel blobs and column chunks, and
// back.
//
// A pixel blob is laid out as
//
//	kind | flags | uvarint rows | [uvarint rawLen] | payload | crc32c
//
// where payload is an optional presence bitmap (one bit per row, set when the
// row is not null) followed by the values of the non-null rows, and rawLen is
// present only when the payload is compressed. The checksum covers every byte
// before it.
//
// The codec for a column is chosen by a single table keyed by schema category;
// within a codec the value kind is picked per pixel from the data.
package encoding

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"math"

	"github.com/ajitpratap0/pixels/pkg/compression"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/pool"
	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// Kind identifies how the values section of a pixel is encoded.
type Kind byte

const (
	KindPlain Kind = iota
	KindRLE
	KindDelta
	KindBitPacked
	KindDictionary
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindRLE:
		return "rle"
	case KindDelta:
		return "delta"
	case KindBitPacked:
		return "bitpacked"
	case KindDictionary:
		return "dictionary"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

const (
	flagHasNulls   byte = 1 << 0
	flagCompressed byte = 1 << 1
)

// DefaultDictionaryThreshold is the distinct/non-null ratio at or below which
// byte columns are dictionary encoded.
const DefaultDictionaryThreshold = 0.5

// MaxPixelRows bounds the row count a pixel header may claim.
const MaxPixelRows = math.MaxInt32

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Options controls encoding and decoding.
type Options struct {
	// Encoding enables the adaptive codecs. When false, integers are written as
	// fixed 8-byte values and byte strings plainly.
	Encoding bool
	// DictionaryThreshold overrides DefaultDictionaryThreshold when positive.
	DictionaryThreshold float64
	// Compressor compresses pixel payloads. Nil means none. Decoding a
	// compressed pixel requires the same algorithm.
	Compressor compression.Compressor
}

// DefaultOptions returns options with encoding enabled and no compression.
func DefaultOptions() *Options {
	return &Options{Encoding: true, DictionaryThreshold: DefaultDictionaryThreshold}
}

func (o *Options) threshold() float64 {
	if o.DictionaryThreshold > 0 {
		return o.DictionaryThreshold
	}
	return DefaultDictionaryThreshold
}

func (o *Options) compressor() compression.Compressor {
	if o.Compressor == nil || o.Compressor.Algorithm() == compression.None {
		return nil
	}
	return o.Compressor
}

// codec writes and reads the values section of a pixel.
type codec interface {
	// encode appends the values of the given non-null rows of v and records them in col.
	encode(buf *bytes.Buffer, t *schema.TypeDescription, v vector.ColumnVector, rows []int, col *stats.Collector, opts *Options) (Kind, error)
	// decode reads len(rows) values into the given rows of v.
	decode(c *cursor, kind Kind, t *schema.TypeDescription, v vector.ColumnVector, rows []int, opts *Options) error
}

var codecs = map[schema.Category]codec{
	schema.Boolean:   boolCodec{},
	schema.Byte:      longCodec{},
	schema.Short:     longCodec{},
	schema.Int:       longCodec{},
	schema.Long:      longCodec{},
	schema.Date:      longCodec{},
	schema.Timestamp: longCodec{},
	schema.Float:     floatCodec{width: 4},
	schema.Double:    floatCodec{width: 8},
	schema.String:    bytesCodec{},
	schema.Varchar:   bytesCodec{},
	schema.Char:      bytesCodec{},
	schema.Binary:    bytesCodec{},
	schema.List:      listCodec{},
}

func lookup(t *schema.TypeDescription) (codec, error) {
	c, ok := codecs[t.Category]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "no codec for %s columns", t.Category)
	}
	return c, nil
}

func corrupt(format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.ErrorTypeRecordCorruption, format, args...)
}

func typeMismatch(t *schema.TypeDescription, v vector.ColumnVector) *errors.Error {
	return errors.Newf(errors.ErrorTypeValidation, "%s column cannot use %T", t, v)
}

// EncodePixel encodes rows [off, off+n) of v as one pixel blob and records
// their statistics in col.
func EncodePixel(t *schema.TypeDescription, v vector.ColumnVector, off, n int, col *stats.Collector, opts *Options) ([]byte, error) {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = off + i
	}
	return encodeRows(t, v, rows, col, opts)
}

func encodeRows(t *schema.TypeDescription, v vector.ColumnVector, rows []int, col *stats.Collector, opts *Options) ([]byte, error) {
	c, err := lookup(t)
	if err != nil {
		return nil, err
	}

	payload := pool.GetBuffer()
	defer pool.PutBuffer(payload)

	nonNull := rows
	var flags byte
	if v.HasNulls() {
		bitmap := make([]byte, (len(rows)+7)/8)
		nonNull = make([]int, 0, len(rows))
		for i, r := range rows {
			if v.IsNullAt(r) {
				col.AddNull()
				continue
			}
			bitmap[i>>3] |= 1 << (i & 7)
			nonNull = append(nonNull, r)
		}
		if len(nonNull) < len(rows) {
			flags |= flagHasNulls
			payload.Write(bitmap)
		} else {
			nonNull = rows
		}
	}

	kind, err := c.encode(payload, t, v, nonNull, col, opts)
	if err != nil {
		return nil, err
	}

	raw := payload.Bytes()
	body := raw
	if comp := opts.compressor(); comp != nil && len(raw) > 0 {
		compressed, err := comp.Compress(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "compress pixel")
		}
		if len(compressed) < len(raw) {
			flags |= flagCompressed
			body = compressed
		}
	}

	out := make([]byte, 0, 2+2*binary.MaxVarintLen64+len(body)+4)
	out = append(out, byte(kind), flags)
	out = binary.AppendUvarint(out, uint64(len(rows)))
	if flags&flagCompressed != 0 {
		out = binary.AppendUvarint(out, uint64(len(raw)))
	}
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
	return out, nil
}

// PixelRows returns the row count recorded in a pixel blob header without
// verifying or decoding it.
func PixelRows(blob []byte) (int, error) {
	c := cursor{b: blob}
	if _, err := c.next(2); err != nil {
		return 0, err
	}
	n, err := c.uvarint()
	return int(n), err
}

// DecodePixel decodes a pixel blob holding rows rows into dst starting at row
// dstOff, growing dst as needed. It returns the number of rows decoded. A header
// claiming any other row count, a checksum failure or a structural failure is
// a record corruption error, reported before dst is grown.
func DecodePixel(t *schema.TypeDescription, blob []byte, dst vector.ColumnVector, dstOff, rows int, opts *Options) (int, error) {
	if len(blob) < 7 {
		return 0, corrupt("pixel of %d bytes is truncated", len(blob))
	}
	body := blob[:len(blob)-4]
	if want, got := binary.LittleEndian.Uint32(blob[len(blob)-4:]), crc32.Checksum(body, castagnoli); want != got {
		return 0, corrupt("pixel checksum mismatch: stored %08x, computed %08x", want, got)
	}
	return decodeBody(t, body, dst, dstOff, rows, opts)
}

func decodeBody(t *schema.TypeDescription, body []byte, dst vector.ColumnVector, dstOff, rows int, opts *Options) (int, error) {
	c, err := lookup(t)
	if err != nil {
		return 0, err
	}
	cur := cursor{b: body}
	hdr, err := cur.next(2)
	if err != nil {
		return 0, err
	}
	kind, flags := Kind(hdr[0]), hdr[1]
	n64, err := cur.uvarint()
	if err != nil {
		return 0, err
	}
	if n64 > MaxPixelRows || n64 != uint64(rows) {
		return 0, corrupt("pixel header claims %d rows, index says %d", n64, rows)
	}
	n := int(n64)

	payload := cur.rest()
	if flags&flagCompressed != 0 {
		pc := cursor{b: payload}
		rawLen, err := pc.uvarint()
		if err != nil {
			return 0, err
		}
		if rawLen > compression.MaxDecompressedSize {
			return 0, corrupt("pixel claims %d uncompressed bytes", rawLen)
		}
		comp := opts.compressor()
		if comp == nil {
			return 0, corrupt("compressed pixel without a compressor")
		}
		payload, err = comp.Decompress(pc.rest(), int(rawLen))
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeRecordCorruption, "decompress pixel")
		}
	}

	dst.Ensure(dstOff + n)
	pc := cursor{b: payload}
	nonNull := make([]int, 0, n)
	if flags&flagHasNulls != 0 {
		bitmap, err := pc.next((n + 7) / 8)
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			if bitmap[i>>3]&(1<<(i&7)) == 0 {
				setNull(dst, dstOff+i)
				continue
			}
			nonNull = append(nonNull, dstOff+i)
		}
	} else {
		for i := 0; i < n; i++ {
			nonNull = append(nonNull, dstOff+i)
		}
	}

	if err := c.decode(&pc, kind, t, dst, nonNull, opts); err != nil {
		return 0, err
	}
	if pc.len() != 0 {
		return 0, corrupt("%d trailing bytes after pixel values", pc.len())
	}
	return n, nil
}

// setNull marks row i null and zeroes its value slot.
func setNull(v vector.ColumnVector, i int) {
	switch cv := v.(type) {
	case *vector.LongColumnVector:
		cv.Vector[i] = 0
	case *vector.DoubleColumnVector:
		cv.Vector[i] = 0
	case *vector.BytesColumnVector:
		cv.Vector[i] = nil
	case *vector.ListColumnVector:
		cv.Offsets[i], cv.Lengths[i] = 0, 0
	}
	v.SetNull(i)
}
