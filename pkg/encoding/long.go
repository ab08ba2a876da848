package encoding

import (
	"bytes"
	"encoding/binary"

	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// longCodec covers the integer family: byte, short, int, long, date and timestamp.
type longCodec struct{}

func (longCodec) encode(buf *bytes.Buffer, t *schema.TypeDescription, v vector.ColumnVector, rows []int, col *stats.Collector, opts *Options) (Kind, error) {
	lv, ok := v.(*vector.LongColumnVector)
	if !ok {
		return 0, typeMismatch(t, v)
	}
	vals := make([]int64, len(rows))
	for i, r := range rows {
		vals[i] = lv.Vector[r]
		col.AddInt64(vals[i])
	}
	return encodeLongs(buf, vals, opts.Encoding), nil
}

func (longCodec) decode(c *cursor, kind Kind, t *schema.TypeDescription, v vector.ColumnVector, rows []int, _ *Options) error {
	lv, ok := v.(*vector.LongColumnVector)
	if !ok {
		return typeMismatch(t, v)
	}
	vals, err := decodeLongs(c, kind, len(rows))
	if err != nil {
		return err
	}
	for i, r := range rows {
		lv.Set(r, vals[i])
	}
	return nil
}

// encodeLongs picks the cheapest integer encoding: RLE when runs are long,
// delta when the values are monotonic, frame-of-reference bit-packing otherwise.
func encodeLongs(buf *bytes.Buffer, vals []int64, adaptive bool) Kind {
	if !adaptive || len(vals) == 0 {
		for _, x := range vals {
			buf.Write(binary.LittleEndian.AppendUint64(buf.AvailableBuffer(), uint64(x)))
		}
		return KindPlain
	}

	if runs := countRuns(vals); runs*4 <= len(vals) {
		buf.Write(binary.AppendUvarint(buf.AvailableBuffer(), uint64(runs)))
		for i := 0; i < len(vals); {
			j := i + 1
			for j < len(vals) && vals[j] == vals[i] {
				j++
			}
			b := binary.AppendVarint(buf.AvailableBuffer(), vals[i])
			b = binary.AppendUvarint(b, uint64(j-i))
			buf.Write(b)
			i = j
		}
		return KindRLE
	}

	if monotonic(vals) {
		b := binary.AppendVarint(buf.AvailableBuffer(), vals[0])
		buf.Write(b)
		for i := 1; i < len(vals); i++ {
			delta := int64(uint64(vals[i]) - uint64(vals[i-1]))
			buf.Write(binary.AppendVarint(buf.AvailableBuffer(), delta))
		}
		return KindDelta
	}

	lo, hi := vals[0], vals[0]
	for _, x := range vals[1:] {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	width := bitWidth(uint64(hi) - uint64(lo))
	b := binary.AppendVarint(buf.AvailableBuffer(), lo)
	b = append(b, byte(width))
	buf.Write(b)
	offsets := make([]uint64, len(vals))
	for i, x := range vals {
		offsets[i] = uint64(x) - uint64(lo)
	}
	appendPacked(buf, offsets, width)
	return KindBitPacked
}

func decodeLongs(c *cursor, kind Kind, n int) ([]int64, error) {
	vals := make([]int64, n)
	switch kind {
	case KindPlain:
		data, err := c.next(8 * n)
		if err != nil {
			return nil, err
		}
		for i := range vals {
			vals[i] = int64(binary.LittleEndian.Uint64(data[8*i:]))
		}
	case KindRLE:
		runs, err := c.count(2)
		if err != nil {
			return nil, err
		}
		i := 0
		for r := 0; r < runs; r++ {
			x, err := c.varint()
			if err != nil {
				return nil, err
			}
			length, err := c.uvarint()
			if err != nil {
				return nil, err
			}
			if length > uint64(n-i) {
				return nil, corrupt("rle run of %d overflows %d values", length, n)
			}
			for end := i + int(length); i < end; i++ {
				vals[i] = x
			}
		}
		if i != n {
			return nil, corrupt("rle runs cover %d of %d values", i, n)
		}
	case KindDelta:
		if n == 0 {
			return vals, nil
		}
		first, err := c.varint()
		if err != nil {
			return nil, err
		}
		vals[0] = first
		for i := 1; i < n; i++ {
			d, err := c.varint()
			if err != nil {
				return nil, err
			}
			vals[i] = int64(uint64(vals[i-1]) + uint64(d))
		}
	case KindBitPacked:
		if n == 0 {
			return vals, nil
		}
		lo, err := c.varint()
		if err != nil {
			return nil, err
		}
		width, err := c.byte()
		if err != nil {
			return nil, err
		}
		offsets, err := readPacked(c, n, uint(width))
		if err != nil {
			return nil, err
		}
		for i, o := range offsets {
			vals[i] = int64(uint64(lo) + o)
		}
	default:
		return nil, corrupt("%s is not an integer encoding", kind)
	}
	return vals, nil
}

func countRuns(vals []int64) int {
	runs := 1
	for i := 1; i < len(vals); i++ {
		if vals[i] != vals[i-1] {
			runs++
		}
	}
	return runs
}

func monotonic(vals []int64) bool {
	up, down := true, true
	for i := 1; i < len(vals) && (up || down); i++ {
		if vals[i] < vals[i-1] {
			up = false
		}
		if vals[i] > vals[i-1] {
			down = false
		}
	}
	return up || down
}

// boolCodec stores one bit per non-null value.
type boolCodec struct{}

func (boolCodec) encode(buf *bytes.Buffer, t *schema.TypeDescription, v vector.ColumnVector, rows []int, col *stats.Collector, _ *Options) (Kind, error) {
	lv, ok := v.(*vector.LongColumnVector)
	if !ok {
		return 0, typeMismatch(t, v)
	}
	bitsOut := make([]uint64, len(rows))
	for i, r := range rows {
		if lv.Vector[r] != 0 {
			bitsOut[i] = 1
		}
		col.AddInt64(int64(bitsOut[i]))
	}
	appendPacked(buf, bitsOut, 1)
	return KindBitPacked, nil
}

func (boolCodec) decode(c *cursor, kind Kind, t *schema.TypeDescription, v vector.ColumnVector, rows []int, _ *Options) error {
	lv, ok := v.(*vector.LongColumnVector)
	if !ok {
		return typeMismatch(t, v)
	}
	if kind != KindBitPacked {
		return corrupt("%s is not a boolean encoding", kind)
	}
	vals, err := readPacked(c, len(rows), 1)
	if err != nil {
		return err
	}
	for i, r := range rows {
		lv.Set(r, int64(vals[i]))
	}
	return nil
}
