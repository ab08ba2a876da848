package encoding

import (
	"bytes"
	"encoding/binary"

	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// bytesCodec covers string, varchar, char and binary. Decoded values reference
// the pixel payload rather than copying it.
type bytesCodec struct{}

func (bytesCodec) encode(buf *bytes.Buffer, t *schema.TypeDescription, v vector.ColumnVector, rows []int, col *stats.Collector, opts *Options) (Kind, error) {
	bv, ok := v.(*vector.BytesColumnVector)
	if !ok {
		return 0, typeMismatch(t, v)
	}
	vals := make([][]byte, len(rows))
	for i, r := range rows {
		vals[i] = bv.Vector[r]
		col.AddBytes(vals[i])
	}

	if opts.Encoding && len(vals) > 0 {
		if dict, ids, ok := buildDictionary(vals, opts.threshold()); ok {
			buf.Write(binary.AppendUvarint(buf.AvailableBuffer(), uint64(len(dict))))
			for _, d := range dict {
				writeBytes(buf, d)
			}
			width := bitWidth(uint64(len(dict) - 1))
			buf.WriteByte(byte(width))
			appendPacked(buf, ids, width)
			return KindDictionary, nil
		}
	}

	for _, b := range vals {
		writeBytes(buf, b)
	}
	return KindPlain, nil
}

// buildDictionary returns the distinct values in first-seen order and the index
// of each value, or ok=false once the distinct ratio exceeds threshold.
func buildDictionary(vals [][]byte, threshold float64) (dict [][]byte, ids []uint64, ok bool) {
	limit := int(threshold * float64(len(vals)))
	index := make(map[string]uint64)
	ids = make([]uint64, len(vals))
	for i, b := range vals {
		id, seen := index[string(b)]
		if !seen {
			if len(dict) >= limit {
				return nil, nil, false
			}
			id = uint64(len(dict))
			index[string(b)] = id
			dict = append(dict, b)
		}
		ids[i] = id
	}
	return dict, ids, true
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	buf.Write(binary.AppendUvarint(buf.AvailableBuffer(), uint64(len(b))))
	buf.Write(b)
}

func readBytes(c *cursor) ([]byte, error) {
	n, err := c.count(1)
	if err != nil {
		return nil, err
	}
	return c.next(n)
}

func (bytesCodec) decode(c *cursor, kind Kind, t *schema.TypeDescription, v vector.ColumnVector, rows []int, _ *Options) error {
	bv, ok := v.(*vector.BytesColumnVector)
	if !ok {
		return typeMismatch(t, v)
	}
	switch kind {
	case KindPlain:
		for _, r := range rows {
			b, err := readBytes(c)
			if err != nil {
				return err
			}
			bv.SetRef(r, b)
		}
	case KindDictionary:
		size, err := c.count(1)
		if err != nil {
			return err
		}
		dict := make([][]byte, size)
		for i := range dict {
			if dict[i], err = readBytes(c); err != nil {
				return err
			}
		}
		width, err := c.byte()
		if err != nil {
			return err
		}
		ids, err := readPacked(c, len(rows), uint(width))
		if err != nil {
			return err
		}
		for i, r := range rows {
			if ids[i] >= uint64(size) {
				return corrupt("dictionary index %d out of %d entries", ids[i], size)
			}
			bv.SetRef(r, dict[ids[i]])
		}
	default:
		return corrupt("%s is not a byte string encoding", kind)
	}
	return nil
}
