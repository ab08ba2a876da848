package encoding

import (
	"bytes"

	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// listCodec writes element counts through the integer encoder, then the
// elements of every non-null row as one embedded blob of the element type.
type listCodec struct{}

func (listCodec) encode(buf *bytes.Buffer, t *schema.TypeDescription, v vector.ColumnVector, rows []int, col *stats.Collector, opts *Options) (Kind, error) {
	lv, ok := v.(*vector.ListColumnVector)
	if !ok {
		return 0, typeMismatch(t, v)
	}
	lengths := make([]int64, len(rows))
	var children []int
	for i, r := range rows {
		col.AddRow()
		lengths[i] = lv.Lengths[r]
		for j := lv.Offsets[r]; j < lv.Offsets[r]+lv.Lengths[r]; j++ {
			children = append(children, int(j))
		}
	}

	lenBuf := new(bytes.Buffer)
	lenKind := encodeLongs(lenBuf, lengths, opts.Encoding)
	buf.WriteByte(byte(lenKind))
	buf.Write(lenBuf.Bytes())

	// the outer pixel is compressed as a whole
	childOpts := &Options{Encoding: opts.Encoding, DictionaryThreshold: opts.DictionaryThreshold}
	child, err := encodeRows(t.Children[0], lv.Child, children, stats.NewCollector(), childOpts)
	if err != nil {
		return 0, err
	}
	writeBytes(buf, child)
	return KindList, nil
}

func (listCodec) decode(c *cursor, kind Kind, t *schema.TypeDescription, v vector.ColumnVector, rows []int, opts *Options) error {
	lv, ok := v.(*vector.ListColumnVector)
	if !ok {
		return typeMismatch(t, v)
	}
	if kind != KindList {
		return corrupt("%s is not a list encoding", kind)
	}
	lenKind, err := c.byte()
	if err != nil {
		return err
	}
	lengths, err := decodeLongs(c, Kind(lenKind), len(rows))
	if err != nil {
		return err
	}
	child, err := readBytes(c)
	if err != nil {
		return err
	}

	var total int64
	for _, l := range lengths {
		if l < 0 {
			return corrupt("negative list length %d", l)
		}
		total += l
		if total > MaxPixelRows {
			return corrupt("list lengths sum past %d elements", MaxPixelRows)
		}
	}
	stored, err := PixelRows(child)
	if err != nil {
		return err
	}
	if int64(stored) != total {
		return corrupt("list holds %d elements, lengths sum to %d", stored, total)
	}

	base := lv.ChildCount
	for i, r := range rows {
		lv.StartRow(r, int(lengths[i]))
	}
	childOpts := &Options{Encoding: opts.Encoding, DictionaryThreshold: opts.DictionaryThreshold}
	_, err = DecodePixel(t.Children[0], child, lv.Child, base, int(total), childOpts)
	return err
}
