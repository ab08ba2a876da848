package encoding

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/ajitpratap0/pixels/pkg/schema"
	"github.com/ajitpratap0/pixels/pkg/stats"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// floatCodec stores IEEE bits: 4 bytes for float, 8 for double.
type floatCodec struct {
	width int
}

func (f floatCodec) encode(buf *bytes.Buffer, t *schema.TypeDescription, v vector.ColumnVector, rows []int, col *stats.Collector, _ *Options) (Kind, error) {
	dv, ok := v.(*vector.DoubleColumnVector)
	if !ok {
		return 0, typeMismatch(t, v)
	}
	for _, r := range rows {
		x := dv.Vector[r]
		if f.width == 4 {
			x32 := float32(x)
			buf.Write(binary.LittleEndian.AppendUint32(buf.AvailableBuffer(), math.Float32bits(x32)))
			col.AddFloat64(float64(x32))
			continue
		}
		buf.Write(binary.LittleEndian.AppendUint64(buf.AvailableBuffer(), math.Float64bits(x)))
		col.AddFloat64(x)
	}
	return KindPlain, nil
}

func (f floatCodec) decode(c *cursor, kind Kind, t *schema.TypeDescription, v vector.ColumnVector, rows []int, _ *Options) error {
	dv, ok := v.(*vector.DoubleColumnVector)
	if !ok {
		return typeMismatch(t, v)
	}
	if kind != KindPlain {
		return corrupt("%s is not a floating point encoding", kind)
	}
	data, err := c.next(f.width * len(rows))
	if err != nil {
		return err
	}
	for i, r := range rows {
		if f.width == 4 {
			dv.Set(r, float64(math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))))
			continue
		}
		dv.Set(r, math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
	}
	return nil
}
