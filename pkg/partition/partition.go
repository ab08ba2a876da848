// Package partition routes rows to partitions by the hash of their key columns.
package partition

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/vector"
)

// Func maps a row to a partition in [0, NumPartitions()). Implementations must
// be deterministic: equal key values always map to the same partition.
type Func interface {
	Partition(cols []vector.ColumnVector, row int) int
	NumPartitions() int
}

const (
	nullMarker    byte = 0
	notNullMarker byte = 1
)

// HashFunc hashes the key columns of a row with xxhash. A HashFunc reuses an
// internal buffer and must not be shared between goroutines.
type HashFunc struct {
	keys []int
	n    int
	buf  []byte
}

// NewHashFunc creates a hash partition function over the given column ids.
func NewHashFunc(keyColumnIDs []int, numPartitions int) (*HashFunc, error) {
	if numPartitions <= 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "number of partitions must be positive, got %d", numPartitions)
	}
	if len(keyColumnIDs) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "at least one key column is required")
	}
	return &HashFunc{keys: append([]int(nil), keyColumnIDs...), n: numPartitions}, nil
}

// NumPartitions returns the partition count.
func (h *HashFunc) NumPartitions() int { return h.n }

// Hash returns the 64-bit hash of the key columns of row.
func (h *HashFunc) Hash(cols []vector.ColumnVector, row int) uint64 {
	h.buf = h.buf[:0]
	for _, k := range h.keys {
		h.buf = appendKey(h.buf, cols[k], row)
	}
	return xxhash.Sum64(h.buf)
}

// Partition returns the partition of row.
func (h *HashFunc) Partition(cols []vector.ColumnVector, row int) int {
	return int(h.Hash(cols, row) % uint64(h.n))
}

func appendKey(buf []byte, v vector.ColumnVector, row int) []byte {
	if v.IsNullAt(row) {
		return append(buf, nullMarker)
	}
	buf = append(buf, notNullMarker)
	switch cv := v.(type) {
	case *vector.LongColumnVector:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(cv.Vector[row]))
	case *vector.DoubleColumnVector:
		f := cv.Vector[row]
		switch {
		case f == 0:
			f = 0 // -0 and +0 compare equal
		case math.IsNaN(f):
			f = math.NaN()
		}
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
	case *vector.BytesColumnVector:
		buf = binary.AppendUvarint(buf, uint64(len(cv.Vector[row])))
		buf = append(buf, cv.Vector[row]...)
	case *vector.ListColumnVector:
		n := int(cv.Lengths[row])
		off := int(cv.Offsets[row])
		buf = binary.AppendUvarint(buf, uint64(n))
		for i := 0; i < n; i++ {
			buf = appendKey(buf, cv.Child, off+i)
		}
	}
	return buf
}
