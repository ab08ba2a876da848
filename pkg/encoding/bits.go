package encoding

import (
	"bytes"
	"math/bits"
)

func packedLen(n int, width uint) int {
	return int((uint64(n)*uint64(width) + 7) / 8)
}

// appendPacked writes each value's low width bits, least significant bit first.
func appendPacked(buf *bytes.Buffer, vals []uint64, width uint) {
	if width == 0 || len(vals) == 0 {
		return
	}
	start := buf.Len()
	buf.Write(make([]byte, packedLen(len(vals), width)))
	out := buf.Bytes()[start:]

	var bit uint64
	for _, v := range vals {
		for rem := width; rem > 0; {
			off := uint(bit & 7)
			take := 8 - off
			if take > rem {
				take = rem
			}
			out[bit>>3] |= byte(v&(1<<take-1)) << off
			v >>= take
			rem -= take
			bit += uint64(take)
		}
	}
}

func unpack(data []byte, n int, width uint) []uint64 {
	vals := make([]uint64, n)
	if width == 0 {
		return vals
	}
	var bit uint64
	for i := range vals {
		var v uint64
		var shift uint
		for rem := width; rem > 0; {
			off := uint(bit & 7)
			take := 8 - off
			if take > rem {
				take = rem
			}
			v |= uint64((data[bit>>3]>>off)&(1<<take-1)) << shift
			shift += take
			rem -= take
			bit += uint64(take)
		}
		vals[i] = v
	}
	return vals
}

func readPacked(c *cursor, n int, width uint) ([]uint64, error) {
	if width > 64 {
		return nil, corrupt("bit width %d out of range", width)
	}
	data, err := c.next(packedLen(n, width))
	if err != nil {
		return nil, err
	}
	return unpack(data, n, width), nil
}

func bitWidth(x uint64) uint {
	return uint(bits.Len64(x))
}
