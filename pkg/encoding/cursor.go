package encoding

import "encoding/binary"

// cursor reads a byte slice front to back, turning every overrun into a
// record corruption error.
type cursor struct {
	b   []byte
	off int
}

func (c *cursor) len() int { return len(c.b) - c.off }

func (c *cursor) rest() []byte {
	r := c.b[c.off:]
	c.off = len(c.b)
	return r
}

func (c *cursor) next(n int) ([]byte, error) {
	if n < 0 || n > c.len() {
		return nil, corrupt("need %d bytes at offset %d, have %d", n, c.off, c.len())
	}
	r := c.b[c.off : c.off+n]
	c.off += n
	return r, nil
}

func (c *cursor) byte() (byte, error) {
	if c.len() < 1 {
		return 0, corrupt("unexpected end of pixel at offset %d", c.off)
	}
	b := c.b[c.off]
	c.off++
	return b, nil
}

func (c *cursor) uvarint() (uint64, error) {
	v, n := binary.Uvarint(c.b[c.off:])
	if n <= 0 {
		return 0, corrupt("bad uvarint at offset %d", c.off)
	}
	c.off += n
	return v, nil
}

func (c *cursor) varint() (int64, error) {
	v, n := binary.Varint(c.b[c.off:])
	if n <= 0 {
		return 0, corrupt("bad varint at offset %d", c.off)
	}
	c.off += n
	return v, nil
}

// count reads a uvarint length bounded by the bytes left, assuming each
// element takes at least minBytes.
func (c *cursor) count(minBytes int) (int, error) {
	v, err := c.uvarint()
	if err != nil {
		return 0, err
	}
	if minBytes > 0 && v > uint64(c.len()/minBytes) {
		return 0, corrupt("length %d exceeds remaining %d bytes", v, c.len())
	}
	return int(v), nil
}
