// Package format defines the on-disk layout of a pixels file:
//
//	"PIXELS" | row group 0 | ... | row group N-1 | footer | postscript
//
// A row group is its column chunks followed by its row-group footer. The file
// footer and the row-group footers are CBOR documents protected by crc32c; the
// postscript is a fixed 32-byte little endian trailer that locates the footer.
package format

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"

	"github.com/ajitpratap0/pixels/pkg/encoding"
	"github.com/ajitpratap0/pixels/pkg/errors"
	"github.com/ajitpratap0/pixels/pkg/stats"
)

const (
	// Magic opens and closes every file.
	Magic = "PIXELS"
	// Version is the layout version this package writes and reads.
	Version uint32 = 1
	// PostScriptSize is the fixed size of the trailer.
	PostScriptSize = 32
	// NoPartition marks a row group of a non-partitioned file.
	NoPartition int32 = -1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the crc32c of b.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// PostScript locates and protects the footer.
type PostScript struct {
	FooterOffset uint64
	FooterLength uint32
	FooterCRC    uint32
	Version      uint32
}

// Marshal encodes p as the 32-byte trailer.
func (p PostScript) Marshal() []byte {
	b := make([]byte, PostScriptSize)
	binary.LittleEndian.PutUint64(b[0:], p.FooterOffset)
	binary.LittleEndian.PutUint32(b[8:], p.FooterLength)
	binary.LittleEndian.PutUint32(b[12:], p.FooterCRC)
	binary.LittleEndian.PutUint32(b[16:], p.Version)
	// b[20:26] reserved
	copy(b[26:], Magic)
	return b
}

// ParsePostScript decodes and validates the trailer of a file of fileSize bytes.
func ParsePostScript(b []byte, fileSize int64) (PostScript, error) {
	if len(b) != PostScriptSize {
		return PostScript{}, errors.Newf(errors.ErrorTypeFormatCorruption, "postscript is %d bytes, want %d", len(b), PostScriptSize)
	}
	if !bytes.Equal(b[26:], []byte(Magic)) {
		return PostScript{}, errors.New(errors.ErrorTypeFormatCorruption, "bad trailing magic")
	}
	p := PostScript{
		FooterOffset: binary.LittleEndian.Uint64(b[0:]),
		FooterLength: binary.LittleEndian.Uint32(b[8:]),
		FooterCRC:    binary.LittleEndian.Uint32(b[12:]),
		Version:      binary.LittleEndian.Uint32(b[16:]),
	}
	if p.Version != Version {
		return PostScript{}, errors.Newf(errors.ErrorTypeFormatCorruption, "unsupported file version %d", p.Version).
			WithDetail("supported", Version)
	}
	if p.FooterOffset < uint64(len(Magic)) || p.FooterOffset+uint64(p.FooterLength)+PostScriptSize != uint64(fileSize) {
		return PostScript{}, errors.Newf(errors.ErrorTypeFormatCorruption,
			"footer [%d,+%d) and postscript do not end the %d byte file", p.FooterOffset, p.FooterLength, fileSize)
	}
	return p, nil
}

// CheckHeader validates the leading magic.
func CheckHeader(b []byte) error {
	if !bytes.Equal(b, []byte(Magic)) {
		return errors.New(errors.ErrorTypeFormatCorruption, "bad leading magic")
	}
	return nil
}

// RowGroupInformation locates one row group.
type RowGroupInformation struct {
	_             struct{} `cbor:",toarray"`
	Offset        uint64
	DataLength    uint64
	FooterOffset  uint64
	FooterLength  uint32
	FooterCRC     uint32
	NumRows       uint64
	StartRow      uint64
	PartitionHash int32
}

// ColumnChunkIndex locates one column chunk and its pixels. ChunkOffset is
// absolute; pixel offsets are relative to it.
type ColumnChunkIndex struct {
	_           struct{} `cbor:",toarray"`
	ChunkOffset uint64
	ChunkLength uint64
	Pixels      []encoding.Pixel
	Stats       stats.Statistics
}

// RowGroupFooter indexes the chunks of one row group in leaf-column order.
type RowGroupFooter struct {
	Columns []ColumnChunkIndex `cbor:"1,keyasint"`
}

// Footer describes the whole file.
type Footer struct {
	Schema           string                `cbor:"1,keyasint"`
	NumberOfRows     uint64                `cbor:"2,keyasint"`
	PixelStride      uint32                `cbor:"3,keyasint"`
	Compression      string                `cbor:"4,keyasint"`
	CompressionLevel string                `cbor:"5,keyasint,omitempty"`
	Timezone         string                `cbor:"6,keyasint,omitempty"`
	RowGroups        []RowGroupInformation `cbor:"7,keyasint"`
	// RowGroupStats[rg][col] aggregates the pixels of each chunk so row groups
	// can be skipped without fetching their footers.
	RowGroupStats [][]stats.Statistics `cbor:"8,keyasint"`
	ColumnStats   []stats.Statistics   `cbor:"9,keyasint"`
	Partitioned   bool                 `cbor:"10,keyasint,omitempty"`
	KeyColumnIDs  []int                `cbor:"11,keyasint,omitempty"`
	BlockSize     int64                `cbor:"12,keyasint,omitempty"`
	Replication   int16                `cbor:"13,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{
		MaxArrayElements: 1 << 28,
		MaxMapPairs:      1 << 10,
	}).DecMode(); err != nil {
		panic(err)
	}
}

// MarshalFooter encodes f.
func MarshalFooter(f *Footer) ([]byte, error) {
	b, err := encMode.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode footer")
	}
	return b, nil
}

// UnmarshalFooter verifies crc against b and decodes it.
func UnmarshalFooter(b []byte, crc uint32) (*Footer, error) {
	if got := Checksum(b); got != crc {
		return nil, errors.Newf(errors.ErrorTypeFormatCorruption, "footer checksum mismatch: stored %08x, computed %08x", crc, got)
	}
	f := &Footer{}
	if err := decMode.Unmarshal(b, f); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormatCorruption, "decode footer")
	}
	if len(f.RowGroupStats) != len(f.RowGroups) {
		return nil, errors.Newf(errors.ErrorTypeFormatCorruption, "%d row groups but %d statistics entries", len(f.RowGroups), len(f.RowGroupStats))
	}
	return f, nil
}

// MarshalRowGroupFooter encodes f.
func MarshalRowGroupFooter(f *RowGroupFooter) ([]byte, error) {
	b, err := encMode.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode row group footer")
	}
	return b, nil
}

// UnmarshalRowGroupFooter verifies crc against b and decodes it.
func UnmarshalRowGroupFooter(b []byte, crc uint32) (*RowGroupFooter, error) {
	if got := Checksum(b); got != crc {
		return nil, errors.Newf(errors.ErrorTypeFormatCorruption, "row group footer checksum mismatch: stored %08x, computed %08x", crc, got)
	}
	f := &RowGroupFooter{}
	if err := decMode.Unmarshal(b, f); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormatCorruption, "decode row group footer")
	}
	return f, nil
}
