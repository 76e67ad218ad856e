package shardindex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/vecshard/distance"
	"github.com/hupe1980/vecshard/internal/hash"
)

const (
	// MagicNumber identifies a shard blob ("VSHD").
	MagicNumber uint32 = 0x56534844
	// Version is the current format version.
	Version uint16 = 1
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 48
)

var (
	// ErrInvalidMagic is returned when a blob is not a shard index.
	ErrInvalidMagic = errors.New("shardindex: invalid magic number")
	// ErrUnsupportedVersion is returned for blobs written by a newer format.
	ErrUnsupportedVersion = errors.New("shardindex: unsupported version")
	// ErrCorrupt is returned when a checksum or size check fails.
	ErrCorrupt = errors.New("shardindex: corrupt blob")
)

// ElementType is the on-disk vector element encoding.
type ElementType uint8

const (
	ElementFloat32 ElementType = 0
	ElementFloat16 ElementType = 1
)

func (e ElementType) size() int {
	if e == ElementFloat16 {
		return 2
	}
	return 4
}

func (e ElementType) String() string {
	switch e {
	case ElementFloat32:
		return "float32"
	case ElementFloat16:
		return "float16"
	default:
		return fmt.Sprintf("element(%d)", uint8(e))
	}
}

// ParseElementType converts "float32" or "float16" to an ElementType.
func ParseElementType(s string) (ElementType, error) {
	switch s {
	case "", "float32", "f32":
		return ElementFloat32, nil
	case "float16", "f16":
		return ElementFloat16, nil
	default:
		return 0, fmt.Errorf("unknown element type %q", s)
	}
}

// Header is the fixed-size prefix of every shard blob.
//
// Layout (little-endian):
//
//	0  magic        uint32
//	4  version      uint16
//	6  metric       uint8
//	7  element      uint8
//	8  compression  uint8
//	9  reserved     [3]byte
//	12 dim          uint32
//	16 count        uint64
//	24 bodySize     uint64  uncompressed body length
//	32 storedSize   uint64  body length as stored
//	40 bodyCRC      uint32  CRC32C of the stored body
//	44 headerCRC    uint32  CRC32C of bytes [0, 44)
type Header struct {
	Metric      distance.Metric
	Element     ElementType
	Compression Compression
	Dim         uint32
	Count       uint64
	BodySize    uint64
	StoredSize  uint64
	BodyCRC     uint32
}

// Encode writes the header into buf, which must be at least HeaderSize bytes.
func (h *Header) Encode(buf []byte) {
	_ = buf[HeaderSize-1]

	binary.LittleEndian.PutUint32(buf[0:], MagicNumber)
	binary.LittleEndian.PutUint16(buf[4:], Version)
	buf[6] = byte(h.Metric)
	buf[7] = byte(h.Element)
	buf[8] = byte(h.Compression)
	buf[9], buf[10], buf[11] = 0, 0, 0
	binary.LittleEndian.PutUint32(buf[12:], h.Dim)
	binary.LittleEndian.PutUint64(buf[16:], h.Count)
	binary.LittleEndian.PutUint64(buf[24:], h.BodySize)
	binary.LittleEndian.PutUint64(buf[32:], h.StoredSize)
	binary.LittleEndian.PutUint32(buf[40:], h.BodyCRC)
	binary.LittleEndian.PutUint32(buf[44:], hash.CRC32C(buf[:44]))
}

// DecodeHeader parses and validates a header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: blob shorter than header (%d bytes)", ErrCorrupt, len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:]) != MagicNumber {
		return nil, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint16(buf[4:]); v != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	if err := hash.Verify(buf[:44], binary.LittleEndian.Uint32(buf[44:])); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}

	h := &Header{
		Metric:      distance.Metric(buf[6]),
		Element:     ElementType(buf[7]),
		Compression: Compression(buf[8]),
		Dim:         binary.LittleEndian.Uint32(buf[12:]),
		Count:       binary.LittleEndian.Uint64(buf[16:]),
		BodySize:    binary.LittleEndian.Uint64(buf[24:]),
		StoredSize:  binary.LittleEndian.Uint64(buf[32:]),
		BodyCRC:     binary.LittleEndian.Uint32(buf[40:]),
	}

	if h.Dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrCorrupt)
	}
	if h.Element > ElementFloat16 {
		return nil, fmt.Errorf("%w: unknown element type %d", ErrCorrupt, h.Element)
	}
	if want := h.Count * (8 + uint64(h.Dim)*uint64(h.Element.size())); h.BodySize != want {
		return nil, fmt.Errorf("%w: body size %d, expected %d", ErrCorrupt, h.BodySize, want)
	}
	return h, nil
}
