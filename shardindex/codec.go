package shardindex

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/vecshard/internal/hash"
	"github.com/x448/float16"
)

// EncodeOptions controls how a Flat index is serialized.
type EncodeOptions struct {
	Compression Compression
	Element     ElementType
}

// Encode serializes f into a self-describing blob.
func Encode(f *Flat, opts EncodeOptions) ([]byte, error) {
	elemSize := opts.Element.size()
	count := f.Len()

	body := make([]byte, count*8+len(f.vectors)*elemSize)
	off := 0
	for _, id := range f.ids {
		binary.LittleEndian.PutUint64(body[off:], uint64(id))
		off += 8
	}

	switch opts.Element {
	case ElementFloat32:
		for _, v := range f.vectors {
			binary.LittleEndian.PutUint32(body[off:], math.Float32bits(v))
			off += 4
		}
	case ElementFloat16:
		for _, v := range f.vectors {
			binary.LittleEndian.PutUint16(body[off:], float16.Fromfloat32(v).Bits())
			off += 2
		}
	default:
		return nil, fmt.Errorf("unsupported element type %v", opts.Element)
	}

	stored, used, err := compress(body, opts.Compression)
	if err != nil {
		return nil, err
	}

	h := Header{
		Metric:      f.metric,
		Element:     opts.Element,
		Compression: used,
		Dim:         uint32(f.dim),
		Count:       uint64(count),
		BodySize:    uint64(len(body)),
		StoredSize:  uint64(len(stored)),
		BodyCRC:     hash.CRC32C(stored),
	}

	out := make([]byte, HeaderSize+len(stored))
	h.Encode(out)
	copy(out[HeaderSize:], stored)
	return out, nil
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Flat, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	stored := data[HeaderSize:]
	if uint64(len(stored)) != h.StoredSize {
		return nil, fmt.Errorf("%w: stored body is %d bytes, header says %d", ErrCorrupt, len(stored), h.StoredSize)
	}
	if err := hash.Verify(stored, h.BodyCRC); err != nil {
		return nil, fmt.Errorf("%w: body: %w", ErrCorrupt, err)
	}

	body, err := decompress(stored, h.Compression, h.BodySize)
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) != h.BodySize {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, len(body), h.BodySize)
	}

	f, err := NewFlat(int(h.Dim), h.Metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	count := int(h.Count)
	f.ids = make([]int64, count)
	off := 0
	for i := range f.ids {
		f.ids[i] = int64(binary.LittleEndian.Uint64(body[off:]))
		off += 8
	}

	f.vectors = make([]float32, count*f.dim)
	switch h.Element {
	case ElementFloat32:
		for i := range f.vectors {
			f.vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
	case ElementFloat16:
		for i := range f.vectors {
			f.vectors[i] = float16.Frombits(binary.LittleEndian.Uint16(body[off:])).Float32()
			off += 2
		}
	}

	return f, nil
}
