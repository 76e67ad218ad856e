package hash

import (
	"fmt"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// MismatchError reports a checksum that does not match the stored value.
type MismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("crc32c mismatch: expected %08x, got %08x", e.Expected, e.Actual)
}

// Verify checks data against the expected checksum.
func Verify(data []byte, expected uint32) error {
	if actual := CRC32C(data); actual != expected {
		return &MismatchError{Expected: expected, Actual: actual}
	}
	return nil
}
