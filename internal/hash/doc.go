// Package hash provides the CRC32-Castagnoli checksum used to validate shard blobs.
//
//	sum := hash.CRC32C(body)
//	if err := hash.Verify(body, sum); err != nil { ... }
package hash
