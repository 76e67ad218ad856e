// Package mmap provides read-only memory-mapped file access for local shard roots.
//
//	m, err := mmap.Open("shard-000003.vshd")
//	if err != nil { ... }
//	defer m.Close()
//	data := m.Bytes()
//
// On Unix the file is mapped with mmap(2). Other platforms fall back to reading
// the whole file into memory behind the same API.
//
// Mapping is safe for concurrent reads. Close is idempotent; callers must not
// touch the slice returned by Bytes after Close returns.
package mmap
