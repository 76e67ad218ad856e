//go:build unix

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func osMap(f *os.File, size int, advice Advice) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}

	switch advice {
	case AdviceSequential:
		_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	case AdviceRandom:
		_ = unix.Madvise(data, unix.MADV_RANDOM)
	}

	return data, unix.Munmap, nil
}
