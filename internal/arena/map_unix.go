//go:build linux || freebsd || darwin

package arena

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Map reserves a size-byte anonymous private mapping. Pages read as zero
// until first touched. Release is backed by madvise(MADV_DONTNEED).
func Map(size uint64) (*Arena, error) {
	if size == 0 || size > uint64(^uint(0)>>1) {
		return nil, errors.Newf("arena: cannot map %d bytes", size)
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "arena: map %d bytes", size)
	}
	return &Arena{
		data:    data,
		zeroed:  true,
		release: func(b []byte) error { return unix.Madvise(b, unix.MADV_DONTNEED) },
		unmap:   func() error { return unix.Munmap(data) },
	}, nil
}
