//go:build !linux && !freebsd && !darwin

package arena

import (
	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/cockroachdb/errors"
)

// Map allocates the span from the Go heap when anonymous mappings are not
// available. dirtmake skips the runtime's zeroing pass, so the span starts
// dirty and frames seeded from it carry the zero-on-use hint.
func Map(size uint64) (*Arena, error) {
	if size == 0 || size > uint64(^uint(0)>>1) {
		return nil, errors.Newf("arena: cannot map %d bytes", size)
	}
	return &Arena{
		data:   dirtmake.Bytes(int(size), int(size)),
		zeroed: false,
		unmap:  func() error { return nil },
	}, nil
}
