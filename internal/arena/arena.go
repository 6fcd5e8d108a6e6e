// Package arena reserves the byte span the allocators hand addresses into.
// It plays the role of physical memory: all frame and heap bookkeeping lives
// outside the span, and the allocators never interpret its contents.
package arena

// Arena is a fixed span of backing memory reserved once at init.
type Arena struct {
	data    []byte
	zeroed  bool
	release func(b []byte) error
	unmap   func() error
}

// Size returns the span length in bytes.
func (a *Arena) Size() uint64 {
	return uint64(len(a.data))
}

// Zeroed reports whether untouched pages of the span read as zero.
func (a *Arena) Zeroed() bool {
	return a.zeroed
}

// Bytes returns the [off, off+n) view of the span.
func (a *Arena) Bytes(off, n uint64) []byte {
	return a.data[off : off+n : off+n]
}

// Release advises the OS that the [off, off+n) contents are disposable.
// The range stays mapped and writable; whether its bytes survive is
// platform-dependent, so callers must not rely on them either way.
func (a *Arena) Release(off, n uint64) error {
	if a.release == nil {
		return nil
	}
	return a.release(a.data[off : off+n])
}

// Close unmaps the span. Further use of any view is a bug. Close is
// idempotent.
func (a *Arena) Close() error {
	if a.data == nil {
		return nil
	}
	err := a.unmap()
	a.data = nil
	return err
}
