package trccapped

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Region is the backing medium of a store. Offsets passed to ReadAt and
// WriteAt are physical, i.e. always in [0, size). Truncate is called with the
// store capacity at construction and on resize, and must leave the region
// zero-filled.
//
// An *os.File satisfies Region.
type Region interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
}

// memoryRegion is the default in-memory region. The lock is held only for the
// duration of a single copy.
type memoryRegion struct {
	mtx sync.RWMutex
	buf []byte
}

var _ Region = (*memoryRegion)(nil)

// NewMemoryRegion returns an empty in-memory region.
func NewMemoryRegion() Region {
	return &memoryRegion{}
}

func (r *memoryRegion) ReadAt(p []byte, off int64) (int, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	if off < 0 || off >= int64(len(r.buf)) {
		return 0, io.EOF
	}

	n := copy(p, r.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (r *memoryRegion) WriteAt(p []byte, off int64) (int, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if off < 0 || off+int64(len(p)) > int64(len(r.buf)) {
		return 0, fmt.Errorf("write of %d bytes at offset %d exceeds region size %d", len(p), off, len(r.buf))
	}

	return copy(r.buf[off:], p), nil
}

func (r *memoryRegion) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("invalid region size %d", size)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.buf = make([]byte, size)
	return nil
}

// fileRegion wraps a file so that truncation always discards prior contents.
type fileRegion struct {
	*os.File
}

func (r fileRegion) Truncate(size int64) error {
	if err := r.File.Truncate(0); err != nil {
		return err
	}
	return r.File.Truncate(size)
}
