package trccapped

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStorageExhausted is returned by Write when the record can't be stored,
// either because it's larger than the entire store, or because the backing
// region failed. It's fatal for the write, and isn't retried.
var ErrStorageExhausted = errors.New("storage exhausted")

// Handle identifies a record in a store. It's the offset of the start of the
// record in the logical, unbounded write stream.
type Handle int64

// DefaultCapacity is used when no capacity is specified.
const DefaultCapacity = 10 * 1024 * 1024

// StoreConfig captures the configuration of a store.
type StoreConfig struct {
	// Capacity is the maximum number of bytes held by the store, including
	// record headers. The default is DefaultCapacity.
	Capacity int64

	// Region is the backing medium. It's truncated to Capacity by the store.
	// The default is an in-memory region.
	Region Region
}

// Store is a size-bounded, append-only log of records. Once the total size of
// all writes exceeds the capacity, the oldest records are overwritten, and
// reads of their handles report not available.
//
// Store is safe for concurrent use. Writes are serialized, reads are not, and
// reads never take the write lock.
type Store struct {
	mtx sync.Mutex // serializes writes and resizes

	region   Region
	epoch    atomic.Uint64 // odd while a resize is in progress
	capacity atomic.Int64
	cursor   atomic.Int64 // end of the most recent committed record, i.e. W
	reserved atomic.Int64 // end of the most recent reserved record, >= cursor

	ids   map[string]uint16
	names atomic.Pointer[[]string] // copy-on-write, indexed by ID

	statsMtx sync.RWMutex
	stats    map[string]*counter
}

// NewStore returns an in-memory store with the given capacity in bytes.
func NewStore(capacity int64) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return newStore(&memoryRegion{buf: make([]byte, capacity)}, capacity)
}

// NewStoreConfig returns a store with the given config.
func NewStoreConfig(cfg StoreConfig) (*Store, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Region == nil {
		cfg.Region = NewMemoryRegion()
	}
	if err := cfg.Region.Truncate(cfg.Capacity); err != nil {
		return nil, fmt.Errorf("truncate region: %w", err)
	}
	return newStore(cfg.Region, cfg.Capacity), nil
}

// OpenFile returns a store backed by the file at path, which is created if it
// doesn't exist. Any existing contents are discarded.
func OpenFile(path string, capacity int64) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open store file: %w", err)
	}

	s, err := NewStoreConfig(StoreConfig{
		Capacity: capacity,
		Region:   fileRegion{File: f},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

func newStore(region Region, capacity int64) *Store {
	s := &Store{
		region: region,
		ids:    map[string]uint16{},
		stats:  map[string]*counter{},
	}
	s.capacity.Store(capacity)
	s.names.Store(&[]string{})
	return s
}

// Write appends the payload as a new record in the given category, and returns
// the handle of that record. The handle remains readable until at least
// Capacity bytes of newer records have been written.
func (s *Store) Write(category string, payload []byte) (Handle, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	begin := time.Now()

	var (
		capacity  = s.capacity.Load()
		frameSize = FrameSize(len(payload))
	)
	if len(payload) > math.MaxUint32 || frameSize > capacity {
		return 0, fmt.Errorf("%w: record size %d exceeds capacity %d", ErrStorageExhausted, frameSize, capacity)
	}

	id, err := s.categoryID(category)
	if err != nil {
		return 0, err
	}

	frame := make([]byte, frameSize)
	encodeHeader(frame, id, payload)
	copy(frame[headerSize:], payload)

	// Reserve the space before touching the region, so that readers of the
	// records we're about to overwrite can detect it.
	offset := s.cursor.Load()
	if end := offset + frameSize; end > s.reserved.Load() {
		s.reserved.Store(end)
	}

	if err := s.writeAt(frame, offset, capacity); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorageExhausted, err)
	}

	// Publish.
	s.cursor.Store(offset + frameSize)
	s.counter(category).observe(len(payload), time.Since(begin))

	return Handle(offset), nil
}

// Read returns the payload of the record identified by the handle. If the
// record has been evicted, or the handle is otherwise invalid, Read returns
// false.
func (s *Store) Read(h Handle) ([]byte, bool) {
	rec, ok := s.ReadRecord(h)
	return rec.Payload, ok
}

// Record is a single entry in a store.
type Record struct {
	Handle   Handle
	Category string
	Payload  []byte
}

// ReadRecord is like Read, but also returns the category of the record.
func (s *Store) ReadRecord(h Handle) (Record, bool) {
	epoch := s.epoch.Load()
	if epoch%2 != 0 {
		return Record{}, false // resize in progress
	}

	var (
		offset    = int64(h)
		capacity  = s.capacity.Load()
		committed = s.cursor.Load()
	)
	if offset < 0 || offset+headerSize > committed || offset < s.horizon(capacity) {
		return Record{}, false
	}

	var buf [headerSize]byte
	if err := s.readAt(buf[:], offset, capacity); err != nil {
		return Record{}, false
	}

	hdr := decodeHeader(buf[:])
	if int64(hdr.length) > capacity-headerSize || offset+FrameSize(int(hdr.length)) > committed {
		return Record{}, false
	}

	payload := make([]byte, hdr.length)
	if err := s.readAt(payload, offset+headerSize, capacity); err != nil {
		return Record{}, false
	}

	// The record may have been overwritten, or the region resized, while we
	// were copying it.
	if s.epoch.Load() != epoch || offset < s.horizon(capacity) {
		return Record{}, false
	}

	// Handles which don't point to the start of a record land here.
	if !hdr.verify(payload) {
		return Record{}, false
	}

	names := *s.names.Load()
	if int(hdr.category) >= len(names) {
		return Record{}, false
	}

	return Record{
		Handle:   h,
		Category: names[hdr.category],
		Payload:  payload,
	}, true
}

// Resize changes the capacity of the store. Resize is destructive: every
// previously issued handle becomes unreadable. The write cursor remains
// monotonic, so new handles are always greater than old handles.
func (s *Store) Resize(capacity int64) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid capacity %d", capacity)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.epoch.Add(1)
	defer s.epoch.Add(1)

	// Move the horizon up to the cursor.
	cursor := s.cursor.Load()
	s.reserved.Store(cursor + capacity)
	s.capacity.Store(capacity)

	if err := s.region.Truncate(capacity); err != nil {
		return fmt.Errorf("%w: truncate region: %w", ErrStorageExhausted, err)
	}

	return nil
}

// Capacity returns the maximum number of bytes held by the store.
func (s *Store) Capacity() int64 {
	return s.capacity.Load()
}

// Cursor returns the logical write cursor, which is the total number of bytes
// ever written to the store. It's also the handle of the next record.
func (s *Store) Cursor() Handle {
	return Handle(s.cursor.Load())
}

// Horizon returns the oldest handle which may still be readable. Every handle
// less than the horizon has been evicted.
func (s *Store) Horizon() Handle {
	return Handle(s.horizon(s.capacity.Load()))
}

// Close the store, and the backing region if it's an io.Closer.
func (s *Store) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if c, ok := s.region.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func (s *Store) horizon(capacity int64) int64 {
	if h := s.reserved.Load() - capacity; h > 0 {
		return h
	}
	return 0
}

// categoryID must be called with the write lock held.
func (s *Store) categoryID(category string) (uint16, error) {
	if id, ok := s.ids[category]; ok {
		return id, nil
	}

	prev := *s.names.Load()
	if len(prev) > math.MaxUint16 {
		return 0, fmt.Errorf("too many categories (%d)", len(prev))
	}

	id := uint16(len(prev))
	next := make([]string, len(prev), len(prev)+1)
	copy(next, prev)
	next = append(next, category)

	s.ids[category] = id
	s.names.Store(&next)

	return id, nil
}

// writeAt writes p at the logical offset, wrapping around the end of the
// region as necessary.
func (s *Store) writeAt(p []byte, offset, capacity int64) error {
	pos := offset % capacity
	first := int64(len(p))
	if room := capacity - pos; first > room {
		first = room
	}

	if _, err := s.region.WriteAt(p[:first], pos); err != nil {
		return err
	}

	if first < int64(len(p)) {
		if _, err := s.region.WriteAt(p[first:], 0); err != nil {
			return err
		}
	}

	return nil
}

// readAt is the inverse of writeAt.
func (s *Store) readAt(p []byte, offset, capacity int64) error {
	pos := offset % capacity
	first := int64(len(p))
	if room := capacity - pos; first > room {
		first = room
	}

	if n, err := s.region.ReadAt(p[:first], pos); n < int(first) {
		return fmt.Errorf("short read (%d/%d): %w", n, first, err)
	}

	if first < int64(len(p)) {
		if n, err := s.region.ReadAt(p[first:], 0); n < len(p)-int(first) {
			return fmt.Errorf("short read (%d/%d): %w", n, len(p)-int(first), err)
		}
	}

	return nil
}
