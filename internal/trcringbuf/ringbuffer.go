package trcringbuf

import (
	"sort"
	"sync"
)

// RingBuffer is a fixed-size collection of recent items.
type RingBuffer[T any] struct {
	mtx sync.Mutex
	buf []T // fully allocated at construction
	cur int // index for next write, walk backwards to read
	len int // count of actual values
}

// NewRingBuffer returns an empty ring buffer of items, pre-allocated with the
// given capacity.
func NewRingBuffer[T any](cap int) *RingBuffer[T] {
	return &RingBuffer[T]{
		buf: make([]T, cap),
	}
}

// Add the value to the ring buffer. If the ring buffer was full and an item was
// overwritten by this add, return that item and true, otherwise return a zero
// value item and false.
func (rb *RingBuffer[T]) Add(val T) (dropped T, ok bool) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if len(rb.buf) <= 0 {
		var zero T
		return zero, false
	}

	if rb.len >= len(rb.buf) {
		dropped, ok = rb.buf[rb.cur], true
	}

	rb.buf[rb.cur] = val

	if rb.len < len(rb.buf) {
		rb.len++
	}

	rb.cur++
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return dropped, ok
}

// Newest returns up to n of the most recent values, newest first. If n is
// less than or equal to zero, all values are returned.
func (rb *RingBuffer[T]) Newest(n int) []T {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if n <= 0 || n > rb.len {
		n = rb.len
	}

	res := make([]T, n)
	for i := range res {
		cur := rb.cur - 1 - i
		if cur < 0 {
			cur += len(rb.buf)
		}
		res[i] = rb.buf[cur]
	}

	return res
}

// Len returns the number of values in the ring buffer.
func (rb *RingBuffer[T]) Len() int {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	return rb.len
}

// Resize changes the capacity of the ring buffer to the given value. If the new
// capacity is smaller than the existing capacity, the oldest values are
// dropped, and returned, oldest last.
func (rb *RingBuffer[T]) Resize(cap int) (dropped []T) {
	if cap <= 0 {
		return nil
	}

	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	// Values from newest to oldest.
	values := make([]T, rb.len)
	for i := range values {
		cur := rb.cur - 1 - i
		if cur < 0 {
			cur += len(rb.buf)
		}
		values[i] = rb.buf[cur]
	}

	keep := values
	if len(keep) > cap {
		keep, dropped = values[:cap], values[cap:]
	}

	// Oldest kept value goes at index 0.
	buf := make([]T, cap)
	for i := range keep {
		buf[len(keep)-1-i] = keep[i]
	}

	rb.buf = buf
	rb.len = len(keep)
	rb.cur = len(keep) % cap

	return dropped
}

//
//
//

// RingBuffers collects individual ring buffers by string key.
type RingBuffers[T any] struct {
	mtx  sync.Mutex
	cap  int
	bufs map[string]*RingBuffer[T]
}

// NewRingBuffers returns an empty set of ring buffers, each of which will have
// a maximum capacity of the given cap.
func NewRingBuffers[T any](cap int) *RingBuffers[T] {
	return &RingBuffers[T]{
		cap:  cap,
		bufs: map[string]*RingBuffer[T]{},
	}
}

// GetOrCreate returns the ring buffer corresponding to the given key. Once a
// ring buffer is created in this way, it will always exist.
func (rbs *RingBuffers[T]) GetOrCreate(key string) *RingBuffer[T] {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	rb, ok := rbs.bufs[key]
	if !ok {
		rb = NewRingBuffer[T](rbs.cap)
		rbs.bufs[key] = rb
	}

	return rb
}

// Get returns the ring buffer corresponding to the given key, if it exists.
func (rbs *RingBuffers[T]) Get(key string) (*RingBuffer[T], bool) {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	rb, ok := rbs.bufs[key]
	return rb, ok
}

// Keys returns the keys of every ring buffer in the set, sorted.
func (rbs *RingBuffers[T]) Keys() []string {
	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	keys := make([]string, 0, len(rbs.bufs))
	for key := range rbs.bufs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

// Resize all of the ring buffers in the set to the new capacity.
func (rbs *RingBuffers[T]) Resize(cap int) (dropped []T) {
	if cap <= 0 {
		return nil
	}

	rbs.mtx.Lock()
	defer rbs.mtx.Unlock()

	rbs.cap = cap

	for _, rb := range rbs.bufs {
		dropped = append(dropped, rb.Resize(cap)...)
	}

	return dropped
}
