package trcringbuf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func assertEqual[T any](t *testing.T, have, want T) {
	t.Helper()
	if !cmp.Equal(have, want) {
		t.Fatal(cmp.Diff(have, want))
	}
}

func TestRingBuffer(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer[int](3)

	assertEqual(t, rb.Newest(0), []int{})

	rb.Add(1)
	rb.Add(2)

	assertEqual(t, rb.Newest(0), []int{2, 1})
	assertEqual(t, rb.Newest(1), []int{2})
	assertEqual(t, rb.Len(), 2)

	rb.Add(3)
	removed, did := rb.Add(4)

	assertEqual(t, did, true)
	assertEqual(t, removed, 1)
	assertEqual(t, rb.Newest(0), []int{4, 3, 2})
	assertEqual(t, rb.Newest(2), []int{4, 3})
	assertEqual(t, rb.Newest(99), []int{4, 3, 2})
	assertEqual(t, rb.Len(), 3)
}

func TestRingBufferZero(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer[int](0)
	_, did := rb.Add(1)
	assertEqual(t, did, false)
	assertEqual(t, rb.Len(), 0)
	assertEqual(t, rb.Newest(0), []int{})
}

func TestRingBufferResize(t *testing.T) {
	t.Parallel()

	rb := NewRingBuffer[int](3)

	rb.Add(1)
	rb.Add(2)
	rb.Add(3)
	rb.Add(4)

	assertEqual(t, rb.Newest(0), []int{4, 3, 2})

	removed := rb.Resize(2)

	assertEqual(t, removed, []int{2})
	assertEqual(t, rb.Newest(0), []int{4, 3})

	removed = rb.Resize(4)

	assertEqual(t, len(removed), 0)
	assertEqual(t, rb.Newest(0), []int{4, 3})

	rb.Add(5)
	rb.Add(6)
	rb.Add(7)

	assertEqual(t, rb.Newest(0), []int{7, 6, 5, 4})
	assertEqual(t, rb.Resize(-1), []int(nil))
}

func TestRingBuffers(t *testing.T) {
	t.Parallel()

	rbs := NewRingBuffers[string](2)
	rbs.GetOrCreate("b").Add("b1")
	rbs.GetOrCreate("a").Add("a1")
	rbs.GetOrCreate("a").Add("a2")
	rbs.GetOrCreate("a").Add("a3")

	assertEqual(t, rbs.Keys(), []string{"a", "b"})

	a, ok := rbs.Get("a")
	assertEqual(t, ok, true)
	assertEqual(t, a.Newest(0), []string{"a3", "a2"})

	_, ok = rbs.Get("c")
	assertEqual(t, ok, false)

	dropped := rbs.Resize(1)
	assertEqual(t, len(dropped), 1)
	assertEqual(t, dropped[0], "a2")
	assertEqual(t, a.Newest(0), []string{"a3"})
}
