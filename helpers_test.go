package trcagent_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/trcagent"
	"github.com/peterbourgon/trcagent/trccapped"
)

func AssertEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
}

func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("error %v", err)
	}
}

func ExpectEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Errorf("want %v, have %v", want, have)
	}
}

func AssertDeepEqual[X any](t *testing.T, want, have X) {
	t.Helper()
	if !cmp.Equal(want, have) {
		t.Fatal(cmp.Diff(want, have))
	}
}

type fakeClock struct {
	mtx sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = c.now.Add(d)
}

func newTestCollector(t *testing.T, maxEntries int) (*trcagent.Collector, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	collector := trcagent.NewCollector(trcagent.CollectorConfig{
		Store: trccapped.NewStore(1024 * 1024),
		Transaction: trcagent.TransactionConfig{
			MaxTraceEntriesPerTransaction: maxEntries,
		},
		Now: clock.Now,
	})
	return collector, clock
}
