package trcagent_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/peterbourgon/trcagent"
	"github.com/peterbourgon/trcagent/trccapped"
)

func TestCollectorBasics(t *testing.T) {
	t.Parallel()

	collector, clock := newTestCollector(t, 10)

	ctx, root := collector.StartTransaction(context.Background(), "Web", "/users", trcagent.Messagef("GET /users"))
	tx := trcagent.FromContext(ctx)

	query := trcagent.StartTraceEntry(ctx, trcagent.Messagef("SELECT * FROM users"))
	clock.Advance(10 * time.Millisecond)
	query.End()

	render := trcagent.StartTraceEntry(ctx, trcagent.Messagef("render"))
	clock.Advance(5 * time.Millisecond)
	render.End()

	AssertEqual(t, false, tx.Completed())
	AssertEqual(t, 15*time.Millisecond, tx.Duration())

	root.End()

	AssertEqual(t, true, tx.Completed())
	AssertNoError(t, tx.Err())
	AssertEqual(t, 15*time.Millisecond, tx.Duration())

	summary, ok := tx.Summary()
	AssertEqual(t, true, ok)
	AssertEqual(t, tx.ID(), summary.ID)
	AssertEqual(t, "Web", summary.TransactionType)
	AssertEqual(t, "/users", summary.Name)
	AssertEqual(t, 3, summary.EntryCount)
	AssertEqual(t, trccapped.Handle(-1), summary.ProfileHandle)

	entries, ok := collector.ReadEntries(summary)
	AssertEqual(t, true, ok)

	type brief struct {
		Depth    int
		Offset   time.Duration
		Duration time.Duration
		Message  string
	}
	var have []brief
	for _, e := range entries {
		have = append(have, brief{e.Depth, e.Offset.Get(), e.Duration.Get(), e.Message})
	}
	AssertDeepEqual(t, []brief{
		{0, 0, 15 * time.Millisecond, "GET /users"},
		{1, 0, 10 * time.Millisecond, "SELECT * FROM users"},
		{1, 10 * time.Millisecond, 5 * time.Millisecond, "render"},
	}, have)

	AssertDeepEqual(t, []string{"Web"}, collector.Types())
	recent := collector.Recent("Web")
	AssertEqual(t, 1, len(recent))
	AssertEqual(t, summary, recent[0])
	AssertEqual(t, 0, len(collector.Recent("Background")))

	stats := collector.TraceStats()
	AssertEqual(t, uint64(1), stats.TraceEntries().Count)
	AssertEqual(t, uint64(0), stats.TraceProfiles().Count)
	if stats.TraceEntries().TotalBytes <= 0 {
		t.Errorf("no bytes recorded for trace entries")
	}
}

func TestCollectorNestedStart(t *testing.T) {
	t.Parallel()

	collector, _ := newTestCollector(t, 10)

	ctx, root := collector.StartTransaction(context.Background(), "Web", "/", trcagent.Messagef("outer"))
	ctx2, inner := collector.StartTransaction(ctx, "Web", "/inner", trcagent.Messagef("inner"))
	AssertEqual(t, ctx, ctx2)
	AssertEqual(t, 2, trcagent.FromContext(ctx).EntryCount())

	inner.End()
	root.End()

	AssertEqual(t, 1, len(collector.Recent("Web")))

	// A context with a completed transaction starts a new one.
	ctx3, root3 := collector.StartTransaction(ctx, "Web", "/again", nil)
	if trcagent.FromContext(ctx3) == trcagent.FromContext(ctx) {
		t.Fatalf("completed transaction was reused")
	}
	root3.End()

	AssertEqual(t, 2, len(collector.Recent("Web")))
	AssertEqual(t, "/again", collector.Recent("Web")[0].Name)
}

func TestCollectorRecent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	collector := trcagent.NewCollector(trcagent.CollectorConfig{
		RecentPerType: 3,
		Now:           clock.Now,
	})

	for i := 0; i < 5; i++ {
		_, root := collector.StartTransaction(context.Background(), "Web", strings.Repeat("x", i+1), nil)
		root.End()
	}
	_, root := collector.StartTransaction(context.Background(), "Background", "job", nil)
	root.End()

	AssertDeepEqual(t, []string{"Background", "Web"}, collector.Types())

	var names []string
	for _, s := range collector.Recent("Web") {
		names = append(names, s.Name)
	}
	AssertDeepEqual(t, []string{"xxxxx", "xxxx", "xxx"}, names)

	collector.SetRecentPerType(1)
	AssertEqual(t, 1, len(collector.Recent("Web")))
	AssertEqual(t, "xxxxx", collector.Recent("Web")[0].Name)
}

func TestCollectorConfigSnapshot(t *testing.T) {
	t.Parallel()

	collector, _ := newTestCollector(t, 100)

	ctx, root := collector.StartTransaction(context.Background(), "Web", "/", nil)
	tx := trcagent.FromContext(ctx)

	collector.SetMaxTraceEntriesPerTransaction(5)
	AssertEqual(t, 5, collector.TransactionConfig().MaxTraceEntriesPerTransaction)

	fill(t, ctx, 50)
	AssertEqual(t, 100, tx.MaxEntries())
	AssertEqual(t, 200, tx.HardCap())
	root.End()

	ctx, root = collector.StartTransaction(context.Background(), "Web", "/", nil)
	AssertEqual(t, 5, trcagent.FromContext(ctx).MaxEntries())
	root.End()
}

func TestCollectorConfigClamp(t *testing.T) {
	t.Parallel()

	collector, _ := newTestCollector(t, 0)
	AssertEqual(t, 2000, collector.TransactionConfig().MaxTraceEntriesPerTransaction)
	AssertEqual(t, 1000, collector.TransactionConfig().MaxProfileSamples)

	for _, tc := range []struct {
		in, want int
	}{
		{-5, 1},
		{1, 1},
		{123, 123},
		{100000, 100000},
		{100001, 100000},
	} {
		collector.SetMaxTraceEntriesPerTransaction(tc.in)
		ExpectEqual(t, tc.want, collector.TransactionConfig().MaxTraceEntriesPerTransaction)
	}

	collector.SetTransactionConfig(trcagent.TransactionConfig{MaxProfileSamples: -5})
	AssertEqual(t, 2000, collector.TransactionConfig().MaxTraceEntriesPerTransaction)
	AssertEqual(t, -1, collector.TransactionConfig().MaxProfileSamples)

	// Disabled profiles stay disabled when other values change, and when the
	// config is written back as-is.
	collector.SetMaxTraceEntriesPerTransaction(50)
	AssertEqual(t, 50, collector.TransactionConfig().MaxTraceEntriesPerTransaction)
	AssertEqual(t, -1, collector.TransactionConfig().MaxProfileSamples)

	collector.SetTransactionConfig(collector.TransactionConfig())
	AssertEqual(t, 50, collector.TransactionConfig().MaxTraceEntriesPerTransaction)
	AssertEqual(t, -1, collector.TransactionConfig().MaxProfileSamples)
}

func TestCollectorProfileDisabled(t *testing.T) {
	t.Parallel()

	collector := trcagent.NewCollector(trcagent.CollectorConfig{
		Transaction: trcagent.TransactionConfig{MaxProfileSamples: -1},
	})
	collector.SetMaxTraceEntriesPerTransaction(50)

	ctx, root := collector.StartTransaction(context.Background(), "Web", "/", nil)
	tx := trcagent.FromContext(ctx)
	tx.AddProfileSample([]trcagent.Frame{{Function: "main.main", FileLine: "main.go:1"}})
	root.End()
	AssertNoError(t, tx.Err())

	summary, _ := tx.Summary()
	AssertEqual(t, 0, summary.ProfileSampleCount)
	AssertEqual(t, trccapped.Handle(-1), summary.ProfileHandle)
	AssertEqual(t, uint64(0), collector.TraceStats().TraceProfiles().Count)
}

func TestCollectorStoreTooSmall(t *testing.T) {
	t.Parallel()

	var (
		buf    bytes.Buffer
		logger = log.New(&buf, "", 0)
		clock  = newFakeClock()
	)
	collector := trcagent.NewCollector(trcagent.CollectorConfig{
		Store:  trccapped.NewStore(64),
		Logger: logger,
		Now:    clock.Now,
	})

	ctx, root := collector.StartTransaction(context.Background(), "Web", "/big", trcagent.Messagef("%s", strings.Repeat("x", 1000)))
	tx := trcagent.FromContext(ctx)
	root.End()

	if err := tx.Err(); !errors.Is(err, trccapped.ErrStorageExhausted) {
		t.Fatalf("want %v, have %v", trccapped.ErrStorageExhausted, err)
	}
	if !strings.Contains(buf.String(), "store entries") {
		t.Errorf("error wasn't logged: %q", buf.String())
	}

	summary, ok := tx.Summary()
	AssertEqual(t, true, ok)
	AssertEqual(t, trccapped.Handle(-1), summary.EntriesHandle)

	_, ok = collector.ReadEntries(summary)
	AssertEqual(t, false, ok)

	// The summary is still recorded.
	AssertEqual(t, 1, len(collector.Recent("Web")))
}

func TestCollectorEviction(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	collector := trcagent.NewCollector(trcagent.CollectorConfig{
		Store: trccapped.NewStore(4096),
		Now:   clock.Now,
	})

	var summaries []*trcagent.Summary
	for i := 0; i < 100; i++ {
		ctx, root := collector.StartTransaction(context.Background(), "Web", "/", trcagent.Messagef("transaction %d", i))
		trcagent.StartTraceEntry(ctx, trcagent.Messagef("child %d", i)).End()
		root.End()

		tx := trcagent.FromContext(ctx)
		AssertNoError(t, tx.Err())
		s, _ := tx.Summary()
		summaries = append(summaries, s)
	}

	_, ok := collector.ReadEntries(summaries[0])
	AssertEqual(t, false, ok)

	entries, ok := collector.ReadEntries(summaries[99])
	AssertEqual(t, true, ok)
	AssertEqual(t, "transaction 99", entries[0].Message)
	AssertEqual(t, "child 99", entries[1].Message)
}

func TestCollectorProfile(t *testing.T) {
	t.Parallel()

	collector, _ := newTestCollector(t, 10)

	ctx, root := collector.StartTransaction(context.Background(), "Web", "/", nil)
	tx := trcagent.FromContext(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx.AddProfileSample([]trcagent.Frame{
				{Function: "main.leaf", FileLine: "main.go:20"},
				{Function: "main.main", FileLine: "main.go:10"},
			})
		}()
	}
	wg.Wait()
	tx.CaptureProfileSample()

	root.End()
	AssertNoError(t, tx.Err())

	summary, _ := tx.Summary()
	AssertEqual(t, 5, summary.ProfileSampleCount)

	profile, ok := collector.ReadProfile(summary)
	AssertEqual(t, true, ok)
	AssertEqual(t, 5, profile.SampleCount)
	AssertEqual(t, 5, profile.Root.Count)

	var mainNode *trcagent.ProfileNode
	for _, c := range profile.Root.Children {
		if c.Function == "main.main" {
			mainNode = c
		}
	}
	if mainNode == nil {
		t.Fatalf("main.main not found in profile")
	}
	AssertEqual(t, 4, mainNode.Count)
	AssertEqual(t, 1, len(mainNode.Children))
	AssertEqual(t, "main.leaf", mainNode.Children[0].Function)

	stats := collector.TraceStats()
	AssertEqual(t, uint64(1), stats.TraceProfiles().Count)
	AssertEqual(t, uint64(1), stats.GetStats(trcagent.CategoryTraceProfiles).Count)
}

func TestCollectorConcurrency(t *testing.T) {
	t.Parallel()

	collector := trcagent.NewCollector(trcagent.CollectorConfig{
		Store:       trccapped.NewStore(64 * 1024),
		Transaction: trcagent.TransactionConfig{MaxTraceEntriesPerTransaction: 5},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ctx, root := collector.StartTransaction(context.Background(), "Worker", "job", trcagent.Messagef("job %d/%d", i, j))
				for k := 0; k < 20; k++ {
					e := trcagent.StartTraceEntry(ctx, trcagent.Messagef("step %d", k))
					if k%7 == 0 {
						e.EndWithErrorMessage("step failed")
					} else {
						e.End()
					}
				}
				root.End()
				if tx := trcagent.FromContext(ctx); tx.EntryCount() > tx.HardCap() {
					t.Errorf("entry count %d exceeds hard cap %d", tx.EntryCount(), tx.HardCap())
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, s := range collector.Recent("Worker") {
				if entries, ok := collector.ReadEntries(s); ok && len(entries) != s.EntryCount {
					t.Errorf("%s: read %d entries, want %d", s.ID, len(entries), s.EntryCount)
				}
			}
		}
	}()

	wg.Wait()

	AssertEqual(t, uint64(400), collector.TraceStats().TraceEntries().Count)
}
