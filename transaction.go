package trcagent

import (
	"context"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/trcagent/internal/trcdebug"
)

// Transaction is a single traced unit of work, like a request served by the
// application. It owns an ordered collection of trace entries, starting with a
// root entry, and completes when that root entry ends.
//
// The entry limits of a transaction are taken from the collector config when
// the transaction starts, and don't change for the lifetime of the
// transaction.
//
// Transactions are meant to be used by a single goroutine: the one executing
// the instrumented calls. The exception is the profile, which may be sampled
// from other goroutines.
type Transaction struct {
	collector *Collector // nil for orphans
	counters  *trcdebug.AdmissionCounters
	now       func() time.Time

	id              ulid.ULID
	transactionType string
	name            string
	start           time.Time

	maxEntries int // soft cap
	hardCap    int
	entryCount int // real entries only
	seq        int

	entries []*traceEntry // real entries, ordered by seq
	root    *traceEntry
	current *traceEntry

	errored      bool
	errorMessage string
	completed    bool
	duration     time.Duration
	err          error
	summary      *Summary

	profile *Profile
}

func newTransaction(c *Collector, counters *trcdebug.AdmissionCounters, cfg TransactionConfig, now func() time.Time, transactionType, name string, supplier MessageSupplier) *Transaction {
	start := now()
	tx := &Transaction{
		collector:       c,
		counters:        counters,
		now:             now,
		id:              ulid.MustNew(ulid.Timestamp(start), transactionIDEntropy),
		transactionType: transactionType,
		name:            name,
		start:           start,
		maxEntries:      cfg.MaxTraceEntriesPerTransaction,
		hardCap:         2 * cfg.MaxTraceEntriesPerTransaction,
		profile:         NewProfile(cfg.MaxProfileSamples),
	}

	// The root entry is always real.
	tx.root = &traceEntry{
		tx:       tx,
		seq:      tx.nextSeq(),
		supplier: supplier,
		start:    start,
		variant:  &realEntry{},
	}
	tx.entryCount++
	tx.counters.Real.Add(1)
	tx.entries = append(tx.entries, tx.root)
	tx.current = tx.root

	return tx
}

var transactionIDEntropy = ulid.DefaultEntropy()

// ID returns the unique ID of the transaction, a ULID.
func (tx *Transaction) ID() string { return tx.id.String() }

// TransactionType returns the type of the transaction, e.g. "Web".
func (tx *Transaction) TransactionType() string { return tx.transactionType }

// Name returns the name of the transaction, e.g. "/api/users".
func (tx *Transaction) Name() string { return tx.name }

// Start returns the time the transaction started.
func (tx *Transaction) Start() time.Time { return tx.start }

// Root returns the root entry of the transaction.
func (tx *Transaction) Root() TraceEntry { return tx.root }

// MaxEntries returns the soft cap on real entries, after which new entries
// are created as dummies.
func (tx *Transaction) MaxEntries() int { return tx.maxEntries }

// HardCap returns the absolute limit on real entries, which also applies to
// escalation. It's always twice MaxEntries.
func (tx *Transaction) HardCap() int { return tx.hardCap }

// EntryCount returns the number of real entries in the transaction, including
// the root entry, and including escalated entries.
func (tx *Transaction) EntryCount() int { return tx.entryCount }

// Errored returns true if the root entry ended with an error.
func (tx *Transaction) Errored() bool { return tx.errored }

// ErrorMessage returns the message of the error which ended the root entry.
func (tx *Transaction) ErrorMessage() string { return tx.errorMessage }

// Completed returns true once the root entry has ended.
func (tx *Transaction) Completed() bool { return tx.completed }

// Duration returns the duration of the transaction. If the transaction is
// still active, it returns the time since the start.
func (tx *Transaction) Duration() time.Duration {
	if tx.completed {
		return tx.duration
	}
	return tx.now().Sub(tx.start)
}

// Err returns any error encountered while storing the transaction. It's only
// meaningful after the transaction completes.
func (tx *Transaction) Err() error { return tx.err }

// Summary returns the summary of the stored transaction, once the transaction
// has completed and been collected.
func (tx *Transaction) Summary() (*Summary, bool) {
	return tx.summary, tx.summary != nil
}

// Profile returns the profile of the transaction.
func (tx *Transaction) Profile() *Profile { return tx.profile }

// StartTraceEntry starts a new entry as a child of the current entry, and
// makes it the current entry. If the transaction has reached its soft cap on
// real entries, the entry is a dummy. If the transaction has completed, the
// entry does nothing.
func (tx *Transaction) StartTraceEntry(supplier MessageSupplier) TraceEntry {
	if tx.completed {
		return nopTraceEntry{supplier: supplier}
	}

	e := &traceEntry{
		tx:       tx,
		parent:   tx.current,
		seq:      tx.nextSeq(),
		supplier: supplier,
		start:    tx.now(),
	}

	switch {
	case tx.entryCount < tx.maxEntries:
		e.variant = &realEntry{}
		tx.entryCount++
		tx.counters.Real.Add(1)
		tx.entries = append(tx.entries, e)
	default:
		e.variant = &dummyEntry{}
		tx.counters.Dummy.Add(1)
	}

	tx.current = e
	return e
}

// CaptureProfileSample adds the stack of the calling goroutine to the profile
// of the transaction.
func (tx *Transaction) CaptureProfileSample() {
	tx.profile.AddSample(captureStack(1))
}

// AddProfileSample adds the stack, innermost call first, to the profile of the
// transaction. It's safe to call from any goroutine.
func (tx *Transaction) AddProfileSample(stack []Frame) {
	tx.profile.AddSample(stack)
}

func (tx *Transaction) nextSeq() int {
	tx.seq++
	return tx.seq
}

// admitEscalation checks the hard cap, and counts the escalation if it's
// allowed.
func (tx *Transaction) admitEscalation() bool {
	if tx.completed || tx.entryCount >= tx.hardCap {
		tx.counters.Refused.Add(1)
		return false
	}
	tx.entryCount++
	tx.counters.Escalated.Add(1)
	return true
}

// insert an escalated entry at its original position.
func (tx *Transaction) insert(e *traceEntry) {
	i := sort.Search(len(tx.entries), func(i int) bool { return tx.entries[i].seq > e.seq })
	tx.entries = append(tx.entries, nil)
	copy(tx.entries[i+1:], tx.entries[i:])
	tx.entries[i] = e
}

// pop is called when an entry ends. Any descendants of the entry which are
// still active are implicitly abandoned. Ending the root entry completes the
// transaction.
func (tx *Transaction) pop(e *traceEntry) {
	if tx.completed {
		return
	}

	tx.current = e.parent

	if e == tx.root {
		tx.complete()
	}
}

func (tx *Transaction) setError(message string) {
	if tx.completed {
		return
	}
	tx.errored = true
	tx.errorMessage = message
}

func (tx *Transaction) complete() {
	tx.completed = true
	tx.duration = tx.now().Sub(tx.start)
	tx.current = nil

	if tx.collector != nil {
		tx.summary, tx.err = tx.collector.collect(tx)
	}
}

// storedEntries returns the real entries of the transaction in order, with
// their nesting depth among real entries.
func (tx *Transaction) storedEntries() []StoredEntry {
	end := tx.start.Add(tx.Duration())
	stored := make([]StoredEntry, 0, len(tx.entries))
	for _, e := range tx.entries {
		r, ok := e.variant.(*realEntry)
		if !ok {
			continue
		}

		var (
			msg      = supplyMessage(e.supplier)
			duration = r.duration
		)
		if !r.ended {
			duration = end.Sub(e.start)
		}

		stored = append(stored, StoredEntry{
			Depth:    e.depth(),
			Offset:   durationString(e.start.Sub(tx.start)),
			Duration: durationString(duration),
			Extended: durationString(r.extended),
			Active:   !r.ended,
			Message:  msg.Text,
			Detail:   msg.Detail,
			Error:    r.err,
			Stack:    r.stack,
		})
	}
	return stored
}

// depth counts the real ancestors of the entry. Dummy ancestors which were
// never escalated don't contribute to nesting.
func (e *traceEntry) depth() int {
	var depth int
	for p := e.parent; p != nil; p = p.parent {
		if _, ok := p.variant.(*realEntry); ok {
			depth++
		}
	}
	return depth
}

//
//
//

type transactionContextKey struct{}

var transactionContextVal transactionContextKey

// ToContext injects the transaction into the context, returning a new context.
// If the context already contained a transaction, it becomes shadowed.
func ToContext(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, transactionContextVal, tx)
}

// MaybeFromContext returns the transaction in the context, if it exists.
func MaybeFromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(transactionContextVal).(*Transaction)
	return tx, ok
}

// FromContext returns the transaction in the context. If the context doesn't
// contain a transaction, an "orphan" transaction is created and returned. The
// orphan isn't injected into the context, and is never stored.
func FromContext(ctx context.Context) *Transaction {
	if tx, ok := MaybeFromContext(ctx); ok {
		return tx
	}
	return newTransaction(nil, &orphanCounters, DefaultTransactionConfig(), time.Now, "(orphan)", "(orphan)", nil)
}

var orphanCounters trcdebug.AdmissionCounters

// StartTraceEntry starts an entry in the transaction in the context. If there
// is no transaction in the context, the returned entry does nothing, except
// return the supplier.
func StartTraceEntry(ctx context.Context, supplier MessageSupplier) TraceEntry {
	tx, ok := MaybeFromContext(ctx)
	if !ok {
		return nopTraceEntry{supplier: supplier}
	}
	return tx.StartTraceEntry(supplier)
}
