package trcagent

import (
	"fmt"
	"time"
)

// TraceEntry is a single span of work within a transaction, typically a call
// to an instrumented function. Entries are started by the transaction, and
// must be ended exactly once, by one of the End methods, typically when the
// instrumented call returns.
//
// Every transaction admits a limited number of real entries. Entries started
// beyond that limit are dummies: cheap placeholders which aren't stored. A
// dummy which proves interesting when it ends, by being slow or by ending with
// an error, is escalated to a real entry, subject to a hard cap of twice the
// limit.
//
// TraceEntry methods are called from instrumented application code, and so
// never panic, and never return errors.
type TraceEntry interface {
	// End the entry.
	End()

	// EndWithStackTrace ends the entry, and captures a stack trace if its
	// duration is at least the threshold. A dummy entry whose duration is at
	// least the threshold is escalated to a real entry. A threshold less than
	// or equal to zero is always exceeded.
	EndWithStackTrace(threshold time.Duration)

	// EndWithError ends the entry and marks it as an error, with a message
	// taken from the error. A dummy entry is escalated to a real entry. If
	// this is the root entry, the transaction is marked as errored.
	EndWithError(err error)

	// EndWithErrorMessage is like EndWithError, but takes a message rather
	// than an error. A stack trace is captured to show the location of the
	// error, except for the root entry.
	EndWithErrorMessage(message string)

	// EndWithErrorCause is like EndWithError, but with an explicit message.
	// If the message is empty, the message is taken from the error.
	EndWithErrorCause(message string, err error)

	// Extend returns a timer which adds additional time to an ended entry,
	// for example to account for iterating over the results of a query after
	// the query itself has returned. For entries which aren't stored, the
	// timer does nothing.
	Extend() Timer

	// MessageSupplier returns the supplier provided when the entry was
	// started, regardless of whether the entry is real or a dummy. It may
	// be nil.
	MessageSupplier() MessageSupplier

	// State returns the current admission state of the entry.
	State() EntryState
}

// Timer measures additional time for an entry. Stop may be called at most
// once; subsequent calls have no effect.
type Timer interface {
	Stop()
}

// EntryState describes where an entry is in its lifecycle.
type EntryState int

const (
	// StateDummy is an entry which was refused admission as a real entry,
	// and which hasn't ended yet.
	StateDummy EntryState = iota

	// StateRealActive is a real entry which hasn't ended yet.
	StateRealActive

	// StateRealEnded is a real entry which has ended, and which will be
	// stored when the transaction completes.
	StateRealEnded

	// StateDiscarded is a dummy entry which ended without escalation. It
	// won't be stored.
	StateDiscarded
)

// String implements fmt.Stringer.
func (s EntryState) String() string {
	switch s {
	case StateDummy:
		return "dummy"
	case StateRealActive:
		return "real-active"
	case StateRealEnded:
		return "real-ended"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("EntryState(%d)", int(s))
	}
}

// ErrorInfo describes the error an entry ended with.
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func newErrorInfo(message string, err error) *ErrorInfo {
	info := &ErrorInfo{Message: message}
	if err != nil {
		if info.Message == "" {
			info.Message = err.Error()
		}
		info.Type = fmt.Sprintf("%T", err)
	}
	return info
}

//
//
//

// traceEntry is the implementation of TraceEntry for entries which belong to a
// transaction. The variant is either a *dummyEntry or a *realEntry. Escalation
// replaces a dummy variant with a real variant, in place.
type traceEntry struct {
	tx       *Transaction
	parent   *traceEntry
	seq      int
	supplier MessageSupplier
	start    time.Time
	variant  entryVariant
}

var _ TraceEntry = (*traceEntry)(nil)

type entryVariant interface {
	state() EntryState
}

type dummyEntry struct {
	discarded bool
}

func (d *dummyEntry) state() EntryState {
	if d.discarded {
		return StateDiscarded
	}
	return StateDummy
}

type realEntry struct {
	ended    bool
	duration time.Duration
	extended time.Duration
	stack    []Frame
	err      *ErrorInfo
}

func (r *realEntry) state() EntryState {
	if r.ended {
		return StateRealEnded
	}
	return StateRealActive
}

func (e *traceEntry) End() {
	e.complete(e.elapsed(), false, false, nil)
}

func (e *traceEntry) EndWithStackTrace(threshold time.Duration) {
	elapsed := e.elapsed()
	slow := threshold <= 0 || elapsed >= threshold
	e.complete(elapsed, slow, slow, nil)
}

func (e *traceEntry) EndWithError(err error) {
	e.endWithError("", err)
}

func (e *traceEntry) EndWithErrorMessage(message string) {
	e.endWithError(message, nil)
}

func (e *traceEntry) EndWithErrorCause(message string, err error) {
	e.endWithError(message, err)
}

func (e *traceEntry) endWithError(message string, err error) {
	var (
		info  = newErrorInfo(message, err)
		root  = e.isRoot()
		stack = err == nil && !root
	)
	if root {
		e.tx.setError(info.Message)
	}
	e.complete(e.elapsed(), true, stack, info)
}

func (e *traceEntry) Extend() Timer {
	r, ok := e.variant.(*realEntry)
	if !ok || !r.ended {
		return nopTimer{}
	}
	return &extensionTimer{entry: e, real: r, start: e.tx.now()}
}

func (e *traceEntry) MessageSupplier() MessageSupplier {
	return e.supplier
}

func (e *traceEntry) State() EntryState {
	return e.variant.state()
}

func (e *traceEntry) isRoot() bool {
	return e == e.tx.root
}

func (e *traceEntry) elapsed() time.Duration {
	return e.tx.now().Sub(e.start)
}

// complete is the single exit point of the state machine. If escalate is true,
// a dummy entry attempts escalation. If withStack is true, the resulting real
// entry gets a stack trace.
func (e *traceEntry) complete(elapsed time.Duration, escalate, withStack bool, info *ErrorInfo) {
	switch v := e.variant.(type) {
	case *realEntry:
		if v.ended {
			return // multiple ends are a caller bug
		}
		v.ended = true
		v.duration = elapsed
		v.err = info
		if withStack {
			v.stack = captureStack(1)
		}

	case *dummyEntry:
		if v.discarded {
			return // multiple ends are a caller bug
		}
		if !escalate || !e.tx.admitEscalation() {
			v.discarded = true
			e.tx.counters.Discarded.Add(1)
			break
		}
		r := &realEntry{
			ended:    true,
			duration: elapsed,
			err:      info,
		}
		if withStack {
			r.stack = captureStack(1)
		}
		e.variant = r
		e.tx.insert(e)
	}

	e.tx.pop(e)
}

//
//
//

type extensionTimer struct {
	entry   *traceEntry
	real    *realEntry
	start   time.Time
	stopped bool
}

func (t *extensionTimer) Stop() {
	if t.stopped {
		return
	}
	t.stopped = true
	t.real.extended += t.entry.tx.now().Sub(t.start)
}

type nopTimer struct{}

func (nopTimer) Stop() {}

//
//
//

// nopTraceEntry is returned when there's no transaction to start an entry in.
type nopTraceEntry struct {
	supplier MessageSupplier
}

var _ TraceEntry = (*nopTraceEntry)(nil)

func (nopTraceEntry) End() {}
func (nopTraceEntry) EndWithStackTrace(time.Duration) {}
func (nopTraceEntry) EndWithError(error) {}
func (nopTraceEntry) EndWithErrorMessage(string) {}
func (nopTraceEntry) EndWithErrorCause(string, error) {}
func (nopTraceEntry) Extend() Timer { return nopTimer{} }
func (e nopTraceEntry) MessageSupplier() MessageSupplier { return e.supplier }
func (nopTraceEntry) State() EntryState { return StateDiscarded }
