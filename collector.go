package trcagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/peterbourgon/trcagent/internal/trcdebug"
	"github.com/peterbourgon/trcagent/internal/trcringbuf"
	"github.com/peterbourgon/trcagent/internal/trcutil"
	"github.com/peterbourgon/trcagent/trccapped"
)

// Well-known store categories.
const (
	CategoryTraceEntries  = "trace entries"
	CategoryTraceProfiles = "trace profiles"
)

// TransactionConfig is read by each transaction when it starts.
type TransactionConfig struct {
	// MaxTraceEntriesPerTransaction is the soft cap on real entries in a
	// transaction. The hard cap is always twice this value. The default is
	// 2000, the minimum is 1, and the maximum is 100000.
	MaxTraceEntriesPerTransaction int

	// MaxProfileSamples is the maximum number of profile samples kept for a
	// transaction. The default is 1000, and the maximum is 100000. Negative
	// values disable profiles altogether, and are stored as -1.
	MaxProfileSamples int
}

const (
	maxEntriesMin = 1
	maxEntriesDef = 2000
	maxEntriesMax = 100000

	maxProfileSamplesOff = -1
	maxProfileSamplesDef = 1000
	maxProfileSamplesMax = 100000
)

// DefaultTransactionConfig returns a config with default values.
func DefaultTransactionConfig() TransactionConfig {
	return TransactionConfig{
		MaxTraceEntriesPerTransaction: maxEntriesDef,
		MaxProfileSamples:             maxProfileSamplesDef,
	}
}

// sanitize clamps values to their valid ranges. Zero values become defaults.
// The result of sanitize is always a fixed point of sanitize.
func (cfg TransactionConfig) sanitize() TransactionConfig {
	switch n := cfg.MaxTraceEntriesPerTransaction; {
	case n == 0:
		cfg.MaxTraceEntriesPerTransaction = maxEntriesDef
	case n < maxEntriesMin:
		cfg.MaxTraceEntriesPerTransaction = maxEntriesMin
	case n > maxEntriesMax:
		cfg.MaxTraceEntriesPerTransaction = maxEntriesMax
	}

	switch n := cfg.MaxProfileSamples; {
	case n == 0:
		cfg.MaxProfileSamples = maxProfileSamplesDef
	case n < 0:
		cfg.MaxProfileSamples = maxProfileSamplesOff
	case n > maxProfileSamplesMax:
		cfg.MaxProfileSamples = maxProfileSamplesMax
	}

	return cfg
}

// CollectorConfig captures the configuration of a collector.
type CollectorConfig struct {
	// Store receives the entries and profiles of completed transactions.
	// The default is an in-memory store with the default capacity.
	Store *trccapped.Store

	// Transaction is the initial transaction config.
	Transaction TransactionConfig

	// RecentPerType is the number of recent transaction summaries kept for
	// each transaction type. The default is 100.
	RecentPerType int

	// Logger receives messages about storage failures. The default is a
	// logger which discards everything.
	Logger *log.Logger

	// Now is used for all timing. The default is time.Now.
	Now func() time.Time
}

// DefaultRecentPerType is used when no RecentPerType is specified.
const DefaultRecentPerType = 100

// Collector starts transactions, and stores the entries and profiles of each
// transaction in a capped store when it completes. It also keeps summaries of
// recently completed transactions, grouped by transaction type.
//
// Collector is safe for concurrent use.
type Collector struct {
	store    *trccapped.Store
	config   *trcutil.Atomic[TransactionConfig]
	recent   *trcringbuf.RingBuffers[*Summary]
	counters trcdebug.AdmissionCounters
	logger   *log.Logger
	now      func() time.Time
}

// NewCollector returns a new collector with the given config.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.Store == nil {
		cfg.Store = trccapped.NewStore(trccapped.DefaultCapacity)
	}
	if cfg.RecentPerType <= 0 {
		cfg.RecentPerType = DefaultRecentPerType
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Collector{
		store:  cfg.Store,
		config: trcutil.NewAtomic(cfg.Transaction.sanitize()),
		recent: trcringbuf.NewRingBuffers[*Summary](cfg.RecentPerType),
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// StartTransaction starts a new transaction, and returns a context containing
// that transaction, as well as its root entry. The transaction completes when
// the root entry ends.
//
// If the context already contains a transaction, no new transaction is
// started. Instead, a new entry is started in the existing transaction, and
// the context is returned unchanged.
func (c *Collector) StartTransaction(ctx context.Context, transactionType, name string, supplier MessageSupplier) (context.Context, TraceEntry) {
	if tx, ok := MaybeFromContext(ctx); ok && !tx.Completed() {
		return ctx, tx.StartTraceEntry(supplier)
	}

	tx := newTransaction(c, &c.counters, c.config.Get(), c.now, transactionType, name, supplier)
	return ToContext(ctx, tx), tx.root
}

// TransactionConfig returns the current transaction config.
func (c *Collector) TransactionConfig() TransactionConfig {
	return c.config.Get()
}

// SetTransactionConfig changes the transaction config. Values are clamped to
// their valid ranges. Transactions which have already started are unaffected.
func (c *Collector) SetTransactionConfig(cfg TransactionConfig) {
	c.config.Set(cfg.sanitize())
}

// SetMaxTraceEntriesPerTransaction changes only the soft cap on real entries.
func (c *Collector) SetMaxTraceEntriesPerTransaction(n int) {
	c.config.Update(func(cfg TransactionConfig) TransactionConfig {
		cfg.MaxTraceEntriesPerTransaction = n
		return cfg.sanitize()
	})
}

// SetRecentPerType changes the number of summaries kept for each transaction
// type, dropping the oldest summaries as necessary.
func (c *Collector) SetRecentPerType(n int) {
	c.recent.Resize(n)
}

// Store returns the store used by the collector.
func (c *Collector) Store() *trccapped.Store {
	return c.store
}

// TraceStats returns a view of the trace categories of the store.
func (c *Collector) TraceStats() *TraceStats {
	return NewTraceStats(c.store)
}

// AdmissionStats returns the current admission counters, across every
// transaction started by the collector.
func (c *Collector) AdmissionStats() AdmissionStats {
	return c.counters.Values()
}

// Types returns every transaction type with at least one completed
// transaction, sorted.
func (c *Collector) Types() []string {
	return c.recent.Keys()
}

// Recent returns summaries of the most recently completed transactions of
// the given type, newest first.
func (c *Collector) Recent(transactionType string) []*Summary {
	rb, ok := c.recent.Get(transactionType)
	if !ok {
		return nil
	}
	return rb.Newest(0)
}

// ReadEntries reads the stored entries of the transaction. If the entries
// weren't stored, or have been evicted, it returns false.
func (c *Collector) ReadEntries(s *Summary) ([]StoredEntry, bool) {
	data, ok := c.store.Read(s.EntriesHandle)
	if !ok {
		return nil, false
	}

	var entries []StoredEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}

	return entries, true
}

// ReadProfile reads the stored profile of the transaction. If the profile
// had no samples, or has been evicted, it returns false.
func (c *Collector) ReadProfile(s *Summary) (*StoredProfile, bool) {
	data, ok := c.store.Read(s.ProfileHandle)
	if !ok {
		return nil, false
	}

	var profile StoredProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, false
	}

	return &profile, true
}

// collect stores a completed transaction. It's called by the goroutine which
// ended the root entry, so storage errors are returned to that goroutine via
// Transaction.Err, as well as being logged.
func (c *Collector) collect(tx *Transaction) (*Summary, error) {
	s := &Summary{
		ID:              tx.ID(),
		TransactionType: tx.transactionType,
		Name:            tx.name,
		Start:           tx.start,
		Duration:        tx.duration,
		Errored:         tx.errored,
		ErrorMessage:    tx.errorMessage,
		EntryCount:      tx.entryCount,
		EntriesHandle:   noHandle,
		ProfileHandle:   noHandle,
	}

	var errs []error

	if h, err := c.write(CategoryTraceEntries, tx.storedEntries()); err != nil {
		errs = append(errs, fmt.Errorf("store entries: %w", err))
	} else {
		s.EntriesHandle = h
	}

	if profile := tx.profile.Snapshot(); profile.SampleCount > 0 {
		s.ProfileSampleCount = profile.SampleCount
		if h, err := c.write(CategoryTraceProfiles, profile); err != nil {
			errs = append(errs, fmt.Errorf("store profile: %w", err))
		} else {
			s.ProfileHandle = h
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Printf("transaction %s (%s %s): %v", s.ID, s.TransactionType, s.Name, err)
	}

	c.recent.GetOrCreate(s.TransactionType).Add(s)

	return s, err
}

func (c *Collector) write(category string, v any) (trccapped.Handle, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return noHandle, fmt.Errorf("encode: %w", err)
	}
	return c.store.Write(category, data)
}

// noHandle marks a record which wasn't stored.
const noHandle trccapped.Handle = -1

//
//
//

// Summary describes a completed transaction, and locates its entries and
// profile in the store.
type Summary struct {
	ID                 string           `json:"id"`
	TransactionType    string           `json:"transaction_type"`
	Name               string           `json:"name"`
	Start              time.Time        `json:"start"`
	Duration           time.Duration    `json:"duration"`
	Errored            bool             `json:"errored,omitempty"`
	ErrorMessage       string           `json:"error_message,omitempty"`
	EntryCount         int              `json:"entry_count"`
	EntriesHandle      trccapped.Handle `json:"entries_handle"`
	ProfileHandle      trccapped.Handle `json:"profile_handle"`
	ProfileSampleCount int              `json:"profile_sample_count,omitempty"`
}
