package trcagent

import (
	"github.com/peterbourgon/trcagent/internal/trcdebug"
	"github.com/peterbourgon/trcagent/trccapped"
)

// TraceStats is a read-only view of the trace categories of a store, for
// consumption by metrics exporters.
type TraceStats struct {
	entries  *trccapped.CategoryStats
	profiles *trccapped.CategoryStats
	store    *trccapped.Store
}

// NewTraceStats returns a view of the trace categories of the store.
func NewTraceStats(s *trccapped.Store) *TraceStats {
	return &TraceStats{
		entries:  trccapped.NewCategoryStats(s, CategoryTraceEntries),
		profiles: trccapped.NewCategoryStats(s, CategoryTraceProfiles),
		store:    s,
	}
}

// TraceEntries returns the current stats for stored trace entries.
func (ts *TraceStats) TraceEntries() trccapped.Stats {
	return ts.entries.Stats()
}

// TraceProfiles returns the current stats for stored trace profiles.
func (ts *TraceStats) TraceProfiles() trccapped.Stats {
	return ts.profiles.Stats()
}

// GetStats returns the current stats for any category.
func (ts *TraceStats) GetStats(category string) trccapped.Stats {
	return ts.store.Stats(category)
}

// AdmissionStats counts trace entry admission decisions.
type AdmissionStats = trcdebug.AdmissionValues
