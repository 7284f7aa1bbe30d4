package trccapped

import (
	"fmt"
	"sync"
	"time"

	"github.com/peterbourgon/trcagent/internal/trcutil"
)

// Stats are cumulative counters for a single category of records in a store.
// Counts are never decremented when records are evicted.
type Stats struct {
	Category      string        `json:"category"`
	Count         uint64        `json:"count"`
	TotalBytes    uint64        `json:"total_bytes"`
	WriteDuration time.Duration `json:"write_duration"`
}

// String implements fmt.Stringer.
func (st Stats) String() string {
	return fmt.Sprintf("%s: %d records, %s, write time %s",
		st.Category,
		st.Count,
		trcutil.HumanizeBytes(st.TotalBytes),
		trcutil.HumanizeDuration(st.WriteDuration),
	)
}

type counter struct {
	mtx   sync.Mutex
	stats Stats
}

func (c *counter) observe(n int, took time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.stats.Count++
	c.stats.TotalBytes += uint64(n)
	c.stats.WriteDuration += took
}

func (c *counter) snapshot() Stats {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.stats
}

func (s *Store) counter(category string) *counter {
	s.statsMtx.RLock()
	c, ok := s.stats[category]
	s.statsMtx.RUnlock()
	if ok {
		return c
	}

	s.statsMtx.Lock()
	defer s.statsMtx.Unlock()

	if c, ok := s.stats[category]; ok {
		return c
	}

	c = &counter{stats: Stats{Category: category}}
	s.stats[category] = c
	return c
}

// Stats returns the current stats for the category. Categories which haven't
// been written to return zero stats.
func (s *Store) Stats(category string) Stats {
	s.statsMtx.RLock()
	defer s.statsMtx.RUnlock()

	if c, ok := s.stats[category]; ok {
		return c.snapshot()
	}

	return Stats{Category: category}
}

// AllStats returns the current stats for every category that's been written
// to, keyed by category.
func (s *Store) AllStats() map[string]Stats {
	s.statsMtx.RLock()
	defer s.statsMtx.RUnlock()

	all := make(map[string]Stats, len(s.stats))
	for category, c := range s.stats {
		all[category] = c.snapshot()
	}

	return all
}

//
//
//

// CategoryStats is a read-only view of a single category in a store, meant for
// consumption by metrics exporters.
type CategoryStats struct {
	store    *Store
	category string
}

// NewCategoryStats returns a view of the given category in the store.
func NewCategoryStats(s *Store, category string) *CategoryStats {
	return &CategoryStats{
		store:    s,
		category: category,
	}
}

// Category returns the name of the category.
func (cs *CategoryStats) Category() string {
	return cs.category
}

// Stats returns the current stats for the category.
func (cs *CategoryStats) Stats() Stats {
	return cs.store.Stats(cs.category)
}
