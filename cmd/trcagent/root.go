package main

import (
	"fmt"
	"io"
	"log"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/trcagent"
	"github.com/peterbourgon/trcagent/internal/trcutil"
	"github.com/peterbourgon/trcagent/trccapped"
)

type rootConfig struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	LogLevel      string
	Capacity      int64
	StoreFile     string
	MaxEntries    int
	MaxSamples    int
	RecentPerType int

	info, debug *log.Logger
}

func (cfg *rootConfig) registerBaseFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{
		ShortName:   'l',
		LongName:    "log",
		Value:       ffval.NewEnum(&cfg.LogLevel, "info", "i", "debug", "d", "none", "n"),
		Usage:       "log level: i/info, d/debug, n/none",
		Placeholder: "LEVEL",
	})
}

func (cfg *rootConfig) registerStoreFlags(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'c', LongName: "capacity" /*         */, Value: ffval.NewValueDefault(&cfg.Capacity, int64(trccapped.DefaultCapacity)) /* */, Usage: "capped store capacity in bytes"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'f', LongName: "store-file" /*       */, Value: ffval.NewValue(&cfg.StoreFile) /*                                         */, Usage: "back the store with this file, rather than memory", Placeholder: "PATH"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'm', LongName: "max-entries" /*      */, Value: ffval.NewValueDefault(&cfg.MaxEntries, 2000) /*                           */, Usage: "max trace entries per transaction (soft cap)"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "max-samples" /*      */, Value: ffval.NewValueDefault(&cfg.MaxSamples, 1000) /*                           */, Usage: "max profile samples per transaction, negative to disable"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "recent-per-type" /*  */, Value: ffval.NewValueDefault(&cfg.RecentPerType, trcagent.DefaultRecentPerType) /* */, Usage: "recent transaction summaries kept per type"})
}

// newCollector builds the store and collector described by the flags. The
// returned function closes the store.
func (cfg *rootConfig) newCollector() (*trcagent.Collector, func() error, error) {
	var (
		store *trccapped.Store
		err   error
	)
	switch {
	case cfg.StoreFile != "":
		store, err = trccapped.OpenFile(cfg.StoreFile, cfg.Capacity)
	default:
		store, err = trccapped.NewStoreConfig(trccapped.StoreConfig{Capacity: cfg.Capacity})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	collector := trcagent.NewCollector(trcagent.CollectorConfig{
		Store: store,
		Transaction: trcagent.TransactionConfig{
			MaxTraceEntriesPerTransaction: cfg.MaxEntries,
			MaxProfileSamples:             cfg.MaxSamples,
		},
		RecentPerType: cfg.RecentPerType,
		Logger:        cfg.info,
	})

	{
		tc := collector.TransactionConfig()
		cfg.debug.Printf("store: capacity %s, file %q", trcutil.HumanizeBytes(store.Capacity()), cfg.StoreFile)
		cfg.debug.Printf("max entries: %d (hard cap %d)", tc.MaxTraceEntriesPerTransaction, 2*tc.MaxTraceEntriesPerTransaction)
		cfg.debug.Printf("max profile samples: %d", tc.MaxProfileSamples)
	}

	return collector, store.Close, nil
}

// report logs a single line of stats about the collector.
func (cfg *rootConfig) report(collector *trcagent.Collector) {
	var (
		stats     = collector.TraceStats()
		admission = collector.AdmissionStats()
		store     = collector.Store()
	)
	cfg.info.Printf("%s", stats.TraceEntries())
	cfg.info.Printf("%s", stats.TraceProfiles())
	cfg.info.Printf(
		"entries: real %d, dummy %d, escalated %d (%.1f%%), refused %d, discarded %d",
		admission.Real, admission.Dummy, admission.Escalated, admission.EscalatePercent(), admission.Refused, admission.Discarded,
	)
	cfg.debug.Printf("store: cursor %d, horizon %d", store.Cursor(), store.Horizon())
}
