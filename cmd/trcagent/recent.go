package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
	"github.com/peterbourgon/trcagent"
)

type recentConfig struct {
	*rootConfig

	transactions int
	entries      int
	errorRate    float64
	seed         int64
	output       string
}

func (cfg *recentConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 't', LongName: "transactions" /* */, Value: ffval.NewValueDefault(&cfg.transactions, 10) /*                  */, Usage: "number of transactions to run"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "entries" /*      */, Value: ffval.NewValueDefault(&cfg.entries, 10) /*                       */, Usage: "max top-level entries per transaction"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "error-rate" /*   */, Value: ffval.NewValueDefault(&cfg.errorRate, 0.1) /*                    */, Usage: "fraction of entries which fail"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "seed" /*         */, Value: ffval.NewValueDefault(&cfg.seed, time.Now().UnixNano()) /*       */, Usage: "random seed", NoDefault: true})
	fs.AddFlag(ff.FlagConfig{ShortName: 'o', LongName: "output" /*       */, Value: ffval.NewEnum(&cfg.output, "ndjson", "prettyjson") /*            */, Usage: "output format: ndjson, prettyjson", Placeholder: "FORMAT"})
}

// recentTransaction is what's printed for each recent transaction.
type recentTransaction struct {
	Summary *trcagent.Summary       `json:"summary"`
	Entries []trcagent.StoredEntry  `json:"entries,omitempty"`
	Profile *trcagent.StoredProfile `json:"profile,omitempty"`
	Evicted bool                    `json:"evicted,omitempty"`
}

func (cfg *recentConfig) Exec(ctx context.Context, args []string) error {
	collector, closeStore, err := cfg.newCollector()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			cfg.info.Printf("close store: %v", err)
		}
	}()

	w := &workload{
		collector:  collector,
		entries:    max(cfg.entries, 1),
		errorRate:  cfg.errorRate,
		threshold:  time.Hour,
		sampleRate: 0.1,
	}

	rng := rand.New(rand.NewSource(cfg.seed))
	for i := 0; i < cfg.transactions; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := w.transaction(ctx, rng)
		if err := tx.Err(); err != nil {
			cfg.info.Printf("transaction %s: %v", tx.ID(), err)
		}
	}

	enc := json.NewEncoder(cfg.stdout)
	if cfg.output == "prettyjson" {
		enc.SetIndent("", "    ")
	}

	for _, typ := range collector.Types() {
		for _, s := range collector.Recent(typ) {
			rt := recentTransaction{Summary: s}
			entries, ok := collector.ReadEntries(s)
			if ok {
				rt.Entries = entries
			} else {
				rt.Evicted = true
			}
			if profile, ok := collector.ReadProfile(s); ok {
				rt.Profile = profile
			}
			if err := enc.Encode(rt); err != nil {
				return fmt.Errorf("encode transaction: %w", err)
			}
		}
	}

	cfg.report(collector)

	return nil
}
