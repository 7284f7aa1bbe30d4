package main

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffval"
)

type runConfig struct {
	*rootConfig

	workers    int
	entries    int
	errorRate  float64
	slowRate   float64
	threshold  time.Duration
	sampleRate float64
	pause      time.Duration
	interval   time.Duration
}

func (cfg *runConfig) register(fs *ff.FlagSet) {
	fs.AddFlag(ff.FlagConfig{ShortName: 'w', LongName: "workers" /*        */, Value: ffval.NewValueDefault(&cfg.workers, 4) /*                       */, Usage: "concurrent workers"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'n', LongName: "entries" /*        */, Value: ffval.NewValueDefault(&cfg.entries, 100) /*                     */, Usage: "max top-level entries per transaction"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "error-rate" /*     */, Value: ffval.NewValueDefault(&cfg.errorRate, 0.01) /*                  */, Usage: "fraction of entries which fail"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "slow-rate" /*      */, Value: ffval.NewValueDefault(&cfg.slowRate, 0.001) /*                  */, Usage: "fraction of entries which are slow"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "threshold" /*      */, Value: ffval.NewValueDefault(&cfg.threshold, time.Millisecond) /*      */, Usage: "stack trace threshold for entries"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "sample-rate" /*    */, Value: ffval.NewValueDefault(&cfg.sampleRate, 0.01) /*                 */, Usage: "fraction of entries followed by a profile sample"})
	fs.AddFlag(ff.FlagConfig{ShortName: 0x0, LongName: "pause" /*          */, Value: ffval.NewValueDefault(&cfg.pause, 10*time.Millisecond) /*       */, Usage: "pause between transactions, per worker"})
	fs.AddFlag(ff.FlagConfig{ShortName: 'i', LongName: "stats-interval" /* */, Value: ffval.NewValueDefault(&cfg.interval, 5*time.Second) /*         */, Usage: "stats reporting interval"})
}

func (cfg *runConfig) Exec(ctx context.Context, args []string) error {
	collector, closeStore, err := cfg.newCollector()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			cfg.info.Printf("close store: %v", err)
		}
	}()

	{
		cfg.debug.Printf("workers: %d", cfg.workers)
		cfg.debug.Printf("entries: %d", cfg.entries)
		cfg.debug.Printf("error rate: %v", cfg.errorRate)
		cfg.debug.Printf("slow rate: %v", cfg.slowRate)
		cfg.debug.Printf("threshold: %s", cfg.threshold)
		cfg.debug.Printf("stats interval: %s", cfg.interval)
	}

	w := &workload{
		collector:  collector,
		entries:    max(cfg.entries, 1),
		errorRate:  cfg.errorRate,
		slowRate:   cfg.slowRate,
		threshold:  cfg.threshold,
		sampleRate: cfg.sampleRate,
	}

	var (
		g         run.Group
		completed atomic.Uint64
		failed    atomic.Uint64
	)

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			var wg sync.WaitGroup
			for i := 0; i < cfg.workers; i++ {
				wg.Add(1)
				go func(seed int64) {
					defer wg.Done()
					rng := rand.New(rand.NewSource(seed))
					for ctx.Err() == nil {
						tx := w.transaction(ctx, rng)
						completed.Add(1)
						if err := tx.Err(); err != nil {
							failed.Add(1)
						}
						select {
						case <-ctx.Done():
						case <-time.After(cfg.pause):
						}
					}
				}(time.Now().UnixNano() + int64(i))
			}
			wg.Wait()
			return ctx.Err()
		}, func(error) {
			cancel()
		})
	}

	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			ticker := time.NewTicker(cfg.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					cfg.info.Printf("transactions: completed %d, storage failures %d", completed.Load(), failed.Load())
					cfg.report(collector)
				}
			}
		}, func(error) {
			cancel()
		})
	}

	{
		g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	}

	err = g.Run()

	cfg.info.Printf("final: transactions completed %d, storage failures %d", completed.Load(), failed.Load())
	cfg.report(collector)
	for _, typ := range collector.Types() {
		cfg.info.Printf("%s: %d recent", typ, len(collector.Recent(typ)))
	}

	return err
}
