package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/peterbourgon/trcagent"
)

var transactionTypes = []string{"Web", "Background"}

var transactionNames = map[string][]string{
	"Web":        {"/", "/users", "/users/:id", "/search"},
	"Background": {"reindex", "cleanup", "email"},
}

// workload drives transactions through a collector. Each transaction has a
// random number of entries, some nested, some slow, and some failing.
type workload struct {
	collector  *trcagent.Collector
	entries    int
	errorRate  float64
	slowRate   float64
	threshold  time.Duration
	sampleRate float64
}

func (w *workload) transaction(ctx context.Context, rng *rand.Rand) *trcagent.Transaction {
	var (
		typ  = transactionTypes[rng.Intn(len(transactionTypes))]
		name = transactionNames[typ][rng.Intn(len(transactionNames[typ]))]
	)

	ctx, root := w.collector.StartTransaction(ctx, typ, name, trcagent.Messagef("%s %s", typ, name))
	tx := trcagent.FromContext(ctx)

	n := 1 + rng.Intn(w.entries)
	for i := 0; i < n; i++ {
		w.entry(ctx, rng, i, 0)
		if rng.Float64() < w.sampleRate {
			tx.CaptureProfileSample()
		}
	}

	if rng.Float64() < w.errorRate/10 {
		root.EndWithError(errTransactionFailed)
	} else {
		root.End()
	}

	return tx
}

var errTransactionFailed = errors.New("transaction failed")

func (w *workload) entry(ctx context.Context, rng *rand.Rand, i, depth int) {
	msg := trcagent.NewDetailMessage(fmt.Sprintf("step %d", i))
	e := trcagent.StartTraceEntry(ctx, msg)

	if depth < 2 && rng.Intn(4) == 0 {
		for j := 0; j < 1+rng.Intn(3); j++ {
			w.entry(ctx, rng, j, depth+1)
		}
	}

	if rng.Float64() < w.slowRate {
		time.Sleep(w.threshold)
	}
	msg.Set("depth", depth)

	switch {
	case rng.Float64() < w.errorRate:
		e.EndWithErrorCause("", fmt.Errorf("step %d: %w", i, errStepFailed))
	default:
		e.EndWithStackTrace(w.threshold)
	}
}

var errStepFailed = errors.New("step failed")
