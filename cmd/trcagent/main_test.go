package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRecent(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	args := []string{"recent", "--log=none", "--transactions=5", "--seed=1", "--max-entries=3"}
	if err := exec(context.Background(), strings.NewReader(""), &stdout, &stderr, args); err != nil {
		t.Fatalf("exec: %v (%s)", err, stderr.String())
	}

	var count int
	dec := json.NewDecoder(&stdout)
	for dec.More() {
		var rt recentTransaction
		if err := dec.Decode(&rt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rt.Evicted {
			t.Errorf("%s: evicted", rt.Summary.ID)
		}
		if want, have := rt.Summary.EntryCount, len(rt.Entries); want != have {
			t.Errorf("%s: want %d entries, have %d", rt.Summary.ID, want, have)
		}
		if rt.Summary.EntryCount > 6 {
			t.Errorf("%s: %d entries exceeds hard cap", rt.Summary.ID, rt.Summary.EntryCount)
		}
		count++
	}

	if want, have := 5, count; want != have {
		t.Errorf("want %d transactions, have %d", want, have)
	}
}

func TestInvalidCapacity(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	args := []string{"recent", "--log=none", "--capacity=0"}
	if err := exec(context.Background(), strings.NewReader(""), &stdout, &stderr, args); err == nil {
		t.Fatalf("want error, have none")
	}
}
