package trcagent

import (
	"encoding/json"
	"strings"
	"time"
)

// StoredEntry is the representation of a real trace entry in the store. The
// entries of a transaction are stored together, as a single record, in the
// order they were started.
type StoredEntry struct {
	Depth    int            `json:"depth"`
	Offset   durationString `json:"offset"`
	Duration durationString `json:"duration"`
	Extended durationString `json:"extended,omitempty"`
	Active   bool           `json:"active,omitempty"`
	Message  string         `json:"message"`
	Detail   map[string]any `json:"detail,omitempty"`
	Error    *ErrorInfo     `json:"error,omitempty"`
	Stack    []Frame        `json:"stack,omitempty"`
}

// durationString is a time.Duration which JSON marshals as a string.
type durationString time.Duration

// MarshalJSON implements json.Marshaler.
func (d durationString) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *durationString) UnmarshalJSON(data []byte) error {
	if dur, err := time.ParseDuration(strings.Trim(string(data), `"`)); err == nil {
		*d = durationString(dur)
		return nil
	}
	return json.Unmarshal(data, (*time.Duration)(d))
}

// Get returns the duration.
func (d durationString) Get() time.Duration {
	return time.Duration(d)
}
