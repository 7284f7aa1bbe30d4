package trcdebug

import "sync/atomic"

// AdmissionCounters track trace entry admission decisions across all of the
// transactions of a collector.
type AdmissionCounters struct {
	Real      atomic.Uint64 // created as real entries
	Dummy     atomic.Uint64 // created as dummy entries
	Escalated atomic.Uint64 // dummy entries promoted to real entries
	Refused   atomic.Uint64 // escalations refused by the hard cap
	Discarded atomic.Uint64 // dummy entries ended without escalation
}

// AdmissionValues is a point-in-time copy of admission counters.
type AdmissionValues struct {
	Real      uint64 `json:"real"`
	Dummy     uint64 `json:"dummy"`
	Escalated uint64 `json:"escalated"`
	Refused   uint64 `json:"refused"`
	Discarded uint64 `json:"discarded"`
}

// Values returns the current values of the counters.
func (ac *AdmissionCounters) Values() AdmissionValues {
	return AdmissionValues{
		Real:      ac.Real.Load(),
		Dummy:     ac.Dummy.Load(),
		Escalated: ac.Escalated.Load(),
		Refused:   ac.Refused.Load(),
		Discarded: ac.Discarded.Load(),
	}
}

// EscalatePercent returns the percent (0..100) of dummy entries which were
// eventually escalated.
func (av AdmissionValues) EscalatePercent() float64 {
	if av.Dummy <= 0 {
		return 0.0
	}
	return 100 * float64(av.Escalated) / float64(av.Dummy)
}
