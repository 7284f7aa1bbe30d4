package trcagent

import (
	"sync"
)

// Profile aggregates stack samples taken during a transaction into a call
// tree, where each node counts the samples which passed through it.
//
// Profile is safe for concurrent use.
type Profile struct {
	mtx       sync.Mutex
	root      ProfileNode
	samples   int
	max       int
	truncated int
}

// ProfileNode is a single call in a profile tree.
type ProfileNode struct {
	Function string         `json:"function,omitempty"`
	FileLine string         `json:"fileline,omitempty"`
	Count    int            `json:"count"`
	Children []*ProfileNode `json:"children,omitempty"`
}

// StoredProfile is the representation of a profile in the store.
type StoredProfile struct {
	SampleCount    int          `json:"sample_count"`
	TruncatedCount int          `json:"truncated_count,omitempty"`
	Root           *ProfileNode `json:"root"`
}

// NewProfile returns an empty profile which accepts up to max samples. Once a
// profile has the maximum number of samples, additional samples increment a
// truncated counter. If max is zero or negative, every sample is truncated.
func NewProfile(max int) *Profile {
	return &Profile{max: max}
}

// AddSample adds the stack to the profile. Stacks are ordered innermost call
// first, as returned by runtime.Callers.
func (p *Profile) AddSample(stack []Frame) {
	if len(stack) <= 0 {
		return
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.samples >= p.max {
		p.truncated++
		return
	}

	p.samples++
	p.root.Count++

	node := &p.root
	for i := len(stack) - 1; i >= 0; i-- {
		node = node.child(stack[i])
		node.Count++
	}
}

// SampleCount returns the number of samples in the profile.
func (p *Profile) SampleCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.samples
}

// Snapshot returns a deep copy of the profile in its stored form.
func (p *Profile) Snapshot() *StoredProfile {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return &StoredProfile{
		SampleCount:    p.samples,
		TruncatedCount: p.truncated,
		Root:           p.root.clone(),
	}
}

func (n *ProfileNode) child(fr Frame) *ProfileNode {
	for _, c := range n.Children {
		if c.Function == fr.Function && c.FileLine == fr.FileLine {
			return c
		}
	}

	c := &ProfileNode{Function: fr.Function, FileLine: fr.FileLine}
	n.Children = append(n.Children, c)
	return c
}

func (n *ProfileNode) clone() *ProfileNode {
	c := &ProfileNode{
		Function: n.Function,
		FileLine: n.FileLine,
		Count:    n.Count,
	}
	if len(n.Children) > 0 {
		c.Children = make([]*ProfileNode, len(n.Children))
		for i := range n.Children {
			c.Children[i] = n.Children[i].clone()
		}
	}
	return c
}
