// Package scenario defines the backtrace test scenarios and runs them in
// sequence against a live filesystem.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknown is returned when a selected index has no scenario.
var ErrUnknown = errors.New("unknown scenario")

// Scenario is one numbered test. Disabled scenarios are listed but never
// run; selecting one reports it as skipped.
type Scenario struct {
	Index          int
	Name           string
	Description    string
	Disabled       bool
	DisabledReason string
	Body           func(ctx context.Context, env *Env) error
}

// Registry holds scenarios by index.
type Registry struct {
	byIndex map[int]*Scenario
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byIndex: make(map[int]*Scenario)}
}

// Register adds s. Indices must be unique and non-negative.
func (r *Registry) Register(s *Scenario) error {
	if s.Index < 0 {
		return fmt.Errorf("scenario: negative index %d", s.Index)
	}
	if s.Body == nil {
		return fmt.Errorf("scenario: %d (%s) has no body", s.Index, s.Name)
	}
	if prev, ok := r.byIndex[s.Index]; ok {
		return fmt.Errorf("scenario: index %d already registered to %q", s.Index, prev.Name)
	}
	r.byIndex[s.Index] = s
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(s *Scenario) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get returns the scenario with index i.
func (r *Registry) Get(i int) (*Scenario, bool) {
	s, ok := r.byIndex[i]
	return s, ok
}

// List returns every scenario in ascending index order.
func (r *Registry) List() []*Scenario {
	out := make([]*Scenario, 0, len(r.byIndex))
	for _, s := range r.byIndex {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Select returns what a run with the given selector executes: the one
// selected scenario, or every enabled scenario in index order.
func (r *Registry) Select(selector *int) ([]*Scenario, error) {
	if selector != nil {
		s, ok := r.Get(*selector)
		if !ok {
			return nil, fmt.Errorf("scenario: %d: %w", *selector, ErrUnknown)
		}
		return []*Scenario{s}, nil
	}
	var out []*Scenario
	for _, s := range r.List() {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out, nil
}
