// Package gallery tracks per-anomaly navigation over the fixed variant
// list. State is keyed by anomaly id, so re-filtering or re-ordering the
// visible list never corrupts another anomaly's position.
package gallery

import (
	"fmt"
	"sync"

	"anomaly-report-service/models"
)

// State is the gallery position for one anomaly: an index into the fixed
// ordered variant list. There is no terminal state; navigation wraps in
// both directions. Safe for concurrent use.
type State struct {
	mu       sync.Mutex
	variants []models.ImageVariant
	index    int
}

// NewState starts a gallery at the first variant.
func NewState(variants []models.ImageVariant) *State {
	return &State{variants: variants}
}

// Current returns the variant at the current position.
func (s *State) Current() models.ImageVariant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variants[s.index]
}

// Index returns the current zero-based position.
func (s *State) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Len returns the number of variants.
func (s *State) Len() int { return len(s.variants) }

// Next advances with wraparound and returns the new variant.
func (s *State) Next() models.ImageVariant {
	variant, _, _ := s.Step(true)
	return variant
}

// Prev steps back with wraparound and returns the new variant.
func (s *State) Prev() models.ImageVariant {
	variant, _, _ := s.Step(false)
	return variant
}

// Step applies one transition and returns the resulting variant, index and
// counter label as a single snapshot.
func (s *State) Step(forward bool) (models.ImageVariant, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if forward {
		s.index = (s.index + 1) % len(s.variants)
	} else {
		s.index = (s.index - 1 + len(s.variants)) % len(s.variants)
	}
	return s.variants[s.index], s.index, s.label()
}

// CounterLabel is the position indicator shown next to the image,
// "1 / 5" for the first of five variants.
func (s *State) CounterLabel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label()
}

// label assumes s.mu is held.
func (s *State) label() string {
	return fmt.Sprintf("%d / %d", s.index+1, len(s.variants))
}

// Session owns the gallery states for one rendered anomaly list plus the
// render generation used to discard stale async completions. Each rendered
// view gets its own Session; nothing here is process-global.
type Session struct {
	mu         sync.Mutex
	states     map[string]*State
	variants   []models.ImageVariant
	generation uint64
}

// NewSession creates a session over the canonical variant list.
func NewSession() *Session {
	return &Session{
		states:   make(map[string]*State),
		variants: models.Variants(),
	}
}

// For returns the gallery state for an anomaly, creating it at index 0 on
// first use.
func (g *Session) For(anomalyID string) *State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(anomalyID)
}

// stateLocked assumes g.mu is held.
func (g *Session) stateLocked(anomalyID string) *State {
	st, ok := g.states[anomalyID]
	if !ok {
		st = NewState(g.variants)
		g.states[anomalyID] = st
	}
	return st
}

// Step applies one gallery transition for an anomaly and bumps the render
// generation, so concurrent transitions on the same anomaly serialize and
// every transition invalidates earlier renders.
func (g *Session) Step(anomalyID string, forward bool) (models.ImageVariant, int, string, uint64) {
	g.mu.Lock()
	st := g.stateLocked(anomalyID)
	g.generation++
	generation := g.generation
	g.mu.Unlock()

	variant, index, label := st.Step(forward)
	return variant, index, label, generation
}

// Generation returns the current render generation.
func (g *Session) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation
}

// Invalidate bumps the render generation. Results computed for earlier
// generations are dropped by IsCurrent instead of being cancelled.
func (g *Session) Invalidate() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.generation++
	return g.generation
}

// IsCurrent reports whether a completion from the given generation may
// still be applied.
func (g *Session) IsCurrent(generation uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generation == generation
}

// Reset drops all per-anomaly state, e.g. when a new dataset is loaded,
// and invalidates in-flight renders.
func (g *Session) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states = make(map[string]*State)
	g.generation++
}
