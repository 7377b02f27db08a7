// Package filter derives the visible anomaly subset from the canonical
// dataset. The dataset itself is never mutated; clearing and restoring
// filters is fully reversible.
package filter

import "anomaly-report-service/models"

// State is the set of classification types currently selected for display.
// It starts out as the full lexicon vocabulary and changes only through
// explicit toggle / select-all / clear-all actions.
type State struct {
	active map[string]bool
}

// NewState returns a State with every given type active.
func NewState(types []string) *State {
	s := &State{active: make(map[string]bool, len(types))}
	for _, t := range types {
		s.active[t] = true
	}
	return s
}

// Toggle flips one classification type.
func (s *State) Toggle(classType string) {
	if s.active[classType] {
		delete(s.active, classType)
	} else {
		s.active[classType] = true
	}
}

// SelectAll activates every given type.
func (s *State) SelectAll(types []string) {
	for _, t := range types {
		s.active[t] = true
	}
}

// ClearAll deactivates everything. An empty selection means "show nothing",
// not "show all"; the UI labels that state explicitly.
func (s *State) ClearAll() {
	s.active = make(map[string]bool)
}

// Active returns the active type set as a map copy.
func (s *State) Active() map[string]bool {
	out := make(map[string]bool, len(s.active))
	for t := range s.active {
		out[t] = true
	}
	return out
}

// IsActive reports whether a classification type is selected.
func (s *State) IsActive(classType string) bool { return s.active[classType] }

// Result is a filtered view over the canonical dataset. Count always equals
// len(Anomalies); it is recomputed on every application, never cached.
type Result struct {
	Anomalies []models.Anomaly
	Count     int
}

// Apply derives the visible anomaly list from the canonical dataset.
//
// An empty active set yields an empty list. That edge is deliberate and
// load-bearing: "no filters selected" and "all filters selected" are
// different user actions with opposite results, and both must stay exactly
// as they are.
func Apply(dataset *models.AnalysisResult, active map[string]bool) Result {
	if len(active) == 0 {
		return Result{Anomalies: []models.Anomaly{}, Count: 0}
	}

	// Stable filter: dataset order is preserved, nothing is resorted.
	anomalies := make([]models.Anomaly, 0, len(dataset.Anomalies))
	for _, a := range dataset.Anomalies {
		if active[a.Classification.Type] {
			anomalies = append(anomalies, a)
		}
	}
	return Result{Anomalies: anomalies, Count: len(anomalies)}
}
