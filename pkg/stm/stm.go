// Package stm implements the engine's short-term buffer (C3): a per-session
// ordered sequence of events plus an aggregated emotive vector. See spec
// §4.3. An STM belongs to exactly one session and is never shared; the
// engine's session executor owns the single copy in flight for a request.
package stm

import "github.com/sevakavakians/kato/pkg/event"

// STM is the short-term buffer. It is observational: it never filters,
// reorders, or deduplicates events across appends.
type STM struct {
	events   []event.Event
	emotives map[string][]float64
}

// Snapshot is an immutable copy of the STM's current contents.
type Snapshot struct {
	Events   []event.Event
	Emotives map[string][]float64
}

// New returns an empty STM.
func New() *STM {
	return &STM{emotives: make(map[string][]float64)}
}

// FromSnapshot rebuilds an STM from a previously taken Snapshot, for
// reloading session state from an external store.
func FromSnapshot(s Snapshot) *STM {
	m := &STM{
		events:   make([]event.Event, len(s.Events)),
		emotives: make(map[string][]float64, len(s.Emotives)),
	}
	for i, e := range s.Events {
		m.events[i] = e.Clone()
	}
	for k, v := range s.Emotives {
		cp := make([]float64, len(v))
		copy(cp, v)
		m.emotives[k] = cp
	}
	return m
}

// Append adds e to the sequence and folds obsEmotives into the running
// per-key aggregate. An empty event is a no-op (I4: empty events never
// appear in the STM).
func (s *STM) Append(e event.Event, obsEmotives map[string]float64) {
	if !e.IsEmpty() {
		s.events = append(s.events, e.Clone())
	}
	for k, v := range obsEmotives {
		s.emotives[k] = append(s.emotives[k], v)
	}
}

// Len returns the number of events currently buffered.
func (s *STM) Len() int {
	return len(s.events)
}

// Snapshot returns an immutable copy of the current sequence and emotive
// aggregate.
func (s *STM) Snapshot() Snapshot {
	events := make([]event.Event, len(s.events))
	for i, e := range s.events {
		events[i] = e.Clone()
	}
	emotives := make(map[string][]float64, len(s.emotives))
	for k, v := range s.emotives {
		cp := make([]float64, len(v))
		copy(cp, v)
		emotives[k] = cp
	}
	return Snapshot{Events: events, Emotives: emotives}
}

// Clear resets the STM to empty.
func (s *STM) Clear() {
	s.events = nil
	s.emotives = make(map[string][]float64)
}

// ClearEmotives drops the aggregated emotive contributions, keeping events.
// The engine does not call it: its clear-all resets the session's emotives
// directly.
func (s *STM) ClearEmotives() {
	s.emotives = make(map[string][]float64)
}

// TruncateToLast discards every event but the most recent one, keeping
// emotives untouched. Used after an auto-learn triggered by max_pattern_length.
func (s *STM) TruncateToLast() {
	if len(s.events) == 0 {
		return
	}
	last := s.events[len(s.events)-1]
	s.events = []event.Event{last}
}

// Persistence summarizes the aggregated emotives down to the most recent n
// contributions per key (the session config "persistence" option), returning
// a new map without mutating the STM. When n <= 0 it returns emotives itself.
func Persistence(emotives map[string][]float64, n int) map[string][]float64 {
	if n <= 0 {
		return emotives
	}
	out := make(map[string][]float64, len(emotives))
	for k, v := range emotives {
		if len(v) <= n {
			out[k] = v
			continue
		}
		out[k] = v[len(v)-n:]
	}
	return out
}

// TokenSet returns the union of all symbols appearing anywhere in the
// snapshot's events, the query token set Q consumed by the candidate filter
// pipeline (§4.6).
func (s Snapshot) TokenSet() event.Set {
	set := make(event.Set)
	for _, e := range s.Events {
		for _, sym := range e {
			set.Add(sym)
		}
	}
	return set
}
