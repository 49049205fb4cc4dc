package persona

import (
	"sort"
	"time"
)

// Profile is the operator-configured identity of the persona. The
// engine never mutates it.
type Profile struct {
	Name      string   `json:"name" yaml:"name"`
	Backstory string   `json:"backstory" yaml:"backstory"`
	KeyTraits []string `json:"key_traits" yaml:"key_traits"`
}

// ToneWeights maps a tone label to its weight. Weights sum to 1.0 at
// every observation point; every mutation re-normalizes.
type ToneWeights map[string]float64

// Clone returns an independent copy.
func (w ToneWeights) Clone() ToneWeights {
	out := make(ToneWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Tones returns the tone labels in sorted order. Mutations iterate in
// this order so seeded drift is replayable.
func (w ToneWeights) Tones() []string {
	tones := make([]string, 0, len(w))
	for t := range w {
		tones = append(tones, t)
	}
	sort.Strings(tones)
	return tones
}

// Normalize scales weights so they sum to 1.0. A zero or negative sum
// resets to a uniform distribution. Summation runs in sorted tone
// order so seeded trajectories replay bit-for-bit.
func (w ToneWeights) Normalize() {
	tones := w.Tones()
	var sum float64
	for _, t := range tones {
		if w[t] > 0 {
			sum += w[t]
		}
	}
	if sum <= 0 {
		n := float64(len(w))
		for _, t := range tones {
			w[t] = 1 / n
		}
		return
	}
	for _, t := range tones {
		v := w[t]
		if v < 0 {
			v = 0
		}
		w[t] = v / sum
	}
}

// Dominant returns the tone with the highest weight, ties broken by
// name for stability.
func (w ToneWeights) Dominant() string {
	best := ""
	var bestW float64
	for _, t := range w.Tones() {
		if best == "" || w[t] > bestW {
			best, bestW = t, w[t]
		}
	}
	return best
}

// Clamp is a configured [Min,Max] bound enforced on one tone after
// every mutation.
type Clamp struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Trigger is a named evolution rule: a one-time directed shift of
// Magnitude toward TargetTone.
type Trigger struct {
	Magnitude  float64 `json:"magnitude" yaml:"magnitude"`
	TargetTone string  `json:"target_tone" yaml:"target_tone"`
}

// EvolutionEvent is one applied trigger, kept in the append-only
// history of a scope.
type EvolutionEvent struct {
	Trigger    string    `json:"trigger"`
	Magnitude  float64   `json:"magnitude"`
	TargetTone string    `json:"target_tone"`
	Timestamp  time.Time `json:"timestamp"`
}

// State is the mutable persona model for one scope.
type State struct {
	ScopeID         string            `json:"scope_id"`
	ToneWeights     ToneWeights       `json:"tone_weights"`
	StanceOverrides map[string]string `json:"stance_overrides,omitempty"`
	History         []EvolutionEvent  `json:"evolution_history,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can read without racing the
// engine's mutations.
func (s *State) Clone() *State {
	out := &State{
		ScopeID:     s.ScopeID,
		ToneWeights: s.ToneWeights.Clone(),
		UpdatedAt:   s.UpdatedAt,
	}
	if s.StanceOverrides != nil {
		out.StanceOverrides = make(map[string]string, len(s.StanceOverrides))
		for k, v := range s.StanceOverrides {
			out.StanceOverrides[k] = v
		}
	}
	if len(s.History) > 0 {
		out.History = append([]EvolutionEvent(nil), s.History...)
	}
	return out
}
