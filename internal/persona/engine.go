// Package persona owns the evolving personality model: tone weight
// drift and evolution per scope, stance overrides, and persistence.
package persona

import (
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Store is the durable key-value layer for persona states. Failure is
// non-fatal: the engine keeps operating from memory and retries on the
// next mutation.
type Store interface {
	GetPersonaState(scopeID string) (*State, bool, error)
	PutPersonaState(st *State) error
}

// Config holds the engine's operator-supplied parameters.
type Config struct {
	Defaults   ToneWeights
	Clamps     map[string]Clamp
	Volatility float64
	Seed       int64 // 0 = non-deterministic drift
	Triggers   map[string]Trigger
}

// Engine manages one State per scope. All mutations of a scope are
// serialized through its lock so a drift read cannot be lost under a
// concurrent evolution write.
type Engine struct {
	cfg   Config
	store Store
	log   *slog.Logger

	mu     sync.Mutex
	scopes map[string]*scope
}

type scope struct {
	mu    sync.Mutex
	state *State
	rng   *rand.Rand
	dirty bool // last persist failed, retry on next mutation
}

// NewEngine creates the engine. store may be nil, which degrades the
// feature to session-only (non-durable) operation.
func NewEngine(cfg Config, store Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if len(cfg.Defaults) == 0 {
		cfg.Defaults = ToneWeights{"formal": 0.25, "casual": 0.45, "playful": 0.2, "sarcastic": 0.1}
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		log:    log,
		scopes: make(map[string]*scope),
	}
}

// GetState returns a copy of the scope's current state, creating and
// persisting a default one on first access.
func (e *Engine) GetState(scopeID string) *State {
	sc := e.scope(scopeID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state.Clone()
}

// ApplyDrift adds a pseudo-random delta in [-volatility, +volatility]
// to every tone, then normalizes and clamps. The per-scope generator is
// seeded from (seed, scope id) so runs with the same seed replay
// byte-identical drift sequences.
func (e *Engine) ApplyDrift(scopeID string) ToneWeights {
	sc := e.scope(scopeID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if e.cfg.Volatility <= 0 {
		return sc.state.ToneWeights.Clone()
	}

	w := sc.state.ToneWeights
	for _, tone := range w.Tones() {
		delta := (sc.rng.Float64()*2 - 1) * e.cfg.Volatility
		v := w[tone] + delta
		if v < 0 {
			v = 0
		}
		w[tone] = v
	}
	e.settleLocked(w)
	sc.state.UpdatedAt = time.Now().UTC()
	e.persistLocked(sc)
	return w.Clone()
}

// ApplyEvolution applies the named trigger: the target tone gains the
// trigger's magnitude, taken proportionally from the other tones, then
// clamps apply and the event is appended to the scope's history.
// Unknown trigger names are a no-op so callers may fire speculatively.
func (e *Engine) ApplyEvolution(scopeID, triggerName string) ToneWeights {
	sc := e.scope(scopeID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	w := sc.state.ToneWeights
	rule, ok := e.cfg.Triggers[triggerName]
	if !ok {
		e.log.Debug("no evolution rule for trigger", "trigger", triggerName)
		return w.Clone()
	}
	if _, ok := w[rule.TargetTone]; !ok {
		return w.Clone()
	}

	w[rule.TargetTone] += rule.Magnitude
	e.settleLocked(w)

	sc.state.History = append(sc.state.History, EvolutionEvent{
		Trigger:    triggerName,
		Magnitude:  rule.Magnitude,
		TargetTone: rule.TargetTone,
		Timestamp:  time.Now().UTC(),
	})
	sc.state.UpdatedAt = time.Now().UTC()
	e.persistLocked(sc)
	e.log.Debug("evolution applied",
		"scope", scopeID, "trigger", triggerName,
		"target", rule.TargetTone, "magnitude", rule.Magnitude)
	return w.Clone()
}

// UpdateState overwrites tone weights and/or stance overrides for a
// scope. Nil arguments leave the respective part untouched. Updates
// bypass drift/evolution magnitudes but remain subject to clamps.
func (e *Engine) UpdateState(scopeID string, weights ToneWeights, stances map[string]string) *State {
	sc := e.scope(scopeID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if weights != nil {
		sc.state.ToneWeights = weights.Clone()
		e.settleLocked(sc.state.ToneWeights)
	}
	if stances != nil {
		sc.state.StanceOverrides = make(map[string]string, len(stances))
		for k, v := range stances {
			sc.state.StanceOverrides[k] = v
		}
	}
	sc.state.UpdatedAt = time.Now().UTC()
	e.persistLocked(sc)
	return sc.state.Clone()
}

// ResetState restores the scope to default weights with empty history
// and stances. The scope stays usable immediately afterwards.
func (e *Engine) ResetState(scopeID string) *State {
	sc := e.scope(scopeID)
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.state = e.defaultState(scopeID)
	e.persistLocked(sc)
	e.log.Info("persona state reset", "scope", scopeID)
	return sc.state.Clone()
}

// SaveState forces a persistence attempt for the scope.
func (e *Engine) SaveState(scopeID string) error {
	sc := e.scope(scopeID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return e.persistLocked(sc)
}

// ActiveScopes lists scopes the engine has materialized, for callers
// that run drift on a cadence.
func (e *Engine) ActiveScopes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.scopes))
	for id := range e.scopes {
		ids = append(ids, id)
	}
	return ids
}

// scope returns the scope record, lazily loading or creating it. The
// record is published into the map only after its state is fully
// initialized, so callers racing on first access never observe a nil
// state. Store reads are in-memory lookups, cheap enough to hold the
// engine lock across.
func (e *Engine) scope(scopeID string) *scope {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sc, ok := e.scopes[scopeID]; ok {
		return sc
	}

	sc := &scope{rng: rand.New(rand.NewSource(e.seedFor(scopeID)))}
	if e.store != nil {
		st, ok, err := e.store.GetPersonaState(scopeID)
		if err != nil {
			e.log.Warn("persona load failed, starting from defaults", "scope", scopeID, "error", err)
		} else if ok {
			if len(st.ToneWeights) == 0 {
				st.ToneWeights = e.cfg.Defaults.Clone()
			}
			st.ScopeID = scopeID
			sc.state = st
		}
	}
	if sc.state == nil {
		sc.state = e.defaultState(scopeID)
		e.persistLocked(sc)
	}
	e.scopes[scopeID] = sc
	return sc
}

func (e *Engine) defaultState(scopeID string) *State {
	return &State{
		ScopeID:     scopeID,
		ToneWeights: e.cfg.Defaults.Clone(),
		UpdatedAt:   time.Now().UTC(),
	}
}

// seedFor derives a per-scope seed from the configured seed and the
// scope id. Seed 0 means drift is intentionally non-reproducible.
func (e *Engine) seedFor(scopeID string) int64 {
	if e.cfg.Seed == 0 {
		return time.Now().UnixNano()
	}
	h := fnv.New64a()
	h.Write([]byte(scopeID))
	return e.cfg.Seed ^ int64(h.Sum64())
}

// settleLocked re-normalizes, applies per-tone clamps, and
// re-normalizes once more. Must hold the scope lock.
func (e *Engine) settleLocked(w ToneWeights) {
	w.Normalize()
	for tone, c := range e.cfg.Clamps {
		v, ok := w[tone]
		if !ok {
			continue
		}
		if v < c.Min {
			w[tone] = c.Min
		} else if v > c.Max {
			w[tone] = c.Max
		}
	}
	w.Normalize()
}

// persistLocked writes the scope's state through the store. On failure
// in-memory state is kept and the scope is marked dirty so the next
// mutation retries. Must hold the scope lock.
func (e *Engine) persistLocked(sc *scope) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.PutPersonaState(sc.state.Clone()); err != nil {
		sc.dirty = true
		e.log.Warn("persona persist failed, keeping state in memory",
			"scope", sc.state.ScopeID, "error", err)
		return err
	}
	sc.dirty = false
	return nil
}
