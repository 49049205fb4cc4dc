package persona

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	states   map[string]*State
	failPuts bool
	puts     int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]*State{}}
}

func (m *memStore) GetPersonaState(scopeID string) (*State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[scopeID]
	if !ok {
		return nil, false, nil
	}
	return st.Clone(), true, nil
}

func (m *memStore) PutPersonaState(st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPuts {
		return errors.New("disk unavailable")
	}
	m.states[st.ScopeID] = st.Clone()
	return nil
}

func testConfig() Config {
	return Config{
		Defaults: ToneWeights{"formal": 0.3, "casual": 0.5, "playful": 0.15, "sarcastic": 0.05},
		Clamps: map[string]Clamp{
			"formal":    {Min: 0.05, Max: 0.7},
			"casual":    {Min: 0.05, Max: 0.7},
			"playful":   {Min: 0.02, Max: 0.6},
			"sarcastic": {Min: 0.01, Max: 0.4},
		},
		Volatility: 0.02,
		Seed:       42,
		Triggers: map[string]Trigger{
			"positive_interaction": {Magnitude: 0.02, TargetTone: "playful"},
			"spam_detected":        {Magnitude: 0.05, TargetTone: "formal"},
		},
	}
}

func assertSettled(t *testing.T, cfg Config, w ToneWeights) {
	t.Helper()
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "weights must sum to 1.0")
	for tone, c := range cfg.Clamps {
		v, ok := w[tone]
		if !ok {
			continue
		}
		// A small tolerance covers the final re-normalization after clamping.
		assert.GreaterOrEqual(t, v, c.Min-0.05, "tone %s below clamp", tone)
		assert.LessOrEqual(t, v, c.Max+0.05, "tone %s above clamp", tone)
	}
}

func TestGetStateCreatesDefault(t *testing.T) {
	store := newMemStore()
	e := NewEngine(testConfig(), store, nil)

	st := e.GetState("session")
	require.NotNil(t, st)
	assert.Equal(t, "session", st.ScopeID)
	assert.InDelta(t, 0.5, st.ToneWeights["casual"], 1e-9)
	assert.Empty(t, st.History)

	// Default state is persisted on first access.
	_, ok, err := store.GetPersonaState("session")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDriftKeepsInvariants(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, newMemStore(), nil)
	for i := 0; i < 200; i++ {
		w := e.ApplyDrift("session")
		assertSettled(t, cfg, w)
	}
}

func TestDriftDeterministicPerSeedAndScope(t *testing.T) {
	cfg := testConfig()
	a := NewEngine(cfg, newMemStore(), nil)
	b := NewEngine(cfg, newMemStore(), nil)

	for i := 0; i < 50; i++ {
		wa := a.ApplyDrift("scope-1")
		wb := b.ApplyDrift("scope-1")
		require.Equal(t, wa, wb, "drift diverged at step %d", i)
	}

	// A different scope gets an independent trajectory.
	c := NewEngine(cfg, newMemStore(), nil)
	c.ApplyDrift("scope-2")
	w1 := a.GetState("scope-1").ToneWeights
	w2 := c.GetState("scope-2").ToneWeights
	assert.NotEqual(t, w1, w2)
}

func TestEvolutionScenario(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, newMemStore(), nil)

	w := e.ApplyEvolution("session", "positive_interaction")
	assertSettled(t, cfg, w)

	// playful moves toward 0.17 before re-normalization pulls the sum
	// back to 1.0; the other tones shrink proportionally.
	assert.Greater(t, w["playful"], 0.15)
	assert.LessOrEqual(t, w["playful"], 0.17+1e-9)
	assert.Less(t, w["casual"], 0.5)
	assert.Less(t, w["formal"], 0.3)

	st := e.GetState("session")
	require.Len(t, st.History, 1)
	assert.Equal(t, "positive_interaction", st.History[0].Trigger)
	assert.Equal(t, "playful", st.History[0].TargetTone)
	assert.InDelta(t, 0.02, st.History[0].Magnitude, 1e-9)
}

func TestEvolutionUnknownTriggerIsNoop(t *testing.T) {
	e := NewEngine(testConfig(), newMemStore(), nil)
	before := e.GetState("session").ToneWeights
	after := e.ApplyEvolution("session", "nonexistent_trigger")
	assert.Equal(t, before, after)
	assert.Empty(t, e.GetState("session").History)
}

func TestEvolutionAppliesInArrivalOrder(t *testing.T) {
	e := NewEngine(testConfig(), newMemStore(), nil)
	e.ApplyEvolution("s", "positive_interaction")
	e.ApplyEvolution("s", "spam_detected")
	e.ApplyEvolution("s", "positive_interaction")

	st := e.GetState("s")
	require.Len(t, st.History, 3)
	assert.Equal(t, "positive_interaction", st.History[0].Trigger)
	assert.Equal(t, "spam_detected", st.History[1].Trigger)
	assert.Equal(t, "positive_interaction", st.History[2].Trigger)
}

func TestUpdateAndReset(t *testing.T) {
	cfg := testConfig()
	e := NewEngine(cfg, newMemStore(), nil)

	st := e.UpdateState("session",
		ToneWeights{"formal": 0.9, "casual": 0.05, "playful": 0.03, "sarcastic": 0.02},
		map[string]string{"politics": "deflect with humor"})
	assertSettled(t, cfg, st.ToneWeights)
	// Clamps still bind operator updates.
	assert.LessOrEqual(t, st.ToneWeights["formal"], cfg.Clamps["formal"].Max+0.05)
	assert.Equal(t, "deflect with humor", st.StanceOverrides["politics"])

	e.ApplyEvolution("session", "spam_detected")
	st = e.ResetState("session")
	assert.Empty(t, st.History)
	assert.Empty(t, st.StanceOverrides)
	assert.InDelta(t, 0.5, st.ToneWeights["casual"], 1e-9)
}

func TestPersistFailureDegradesToMemory(t *testing.T) {
	store := newMemStore()
	store.failPuts = true
	e := NewEngine(testConfig(), store, nil)

	w := e.ApplyEvolution("session", "positive_interaction")
	assert.Greater(t, w["playful"], 0.15, "in-memory state mutates despite persist failure")

	// Store recovers; the next mutation persists the current state.
	store.failPuts = false
	e.ApplyEvolution("session", "positive_interaction")
	st, ok, err := store.GetPersonaState("session")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, st.History, 2)
}

func TestNormalizeZeroSum(t *testing.T) {
	w := ToneWeights{"a": 0, "b": 0}
	w.Normalize()
	assert.InDelta(t, 0.5, w["a"], 1e-9)
	assert.InDelta(t, 0.5, w["b"], 1e-9)
}

func TestDominant(t *testing.T) {
	w := ToneWeights{"formal": 0.3, "casual": 0.5, "playful": 0.2}
	assert.Equal(t, "casual", w.Dominant())
	tie := ToneWeights{"b": 0.5, "a": 0.5}
	assert.Equal(t, "a", tie.Dominant(), "ties break by name")
	assert.False(t, math.IsNaN(tie["a"]))
}

func TestConcurrentFirstAccessNeverSeesNilState(t *testing.T) {
	e := NewEngine(testConfig(), newMemStore(), nil)

	var bad atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				scopeID := fmt.Sprintf("scope-%d", i)
				if e.GetState(scopeID) == nil {
					bad.Add(1)
				}
				if e.ApplyDrift(scopeID) == nil {
					bad.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, bad.Load(), "first access must always yield an initialized state")
	assert.Len(t, e.ActiveScopes(), 200)
}
