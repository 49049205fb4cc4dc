package persona

import "sync"

// Mood is the closed set of mood states derived from the mood score.
type Mood int

const (
	MoodTired Mood = iota
	MoodAnnoyed
	MoodNeutral
	MoodHappy
	MoodHype
)

func (m Mood) String() string {
	switch m {
	case MoodTired:
		return "tired"
	case MoodAnnoyed:
		return "annoyed"
	case MoodHappy:
		return "happy"
	case MoodHype:
		return "hype"
	default:
		return "neutral"
	}
}

// Phrase returns a prompt-facing description of the mood. Prompts see
// phrases, never the raw score.
func (m Mood) Phrase() string {
	switch m {
	case MoodHype:
		return "You are feeling very energetic and excited."
	case MoodHappy:
		return "You are in a good mood, friendly and upbeat."
	case MoodAnnoyed:
		return "You are slightly irritated. Keep replies shorter and more direct."
	case MoodTired:
		return "You are low on energy. Keep replies brief."
	default:
		return "You are feeling balanced and calm."
	}
}

// defaultMoodModifiers maps an observed event name to its score delta.
var defaultMoodModifiers = map[string]float64{
	"gift":          15,
	"follow":        10,
	"subscribe":     12,
	"like":          5,
	"share":         8,
	"join":          3,
	"spam":          -10,
	"positive_chat": 7,
	"negative_chat": -8,
}

// MoodTracker accumulates a bounded mood score from observed events.
// Safe for concurrent use.
type MoodTracker struct {
	mu        sync.Mutex
	score     float64
	modifiers map[string]float64
}

// NewMoodTracker creates a tracker. modifiers may be nil to use the
// defaults; entries override per event name.
func NewMoodTracker(modifiers map[string]float64) *MoodTracker {
	m := make(map[string]float64, len(defaultMoodModifiers))
	for k, v := range defaultMoodModifiers {
		m[k] = v
	}
	for k, v := range modifiers {
		m[k] = v
	}
	return &MoodTracker{modifiers: m}
}

// Observe applies the modifier for the event name and returns the
// resulting mood. Unknown names leave the score unchanged.
func (t *MoodTracker) Observe(eventName string) Mood {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.score += t.modifiers[eventName]
	if t.score > 100 {
		t.score = 100
	}
	if t.score < -100 {
		t.score = -100
	}
	return moodForScore(t.score)
}

// Current returns the mood without observing anything.
func (t *MoodTracker) Current() Mood {
	t.mu.Lock()
	defer t.mu.Unlock()
	return moodForScore(t.score)
}

// Reset returns the tracker to neutral.
func (t *MoodTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.score = 0
}

func moodForScore(s float64) Mood {
	switch {
	case s >= 80:
		return MoodHype
	case s >= 40:
		return MoodHappy
	case s >= -20:
		return MoodNeutral
	case s >= -50:
		return MoodAnnoyed
	default:
		return MoodTired
	}
}
