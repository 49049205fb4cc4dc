package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoodTransitions(t *testing.T) {
	m := NewMoodTracker(nil)
	assert.Equal(t, MoodNeutral, m.Current())

	// Six gifts push the score to 90.
	var mood Mood
	for i := 0; i < 6; i++ {
		mood = m.Observe("gift")
	}
	assert.Equal(t, MoodHype, mood)

	// Score is clamped, so recovery from spam is gradual but bounded.
	for i := 0; i < 30; i++ {
		mood = m.Observe("spam")
	}
	assert.Equal(t, MoodTired, mood)

	m.Reset()
	assert.Equal(t, MoodNeutral, m.Current())
}

func TestMoodUnknownEventIsNoop(t *testing.T) {
	m := NewMoodTracker(nil)
	assert.Equal(t, MoodNeutral, m.Observe("comment"))
}

func TestMoodCustomModifiers(t *testing.T) {
	m := NewMoodTracker(map[string]float64{"gift": 100})
	assert.Equal(t, MoodHype, m.Observe("gift"))
}

func TestMoodPhraseNeverEmpty(t *testing.T) {
	for _, mood := range []Mood{MoodTired, MoodAnnoyed, MoodNeutral, MoodHappy, MoodHype} {
		assert.NotEmpty(t, mood.Phrase())
		assert.NotEmpty(t, mood.String())
	}
}
