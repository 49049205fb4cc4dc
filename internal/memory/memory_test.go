package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved map[string]*UserRecord
}

func (s *memStore) LoadAudience() (map[string]*UserRecord, error) {
	if s.saved == nil {
		return map[string]*UserRecord{}, nil
	}
	return s.saved, nil
}

func (s *memStore) SaveAudience(users map[string]*UserRecord) error {
	s.saved = users
	return nil
}

func newTestBook(t *testing.T, store *memStore) *Book {
	t.Helper()
	b, err := NewBook(Config{Enabled: true, PerUserHistory: 3, DecayDays: 90}, store, nil)
	require.NoError(t, err)
	return b
}

func TestRememberEventCounters(t *testing.T) {
	b := newTestBook(t, &memStore{})

	b.RememberEvent("u1", "Ann", "gift", 5, "")
	b.RememberEvent("u1", "", "follow", 0, "")
	b.RememberEvent("u1", "", "like", 0, "")

	u := b.Snapshot("u1")
	require.NotNil(t, u)
	assert.Equal(t, "Ann", u.Nickname)
	assert.Equal(t, 5, u.Gifts)
	assert.Equal(t, 1, u.Follows)
	assert.Equal(t, 1, u.Likes, "like without count defaults to one")
}

func TestMessageHistoryBounded(t *testing.T) {
	b := newTestBook(t, &memStore{})
	for _, m := range []string{"one", "two", "three", "four"} {
		b.RememberEvent("u1", "", "comment", 0, m)
	}
	u := b.Snapshot("u1")
	require.NotNil(t, u)
	assert.Equal(t, []string{"two", "three", "four"}, u.Messages)
}

func TestBackgroundInfoFormatting(t *testing.T) {
	b := newTestBook(t, &memStore{})
	b.Touch("u1", "Ann")
	b.SetBackground("u1", map[string]string{"city": "Berlin", "pet": "corgi"})

	assert.Equal(t, "city=Berlin, pet=corgi", b.BackgroundInfo("u1"))
	assert.Empty(t, b.BackgroundInfo("stranger"))
}

func TestDecaySweepDropsStaleUsers(t *testing.T) {
	store := &memStore{saved: map[string]*UserRecord{
		"stale": {UserID: "stale", LastSeen: time.Now().Add(-100 * 24 * time.Hour)},
		"fresh": {UserID: "fresh", LastSeen: time.Now()},
	}}
	b := newTestBook(t, store)

	assert.Equal(t, 1, b.Len(), "stale user dropped at load")
	assert.Nil(t, b.Snapshot("stale"))
	assert.NotNil(t, b.Snapshot("fresh"))
	assert.Zero(t, b.DecaySweep())
}

func TestDisabledMemoryIsInert(t *testing.T) {
	store := &memStore{}
	b, err := NewBook(Config{Enabled: false}, store, nil)
	require.NoError(t, err)

	b.RememberEvent("u1", "Ann", "gift", 1, "")
	b.Touch("u1", "Ann")
	assert.Zero(t, b.Len())
}

func TestLastGreetRoundtrip(t *testing.T) {
	b := newTestBook(t, &memStore{})
	assert.True(t, b.LastGreet("u1").IsZero())
	now := time.Now()
	b.SetLastGreet("u1", now)
	assert.Equal(t, now, b.LastGreet("u1"))
}
