// Package memory keeps per-user audience records: counters for value
// events, a bounded message history and freeform background facts.
// Records decay away after a configured idle period.
package memory

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store loads and saves the full audience map.
type Store interface {
	LoadAudience() (map[string]*UserRecord, error)
	SaveAudience(map[string]*UserRecord) error
}

type UserRecord struct {
	UserID     string            `json:"user_id"`
	Nickname   string            `json:"nickname"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`
	Likes      int               `json:"likes"`
	Gifts      int               `json:"gifts"`
	Follows    int               `json:"follows"`
	Subs       int               `json:"subs"`
	Shares     int               `json:"shares"`
	Joins      int               `json:"joins"`
	Messages   []string          `json:"messages"`
	LastGreet  time.Time         `json:"last_greet"`
	Background map[string]string `json:"background"`
}

// Config mirrors the memory settings section.
type Config struct {
	Enabled        bool
	PerUserHistory int
	DecayDays      int
}

// Book is the in-memory audience ledger backed by a Store. All methods
// are safe for concurrent use.
type Book struct {
	mu    sync.Mutex
	cfg   Config
	users map[string]*UserRecord
	store Store
	log   *slog.Logger
}

// NewBook loads the audience from the store and drops records idle for
// longer than the decay period.
func NewBook(cfg Config, store Store, log *slog.Logger) (*Book, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PerUserHistory <= 0 {
		cfg.PerUserHistory = 100
	}
	users, err := store.LoadAudience()
	if err != nil {
		return nil, fmt.Errorf("load audience: %w", err)
	}
	b := &Book{cfg: cfg, users: users, store: store, log: log}
	b.decayLocked(time.Now())
	log.Info("audience memory loaded", "users", len(b.users))
	return b, nil
}

func (b *Book) userLocked(uid string) *UserRecord {
	u, ok := b.users[uid]
	if !ok {
		now := time.Now()
		u = &UserRecord{
			UserID:     uid,
			FirstSeen:  now,
			LastSeen:   now,
			Background: map[string]string{},
		}
		b.users[uid] = u
	}
	return u
}

// Touch records that the user was seen, updating the nickname when one
// is provided. No-op when memory is disabled.
func (b *Book) Touch(uid, nickname string) {
	if !b.cfg.Enabled || uid == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.userLocked(uid)
	u.LastSeen = time.Now()
	if nickname != "" {
		u.Nickname = nickname
	}
	b.persistLocked()
}

// RememberEvent applies one event to the user's counters. kind is the
// event name; value carries like counts and gift sizes.
func (b *Book) RememberEvent(uid, nickname, kind string, value int, message string) {
	if !b.cfg.Enabled || uid == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.userLocked(uid)
	u.LastSeen = time.Now()
	if nickname != "" {
		u.Nickname = nickname
	}
	switch kind {
	case "like":
		if value <= 0 {
			value = 1
		}
		u.Likes += value
	case "gift":
		if value <= 0 {
			value = 1
		}
		u.Gifts += value
	case "follow":
		u.Follows++
	case "subscribe":
		u.Subs++
	case "share":
		u.Shares++
	case "join":
		u.Joins++
	}
	if message != "" {
		u.Messages = append(u.Messages, message)
		if len(u.Messages) > b.cfg.PerUserHistory {
			u.Messages = u.Messages[len(u.Messages)-b.cfg.PerUserHistory:]
		}
	}
	b.persistLocked()
}

// SetBackground merges freeform facts into the user's background.
func (b *Book) SetBackground(uid string, facts map[string]string) {
	if !b.cfg.Enabled || uid == "" || len(facts) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.userLocked(uid)
	for k, v := range facts {
		u.Background[k] = v
	}
	b.persistLocked()
}

// BackgroundInfo renders the user's background facts as a compact
// "key=value, key=value" line for prompt context. Values are cut at 48
// runes. Unknown users yield an empty string.
func (b *Book) BackgroundInfo(uid string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.users[uid]
	if !ok || len(u.Background) == 0 {
		return ""
	}
	keys := make([]string, 0, len(u.Background))
	for k := range u.Background {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		v := strings.TrimSpace(u.Background[k])
		if k == "" || v == "" {
			continue
		}
		if r := []rune(v); len(r) > 48 {
			v = string(r[:48]) + "…"
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ", ")
}

// LastGreet returns when the user was last greeted, zero if never.
func (b *Book) LastGreet(uid string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[uid]; ok {
		return u.LastGreet
	}
	return time.Time{}
}

func (b *Book) SetLastGreet(uid string, t time.Time) {
	if !b.cfg.Enabled || uid == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.userLocked(uid).LastGreet = t
	b.persistLocked()
}

// Snapshot returns a copy of one user's record, nil when unknown.
func (b *Book) Snapshot(uid string) *UserRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[uid]
	if !ok {
		return nil
	}
	cp := *u
	cp.Messages = append([]string(nil), u.Messages...)
	cp.Background = make(map[string]string, len(u.Background))
	for k, v := range u.Background {
		cp.Background[k] = v
	}
	return &cp
}

// Len returns the number of remembered users.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users)
}

// DecaySweep drops users idle for longer than the decay period and
// persists the result. Returns the number of dropped records.
func (b *Book) DecaySweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := b.decayLocked(time.Now())
	if dropped > 0 {
		b.persistLocked()
		b.log.Info("audience decay sweep", "dropped", dropped, "remaining", len(b.users))
	}
	return dropped
}

func (b *Book) decayLocked(now time.Time) int {
	if b.cfg.DecayDays <= 0 {
		return 0
	}
	cutoff := now.Add(-time.Duration(b.cfg.DecayDays) * 24 * time.Hour)
	dropped := 0
	for uid, u := range b.users {
		if u.LastSeen.Before(cutoff) {
			delete(b.users, uid)
			dropped++
		}
	}
	return dropped
}

// persistLocked saves a deep copy so the store can marshal it on its
// own schedule without racing later mutations of the live records.
func (b *Book) persistLocked() {
	snap := make(map[string]*UserRecord, len(b.users))
	for uid, u := range b.users {
		cp := *u
		cp.Messages = append([]string(nil), u.Messages...)
		cp.Background = make(map[string]string, len(u.Background))
		for k, v := range u.Background {
			cp.Background[k] = v
		}
		snap[uid] = &cp
	}
	if err := b.store.SaveAudience(snap); err != nil {
		b.log.Warn("audience persist failed, keeping in memory", "error", err)
	}
}
