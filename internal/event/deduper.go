package event

import (
	"sort"
	"sync"
	"time"
)

const (
	// sweepAbove triggers an expiry sweep inside Admit once the cache
	// holds this many signatures.
	sweepAbove = 1000
	// hardCap bounds the cache against distinct-signature churn; above
	// it the oldest entries are discarded down to trimTo.
	hardCap = 5000
	trimTo  = 4000
)

// Deduper rejects events whose signature was already seen within the
// TTL window. Safe for concurrent use.
type Deduper struct {
	ttl  time.Duration
	mu   sync.Mutex
	seen map[string]time.Time // signature -> first seen
}

// NewDeduper creates a deduper with the given TTL window.
func NewDeduper(ttl time.Duration) *Deduper {
	return &Deduper{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// Admit reports whether the signature is new within the TTL window,
// recording it as seen when admitted.
func (d *Deduper) Admit(sig string) bool {
	return d.AdmitAt(sig, time.Now())
}

// AdmitAt is Admit with an explicit clock, used by callers that batch
// events with a single timestamp and by tests.
func (d *Deduper) AdmitAt(sig string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.seen) > sweepAbove {
		d.sweepLocked(now)
	}

	if first, ok := d.seen[sig]; ok {
		if now.Sub(first) < d.ttl {
			return false
		}
		// Expired entry: the same signature counts as a new event.
	}

	d.seen[sig] = now

	if len(d.seen) > hardCap {
		d.trimLocked()
	}
	return true
}

// Len returns the number of cached signatures.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) sweepLocked(now time.Time) {
	for sig, first := range d.seen {
		if now.Sub(first) >= d.ttl {
			delete(d.seen, sig)
		}
	}
}

func (d *Deduper) trimLocked() {
	type entry struct {
		sig   string
		first time.Time
	}
	entries := make([]entry, 0, len(d.seen))
	for sig, first := range d.seen {
		entries = append(entries, entry{sig, first})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].first.Before(entries[j].first)
	})
	for i := 0; i < len(entries)-trimTo; i++ {
		delete(d.seen, entries[i].sig)
	}
}
