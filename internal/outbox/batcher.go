// Package outbox collects approved outgoing messages into
// priority-ordered, deduplicated, size-capped batches. The flush
// window, not message content, drives output cadence.
package outbox

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type message struct {
	text       string
	enqueuedAt time.Time
}

// Batcher queues messages in two priority tiers. Add is safe to call
// concurrently with Flush; Flush drains atomically.
type Batcher struct {
	mu        sync.Mutex
	high      []message
	normal    []message
	maxItems  int
	maxQueued int
	log       *slog.Logger
}

// New creates a batcher. maxItems caps a single batch; maxQueued is
// the hard bound on total queued messages across both tiers.
func New(maxItems, maxQueued int, log *slog.Logger) *Batcher {
	if log == nil {
		log = slog.Default()
	}
	if maxItems <= 0 {
		maxItems = 8
	}
	if maxQueued < maxItems {
		maxQueued = maxItems * 16
	}
	return &Batcher{maxItems: maxItems, maxQueued: maxQueued, log: log}
}

// Add enqueues a message. Empty text is ignored. When the hard queue
// bound is exceeded the oldest normal-priority message is discarded to
// protect memory; nothing else is ever silently dropped.
func (b *Batcher) Add(text string, priority bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	m := message{text: text, enqueuedAt: time.Now()}
	if priority {
		b.high = append(b.high, m)
	} else {
		b.normal = append(b.normal, m)
	}

	for len(b.high)+len(b.normal) > b.maxQueued {
		if len(b.normal) > 0 {
			b.log.Warn("outbox full, discarding oldest message", "text", b.normal[0].text)
			b.normal = b.normal[1:]
			continue
		}
		// All queued messages are high priority; drop the oldest one
		// anyway so the queue stays bounded.
		b.log.Warn("outbox full of priority messages, discarding oldest", "text", b.high[0].text)
		b.high = b.high[1:]
	}
}

// Flush drains up to maxItems messages: priority tier first, enqueue
// order within each tier, duplicate texts collapsed keeping the first
// occurrence. Messages beyond the cap stay queued for the next flush.
// Flushing empty queues returns nil with no side effect.
func (b *Batcher) Flush() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.high)+len(b.normal) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var batch []string
	var keptHigh, keptNormal []message

	take := func(queue []message, kept *[]message) {
		for _, m := range queue {
			if _, dup := seen[m.text]; dup {
				continue // duplicate within this flush, drop it
			}
			if len(batch) >= b.maxItems {
				*kept = append(*kept, m)
				continue
			}
			seen[m.text] = struct{}{}
			batch = append(batch, m.text)
		}
	}
	take(b.high, &keptHigh)
	take(b.normal, &keptNormal)

	b.high = keptHigh
	b.normal = keptNormal
	return batch
}

// Len returns the total number of queued messages.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.high) + len(b.normal)
}

// Worker flushes on the fixed batch window and hands each batch to
// send. Failures are never retried here; reporting them is the
// callback's responsibility. On shutdown a final drain attempt runs
// before returning.
func (b *Batcher) Worker(ctx context.Context, window time.Duration, send func(context.Context, []string) error) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.deliver(context.Background(), send)
			return
		case <-ticker.C:
			b.deliver(ctx, send)
		}
	}
}

func (b *Batcher) deliver(ctx context.Context, send func(context.Context, []string) error) {
	batch := b.Flush()
	if len(batch) == 0 {
		return
	}
	_ = send(ctx, batch)
}
