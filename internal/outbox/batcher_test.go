package outbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushOrderingAndDedup(t *testing.T) {
	b := New(8, 64, nil)
	b.Add("a", false)
	b.Add("b", true)
	b.Add("c", false)
	b.Add("b", true)

	got := b.Flush()
	require.Equal(t, []string{"b", "a", "c"}, got,
		"priority first, duplicates collapsed, enqueue order preserved")
	assert.Zero(t, b.Len())
}

func TestFlushEmptyIsIdempotent(t *testing.T) {
	b := New(8, 64, nil)
	assert.Nil(t, b.Flush())
	assert.Nil(t, b.Flush())
}

func TestBatchCapDefersRemainder(t *testing.T) {
	b := New(3, 64, nil)
	for i := 0; i < 5; i++ {
		b.Add(fmt.Sprintf("n%d", i), false)
	}
	b.Add("p0", true)
	b.Add("p1", true)

	first := b.Flush()
	require.Equal(t, []string{"p0", "p1", "n0"}, first,
		"highest priority, earliest enqueued win the cap")

	second := b.Flush()
	require.Equal(t, []string{"n1", "n2", "n3"}, second,
		"deferred messages keep their order")

	third := b.Flush()
	require.Equal(t, []string{"n4"}, third)
	assert.Nil(t, b.Flush())
}

func TestHardBoundDiscardsOldestNormal(t *testing.T) {
	b := New(4, 4, nil)
	b.Add("old", false)
	b.Add("p", true)
	b.Add("n1", false)
	b.Add("n2", false)
	b.Add("n3", false) // exceeds maxQueued=4, "old" is discarded

	got := b.Flush()
	require.Equal(t, []string{"p", "n1", "n2", "n3"}, got)
}

func TestEmptyTextIgnored(t *testing.T) {
	b := New(8, 64, nil)
	b.Add("   ", false)
	b.Add("", true)
	assert.Zero(t, b.Len())
}

func TestConcurrentAddAndFlush(t *testing.T) {
	b := New(1000, 10000, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Add(fmt.Sprintf("g%d-%d", g, i), i%2 == 0)
			}
		}(g)
	}
	wg.Wait()

	total := 0
	for {
		batch := b.Flush()
		if len(batch) == 0 {
			break
		}
		total += len(batch)
	}
	assert.Equal(t, 800, total)
}

func TestWorkerLeavesErrorReportingToSender(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	b := New(8, 64, log)
	b.Add("doomed", false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Worker(ctx, 10*time.Millisecond, func(context.Context, []string) error {
			return errors.New("channel down")
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	// The send callback owns failure reporting; a second log line here
	// would duplicate it.
	assert.NotContains(t, buf.String(), "channel down")
}

func TestWorkerFlushesOnWindow(t *testing.T) {
	b := New(8, 64, nil)
	b.Add("hello", false)

	var mu sync.Mutex
	var got [][]string
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Worker(ctx, 10*time.Millisecond, func(_ context.Context, batch []string) error {
			mu.Lock()
			got = append(got, batch)
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got)
	assert.Equal(t, []string{"hello"}, got[0])
}
