// cmd/chatpal/main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/keshon/chatpal-brain/internal/ai"
	"github.com/keshon/chatpal-brain/internal/brain"
	"github.com/keshon/chatpal-brain/internal/config"
	"github.com/keshon/chatpal-brain/internal/event"
	"github.com/keshon/chatpal-brain/internal/storage"
)

// stdoutDeliverer prints each flushed batch line by line, one reply
// per line, in batch order.
type stdoutDeliverer struct {
	mu sync.Mutex
}

func (d *stdoutDeliverer) Deliver(_ context.Context, batch []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, line := range batch {
		if _, err := fmt.Println(line); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	settingsPath := "settings.yaml"
	if len(os.Args) > 1 {
		settingsPath = os.Args[1]
	}

	cfg, err := config.Load(settingsPath, slog.Default())
	if err != nil {
		slog.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.Level())
	defer closeLog()
	slog.SetDefault(logger)

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	provider := ai.NewOpenAIProvider(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)

	runner, err := brain.New(cfg, store, provider, &stdoutDeliverer{}, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runner.Run(ctx)
	}()

	// Events arrive as JSON lines on stdin, one event per line.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev event.Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				logger.Warn("malformed event line skipped", "error", err)
				continue
			}
			runner.HandleEvent(ctx, ev)
		}
		if err := scanner.Err(); err != nil {
			logger.Error("stdin read failed", "error", err)
		}
		cancel()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logger.Info("received signal, shutting down", "signal", s.String())
		cancel()
	case <-ctx.Done():
	}

	<-errCh
	runner.FlushNow(context.Background())
	logger.Info("pipeline exited cleanly")
}
