// Package brain runs the event-to-reply pipeline: deduplication,
// relevance scoring, persona-aware prompt composition, generation and
// batched delivery. Every stage degrades to "no reply" on failure, the
// process itself never stops over a single event.
package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/keshon/chatpal-brain/internal/ai"
	"github.com/keshon/chatpal-brain/internal/config"
	"github.com/keshon/chatpal-brain/internal/event"
	"github.com/keshon/chatpal-brain/internal/memory"
	"github.com/keshon/chatpal-brain/internal/outbox"
	"github.com/keshon/chatpal-brain/internal/persona"
	"github.com/keshon/chatpal-brain/internal/prompt"
	"github.com/keshon/chatpal-brain/internal/relevance"
)

// Deliverer receives flushed reply batches in emission order.
type Deliverer interface {
	Deliver(ctx context.Context, batch []string) error
}

// Runner owns the pipeline stages and the background workers that
// drive drift, decay and outbox flushing.
type Runner struct {
	cfg       config.Settings
	log       *slog.Logger
	deduper   *event.Deduper
	scorer    *relevance.Scorer
	engine    *persona.Engine
	mood      *persona.MoodTracker
	composer  *prompt.Composer
	provider  ai.Provider
	book      *memory.Book
	batcher   *outbox.Batcher
	deliverer Deliverer
	limiter   *rate.Limiter
	cron      *cron.Cron
	sessionID string

	mu               sync.Mutex
	nextGlobalReply  time.Time
	perUserUntil     map[string]time.Time
	lastOutput       time.Time
	lastJoinAnnounce time.Time
	pendingJoins     map[string]time.Time // display name -> joined at
	likeTally        map[string]int
	lastGreetLocal   map[string]time.Time // fallback when audience memory is disabled
}

// New wires the pipeline from settings. store provides both persona
// and audience persistence.
func New(cfg config.Settings, store PersistentStore, provider ai.Provider, deliverer Deliverer, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default()
	}

	book, err := memory.NewBook(memory.Config{
		Enabled:        cfg.Memory.Enabled,
		PerUserHistory: cfg.Memory.PerUserHistory,
		DecayDays:      cfg.Memory.DecayDays,
	}, store, log)
	if err != nil {
		return nil, fmt.Errorf("audience memory: %w", err)
	}

	scorerCfg := relevance.DefaultConfig()
	scorerCfg.CommandPrefixes = cfg.Comment.IgnorePrefixes
	scorerCfg.IgnoreContains = cfg.Comment.IgnoreContains
	scorerCfg.KeywordsBonus = cfg.Comment.KeywordsBonus
	scorerCfg.Greetings = cfg.Comment.Greetings
	scorerCfg.Thanks = cfg.Comment.Thanks

	engine := persona.NewEngine(persona.Config{
		Defaults:   cfg.Persona.ToneWeights,
		Clamps:     cfg.Persona.Clamps,
		Volatility: cfg.Persona.Volatility,
		Seed:       cfg.Persona.Seed,
		Triggers:   cfg.Persona.Triggers,
	}, store, log)

	composer := prompt.NewComposer(prompt.Config{
		Enabled:    cfg.Persona.Enabled,
		InjectMode: cfg.Persona.InjectMode,
		BasePrompt: cfg.SystemPrompt,
		Profile:    cfg.Persona.Profile,
		Safety:     cfg.Persona.Safety,
		Rules:      cfg.Persona.Refusals,
		Modes:      cfg.Persona.RefusalModes,
	}, log)

	maxPerMin := cfg.Comment.MaxRepliesPerMin
	if maxPerMin <= 0 {
		maxPerMin = 20
	}

	return &Runner{
		cfg:            cfg,
		log:            log,
		deduper:        event.NewDeduper(time.Duration(cfg.DedupeTTL) * time.Second),
		scorer:         relevance.NewScorer(scorerCfg),
		engine:         engine,
		mood:           persona.NewMoodTracker(cfg.Persona.MoodModifiers),
		composer:       composer,
		provider:       provider,
		book:           book,
		batcher:        outbox.New(cfg.Outbox.MaxItems, cfg.Outbox.MaxQueued, log),
		deliverer:      deliverer,
		limiter:        rate.NewLimiter(rate.Limit(float64(maxPerMin)/60.0), maxPerMin),
		cron:           cron.New(),
		sessionID:      "session-" + uuid.NewString(),
		perUserUntil:   map[string]time.Time{},
		pendingJoins:   map[string]time.Time{},
		likeTally:      map[string]int{},
		lastGreetLocal: map[string]time.Time{},
	}, nil
}

// PersistentStore is what the runner needs from the storage layer.
type PersistentStore interface {
	persona.Store
	memory.Store
}

// Run starts the background workers and blocks until ctx is canceled,
// then drains the outbox one last time.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.Persona.Volatility > 0 {
		spec := "@every " + r.cfg.Persona.DriftInterval
		if _, err := r.cron.AddFunc(spec, r.driftAll); err != nil {
			return fmt.Errorf("drift schedule: %w", err)
		}
	}
	if r.cfg.Memory.Enabled {
		if _, err := r.cron.AddFunc("@daily", func() { r.book.DecaySweep() }); err != nil {
			return fmt.Errorf("decay schedule: %w", err)
		}
	}
	r.cron.Start()
	defer r.cron.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.batcher.Worker(ctx, time.Duration(r.cfg.Outbox.WindowSeconds)*time.Second, r.deliver)
	}()
	go func() {
		defer wg.Done()
		r.joinAnnouncer(ctx)
	}()

	r.log.Info("pipeline running", "session", r.sessionID, "scope", r.cfg.Persona.Scope)
	<-ctx.Done()
	wg.Wait()
	return nil
}

// HandleEvent feeds one raw event through the pipeline. Duplicate
// events within the dedup TTL are dropped silently.
func (r *Runner) HandleEvent(ctx context.Context, ev event.Event) {
	if !r.deduper.Admit(ev.Signature()) {
		r.log.Debug("duplicate event dropped", "kind", ev.Kind, "user", ev.UserID)
		return
	}

	r.mood.Observe(string(ev.Kind))

	switch ev.Kind {
	case event.KindComment:
		r.book.RememberEvent(ev.UserID, ev.Nickname, string(ev.Kind), ev.Value, ev.Content)
		r.handleComment(ctx, ev)
	case event.KindLike:
		r.book.RememberEvent(ev.UserID, ev.Nickname, string(ev.Kind), ev.Value, "")
		r.handleLike(ev)
	case event.KindJoin:
		r.book.RememberEvent(ev.UserID, ev.Nickname, string(ev.Kind), ev.Value, "")
		r.handleJoin(ev)
	case event.KindGift, event.KindFollow, event.KindSubscribe, event.KindShare:
		r.book.RememberEvent(ev.UserID, ev.Nickname, string(ev.Kind), ev.Value, "")
		r.announce(ev)
	default:
		r.log.Debug("unknown event kind ignored", "kind", ev.Kind)
	}
}

// FlushNow drains the outbox immediately, bypassing the window.
func (r *Runner) FlushNow(ctx context.Context) {
	r.deliver(ctx, r.batcher.Flush())
}

func (r *Runner) scopeID(userID string) string {
	if r.cfg.Persona.Scope == "user" && userID != "" {
		return "user-" + userID
	}
	return r.sessionID
}

func (r *Runner) handleComment(ctx context.Context, ev event.Event) {
	if !r.cfg.Comment.Enabled {
		return
	}
	text := strings.TrimSpace(ev.Content)
	if len(text) < r.cfg.Comment.MinLength {
		return
	}

	res := r.scorer.Classify(text)
	switch res.Category {
	case relevance.Ignored:
		r.mood.Observe("spam")
		r.engine.ApplyEvolution(r.scopeID(ev.UserID), "spam_detected")
		return
	case relevance.Greeting, relevance.Thanks:
		r.mood.Observe("positive_chat")
	}

	now := time.Now()
	if !r.clearUserCooldown(ev.UserID, now) {
		return
	}

	nick := ev.DisplayName()

	if res.Category == relevance.Greeting && r.cfg.Comment.RespondToGreetings &&
		!strings.Contains(text, "?") && len(strings.Fields(text)) <= 4 {
		greetCD := time.Duration(r.cfg.Comment.GreetingCooldown) * time.Second
		if now.Sub(r.lastGreet(ev.UserID)) >= greetCD && r.clearGlobalGate(now) {
			r.markGreeted(ev.UserID, now)
			r.batcher.Add(nick+" says hi", false)
			r.armCooldowns(ev.UserID, now)
		}
		return
	}

	if res.Category == relevance.Thanks && r.cfg.Comment.RespondToThanks {
		if r.clearGlobalGate(now) {
			r.batcher.Add(nick+" says thanks", false)
			r.armCooldowns(ev.UserID, now)
		}
		return
	}

	if res.Score < r.cfg.Comment.ReplyThreshold {
		return
	}
	if !r.clearGlobalGate(now) {
		return
	}

	reply, ok := r.generateReply(ctx, ev, text)
	if !ok {
		return
	}
	r.batcher.Add("@"+nick+": "+reply, false)
	r.armCooldowns(ev.UserID, now)
}

// generateReply composes the instruction prompt for this user and
// calls the text-generation service. A refusal decision short-circuits
// generation and its canned text becomes the reply.
func (r *Runner) generateReply(ctx context.Context, ev event.Event, text string) (string, bool) {
	state := r.engine.GetState(r.scopeID(ev.UserID))

	decision := r.composer.Compose(state, r.mood.Current().Phrase(), text)
	switch d := decision.(type) {
	case prompt.Refusal:
		return d.Text, true
	case prompt.Generation:
		system := d.Prompt
		if bg := r.book.BackgroundInfo(ev.UserID); bg != "" {
			system += "\nKnown about " + ev.DisplayName() + ": " + bg
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.LLM.RequestTimeout)*time.Second)
		defer cancel()

		reply, err := r.provider.Generate(callCtx, []ai.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: text},
		})
		if err != nil {
			r.log.Warn("generation failed, dropping reply", "user", ev.UserID, "error", err)
			return "", false
		}
		return ai.TruncateWords(reply, r.cfg.LLM.MaxReplyWords), true
	default:
		return "", false
	}
}

func (r *Runner) handleLike(ev event.Event) {
	count := ev.Value
	if count <= 0 {
		count = 1
	}
	r.mu.Lock()
	r.likeTally[ev.UserID] += count
	total := r.likeTally[ev.UserID]
	reached := total >= r.cfg.LikeThreshold
	if reached {
		delete(r.likeTally, ev.UserID)
	}
	r.mu.Unlock()

	if reached {
		r.batcher.Add(fmt.Sprintf("%s liked x%d", ev.DisplayName(), total), r.highPriority(ev.Kind))
	}
}

func (r *Runner) handleJoin(ev event.Event) {
	if !r.cfg.JoinRules.Enabled {
		return
	}
	r.mu.Lock()
	if _, ok := r.pendingJoins[ev.DisplayName()]; !ok {
		r.pendingJoins[ev.DisplayName()] = time.Now()
	}
	r.mu.Unlock()
}

// announce queues a short acknowledgement for a value event. Gifts and
// subscriptions also nudge the persona through the positive trigger.
func (r *Runner) announce(ev event.Event) {
	nick := ev.DisplayName()
	var text string
	switch ev.Kind {
	case event.KindGift:
		count := ev.Value
		if count <= 0 {
			count = 1
		}
		text = fmt.Sprintf("%s sent a gift x%d", nick, count)
	case event.KindFollow:
		text = nick + " followed"
	case event.KindSubscribe:
		text = nick + " subscribed"
	case event.KindShare:
		text = nick + " shared the stream"
	default:
		return
	}

	if ev.Kind == event.KindGift || ev.Kind == event.KindSubscribe {
		r.engine.ApplyEvolution(r.scopeID(ev.UserID), "positive_interaction")
	}
	r.batcher.Add(text, r.highPriority(ev.Kind))
}

func (r *Runner) highPriority(kind event.Kind) bool {
	return r.cfg.EventPriority[string(kind)] >= 2
}

// joinAnnouncer periodically folds pending joins into one greeting
// line, respecting the idle and cooldown rules so greetings never talk
// over regular replies.
func (r *Runner) joinAnnouncer(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if names := r.takeGreetable(time.Now()); len(names) > 0 {
			r.batcher.Add("Joining us: "+strings.Join(names, ", "), false)
		}
	}
}

// takeGreetable returns the pending joiners ready to greet: joined at
// least greet_after seconds ago but still within the active TTL. Stale
// joiners (presumed gone) are dropped without a greeting.
func (r *Runner) takeGreetable(now time.Time) []string {
	greetAfter := time.Duration(r.cfg.JoinRules.GreetAfterSeconds) * time.Second
	activeTTL := time.Duration(r.cfg.JoinRules.ActiveTTLSeconds) * time.Second

	r.mu.Lock()
	defer r.mu.Unlock()

	for n, joined := range r.pendingJoins {
		if now.Sub(joined) > greetAfter+activeTTL {
			delete(r.pendingJoins, n)
		}
	}
	if len(r.pendingJoins) == 0 ||
		now.Sub(r.lastOutput) < time.Duration(r.cfg.JoinRules.MinIdleSinceLastOutputSec)*time.Second ||
		now.Sub(r.lastJoinAnnounce) < time.Duration(r.cfg.JoinRules.GreetGlobalCooldownSec)*time.Second {
		return nil
	}

	var names []string
	for n, joined := range r.pendingJoins {
		if now.Sub(joined) >= greetAfter {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	if len(names) > 20 {
		names = names[:20]
	}
	for _, n := range names {
		delete(r.pendingJoins, n)
	}
	r.lastJoinAnnounce = now
	return names
}

func (r *Runner) driftAll() {
	for _, scopeID := range r.engine.ActiveScopes() {
		r.engine.ApplyDrift(scopeID)
	}
}

func (r *Runner) deliver(ctx context.Context, batch []string) error {
	if len(batch) == 0 {
		return nil
	}
	if err := r.deliverer.Deliver(ctx, batch); err != nil {
		r.log.Error("batch delivery failed", "size", len(batch), "error", err)
		return err
	}
	r.mu.Lock()
	r.lastOutput = time.Now()
	r.mu.Unlock()
	return nil
}

// lastGreet and markGreeted route through the audience book when it is
// enabled; otherwise the runner tracks greet times itself so the
// per-user greeting cooldown keeps applying.
func (r *Runner) lastGreet(userID string) time.Time {
	if r.cfg.Memory.Enabled {
		return r.book.LastGreet(userID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastGreetLocal[userID]
}

func (r *Runner) markGreeted(userID string, now time.Time) {
	if r.cfg.Memory.Enabled {
		r.book.SetLastGreet(userID, now)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastGreetLocal[userID] = now
}

// clearUserCooldown reports whether the user is past their per-user
// reply cooldown.
func (r *Runner) clearUserCooldown(userID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !now.Before(r.perUserUntil[userID])
}

// clearGlobalGate checks the global cooldown and the per-minute rate
// limit in one step. Events over the limit are dropped, not queued.
func (r *Runner) clearGlobalGate(now time.Time) bool {
	r.mu.Lock()
	if now.Before(r.nextGlobalReply) {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()
	return r.limiter.Allow()
}

func (r *Runner) armCooldowns(userID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGlobalReply = now.Add(time.Duration(r.cfg.Comment.GlobalCooldown) * time.Second)
	r.perUserUntil[userID] = now.Add(time.Duration(r.cfg.Comment.PerUserCooldown) * time.Second)
}
