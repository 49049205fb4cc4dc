// Package prompt merges persona state into the base instruction prompt
// and renders refusal decisions. The safety policy is the highest
// priority gate and cannot be overridden by any other configuration.
package prompt

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/keshon/chatpal-brain/internal/persona"
)

// Decision is the outcome of composing: either a canned refusal or a
// final prompt to hand to the text-generation service.
type Decision interface {
	decision()
}

// Refusal carries the canned response substituted for generation.
type Refusal struct {
	Mode string
	Text string
}

// Generation carries the composed instruction prompt.
type Generation struct {
	Prompt string
}

func (Refusal) decision()    {}
func (Generation) decision() {}

// SafetyPolicy is evaluated before any refusal rule.
type SafetyPolicy struct {
	ForbiddenTopics []string `yaml:"forbidden_topics"`
	AlwaysRefuse    bool     `yaml:"always_refuse"`
}

// RefusalRule maps trigger keywords to a named canned response mode.
type RefusalRule struct {
	Triggers []string `yaml:"trigger"`
	Mode     string   `yaml:"mode"`
}

const (
	safetyMode        = "safety"
	safetyMessage     = "I cannot engage with that topic. Let's talk about something else."
	fallbackModeText  = "I'd rather not respond to that."
	defaultInjectMode = "prepend"
)

// Config holds the composer's static configuration.
type Config struct {
	Enabled    bool
	InjectMode string // prepend | append | replace
	BasePrompt string
	Profile    persona.Profile
	Safety     SafetyPolicy
	Rules      []RefusalRule
	Modes      map[string]string // mode name -> canned text
}

// Composer renders compose decisions for one configuration.
type Composer struct {
	cfg Config
	log *slog.Logger
}

// NewComposer creates a composer. An unknown inject mode falls back to
// prepend with a warning, matching load-time validation semantics.
func NewComposer(cfg Config, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	switch cfg.InjectMode {
	case "prepend", "append", "replace":
	default:
		if cfg.InjectMode != "" {
			log.Warn("unknown inject mode, using prepend", "mode", cfg.InjectMode)
		}
		cfg.InjectMode = defaultInjectMode
	}
	return &Composer{cfg: cfg, log: log}
}

// Compose evaluates, in order: safety policy, refusal rules, persona
// injection. moodPhrase may be empty. When personality is disabled the
// base prompt passes through untouched.
func (c *Composer) Compose(state *persona.State, moodPhrase, inputText string) Decision {
	if !c.cfg.Enabled {
		return Generation{Prompt: c.cfg.BasePrompt}
	}

	low := strings.ToLower(inputText)

	if c.cfg.Safety.AlwaysRefuse {
		return Refusal{Mode: safetyMode, Text: safetyMessage}
	}
	for _, topic := range c.cfg.Safety.ForbiddenTopics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic != "" && strings.Contains(low, topic) {
			c.log.Warn("safety refusal", "topic", topic)
			return Refusal{Mode: safetyMode, Text: safetyMessage}
		}
	}

	for _, rule := range c.cfg.Rules {
		for _, trig := range rule.Triggers {
			trig = strings.ToLower(strings.TrimSpace(trig))
			if trig == "" || !strings.Contains(low, trig) {
				continue
			}
			text, ok := c.cfg.Modes[rule.Mode]
			if !ok {
				text = fallbackModeText
			}
			c.log.Info("refusal triggered", "mode", rule.Mode, "trigger", trig)
			return Refusal{Mode: rule.Mode, Text: text}
		}
	}

	block := c.personaBlock(state, moodPhrase)
	switch c.cfg.InjectMode {
	case "append":
		return Generation{Prompt: c.cfg.BasePrompt + "\n\n" + block}
	case "replace":
		return Generation{Prompt: block}
	default:
		return Generation{Prompt: block + "\n\n" + c.cfg.BasePrompt}
	}
}

// personaBlock renders the persona description: identity, traits, tone
// mixture summary, stances and mood. The model sees plain language,
// never raw weight numbers beyond the tone percentages.
func (c *Composer) personaBlock(state *persona.State, moodPhrase string) string {
	var parts []string

	p := c.cfg.Profile
	name := p.Name
	if name == "" {
		name = "Assistant"
	}
	if p.Backstory != "" {
		parts = append(parts, fmt.Sprintf("Persona: %s. %s", name, p.Backstory))
	} else {
		parts = append(parts, "Persona: "+name)
	}
	if len(p.KeyTraits) > 0 {
		parts = append(parts, "Key traits: "+strings.Join(p.KeyTraits, ", "))
	}
	if state != nil && len(state.ToneWeights) > 0 {
		parts = append(parts, "Current tone balance: "+ToneSummary(state.ToneWeights, 2))
	}
	if state != nil && len(state.StanceOverrides) > 0 {
		topics := make([]string, 0, len(state.StanceOverrides))
		for topic := range state.StanceOverrides {
			topics = append(topics, topic)
		}
		sort.Strings(topics)
		stances := make([]string, 0, len(topics))
		for _, topic := range topics {
			stances = append(stances, topic+": "+state.StanceOverrides[topic])
		}
		parts = append(parts, "Topic stances: "+strings.Join(stances, "; "))
	}
	if moodPhrase != "" {
		parts = append(parts, moodPhrase)
	}
	return strings.Join(parts, "\n")
}

// ToneSummary renders the top n tones as "casual (50%), formal (30%)".
// Ordering is by weight descending, ties broken by name.
func ToneSummary(w persona.ToneWeights, n int) string {
	tones := w.Tones()
	sort.SliceStable(tones, func(i, j int) bool {
		return w[tones[i]] > w[tones[j]]
	})
	if n > len(tones) {
		n = len(tones)
	}
	out := make([]string, 0, n)
	for _, t := range tones[:n] {
		out = append(out, fmt.Sprintf("%s (%.0f%%)", t, w[t]*100))
	}
	return strings.Join(out, ", ")
}
