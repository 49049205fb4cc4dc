// Package config loads runtime settings: built-in defaults, overlaid
// by an optional YAML file, overridden by environment variables for
// secrets and paths. Malformed values disable the feature they belong
// to instead of stopping the process.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/keshon/chatpal-brain/internal/persona"
	"github.com/keshon/chatpal-brain/internal/prompt"
)

type CommentSettings struct {
	Enabled            bool     `yaml:"enabled"`
	GlobalCooldown     int      `yaml:"global_cooldown"`
	PerUserCooldown    int      `yaml:"per_user_cooldown"`
	MinLength          int      `yaml:"min_length"`
	MaxRepliesPerMin   int      `yaml:"max_replies_per_min"`
	ReplyThreshold     float64  `yaml:"reply_threshold"`
	RespondToGreetings bool     `yaml:"respond_to_greetings"`
	GreetingCooldown   int      `yaml:"greeting_cooldown"`
	RespondToThanks    bool     `yaml:"respond_to_thanks"`
	IgnorePrefixes     []string `yaml:"ignore_if_startswith"`
	IgnoreContains     []string `yaml:"ignore_contains"`
	KeywordsBonus      []string `yaml:"keywords_bonus"`
	Greetings          []string `yaml:"greetings"`
	Thanks             []string `yaml:"thanks"`
}

type OutboxSettings struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxItems      int `yaml:"max_items"`
	MaxQueued     int `yaml:"max_queued"`
}

type PersonaSettings struct {
	Enabled       bool                       `yaml:"enabled"`
	Scope         string                     `yaml:"scope"` // session | user
	Seed          int64                      `yaml:"seed"`
	Volatility    float64                    `yaml:"volatility"`
	DriftInterval string                     `yaml:"drift_interval"`
	InjectMode    string                     `yaml:"inject_mode"`
	Profile       persona.Profile            `yaml:"profile"`
	ToneWeights   persona.ToneWeights        `yaml:"tone_weights"`
	Clamps        map[string]persona.Clamp   `yaml:"clamps"`
	Triggers      map[string]persona.Trigger `yaml:"triggers"`
	Safety        prompt.SafetyPolicy        `yaml:"safety"`
	Refusals      []prompt.RefusalRule       `yaml:"refusals"`
	RefusalModes  map[string]string          `yaml:"refusal_modes"`
	MoodModifiers map[string]float64         `yaml:"mood_modifiers"`
}

type LLMSettings struct {
	BaseURL        string `yaml:"base_url" env:"LLM_BASE_URL"`
	APIKey         string `yaml:"api_key" env:"LLM_API_KEY"`
	Model          string `yaml:"model" env:"LLM_MODEL"`
	RequestTimeout int    `yaml:"request_timeout"`
	MaxReplyWords  int    `yaml:"max_reply_words"`
}

type MemorySettings struct {
	Enabled        bool `yaml:"enabled"`
	PerUserHistory int  `yaml:"per_user_history"`
	DecayDays      int  `yaml:"decay_days"`
}

type JoinRuleSettings struct {
	Enabled                   bool `yaml:"enabled"`
	GreetAfterSeconds         int  `yaml:"greet_after_seconds"`
	ActiveTTLSeconds          int  `yaml:"active_ttl_seconds"`
	MinIdleSinceLastOutputSec int  `yaml:"min_idle_since_last_output_sec"`
	GreetGlobalCooldownSec    int  `yaml:"greet_global_cooldown_sec"`
}

type Settings struct {
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH"`
	LogFile     string `yaml:"log_file" env:"LOG_FILE"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`

	SystemPrompt  string         `yaml:"system_prompt"`
	DedupeTTL     int            `yaml:"dedupe_ttl"`
	LikeThreshold int            `yaml:"like_threshold"`
	EventPriority map[string]int `yaml:"event_priority"`

	Comment   CommentSettings  `yaml:"comment"`
	Outbox    OutboxSettings   `yaml:"outbox"`
	Persona   PersonaSettings  `yaml:"persona"`
	LLM       LLMSettings      `yaml:"llm"`
	Memory    MemorySettings   `yaml:"memory"`
	JoinRules JoinRuleSettings `yaml:"join_rules"`
}

// Defaults returns the built-in configuration. Every feature that
// needs no external credentials is enabled out of the box.
func Defaults() Settings {
	return Settings{
		StoragePath: "datastore.json",
		LogFile:     "chatpal.log",
		LogLevel:    "info",

		SystemPrompt:  "Neutral assistant: precise, short answers based on chat context and memory.",
		DedupeTTL:     600,
		LikeThreshold: 20,
		EventPriority: map[string]int{
			"gift": 3, "follow": 2, "subscribe": 3, "share": 2, "like": 1, "join": 1,
		},

		Comment: CommentSettings{
			Enabled:            true,
			GlobalCooldown:     6,
			PerUserCooldown:    15,
			MinLength:          3,
			MaxRepliesPerMin:   20,
			ReplyThreshold:     0.6,
			RespondToGreetings: true,
			GreetingCooldown:   360,
			RespondToThanks:    true,
			IgnorePrefixes:     []string{"!", "/"},
			IgnoreContains:     []string{"discord.gg"},
			KeywordsBonus: []string{
				"why", "how", "when", "where", "who", "what", "which",
				"how much", "how many",
			},
			Greetings: []string{"hello", "hi", "hey", "yo", "good morning", "good evening"},
			Thanks:    []string{"thanks", "thank you", "thx", "ty", "merci"},
		},
		Outbox: OutboxSettings{WindowSeconds: 8, MaxItems: 8, MaxQueued: 128},
		Persona: PersonaSettings{
			Enabled:       true,
			Scope:         "session",
			Volatility:    0.02,
			DriftInterval: "5m",
			InjectMode:    "prepend",
			Profile: persona.Profile{
				Name:      "Cid",
				Backstory: "A cheerful stream companion who lives for the chat.",
				KeyTraits: []string{"curious", "upbeat"},
			},
			ToneWeights: persona.ToneWeights{
				"formal": 0.3, "casual": 0.5, "playful": 0.15, "sarcastic": 0.05,
			},
			Clamps: map[string]persona.Clamp{
				"formal":    {Min: 0.1, Max: 0.6},
				"casual":    {Min: 0.2, Max: 0.7},
				"playful":   {Min: 0.05, Max: 0.4},
				"sarcastic": {Min: 0.0, Max: 0.2},
			},
			Triggers: map[string]persona.Trigger{
				"positive_interaction": {Magnitude: 0.02, TargetTone: "playful"},
				"spam_detected":        {Magnitude: 0.05, TargetTone: "formal"},
			},
		},
		LLM: LLMSettings{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			RequestTimeout: 10,
			MaxReplyWords:  18,
		},
		Memory:    MemorySettings{Enabled: true, PerUserHistory: 100, DecayDays: 90},
		JoinRules: JoinRuleSettings{Enabled: true, GreetAfterSeconds: 30, ActiveTTLSeconds: 45, MinIdleSinceLastOutputSec: 25, GreetGlobalCooldownSec: 180},
	}
}

// Load reads settings from path (skipped when the file is absent),
// then applies environment overrides and validates. A .env file in the
// working directory is honored the same way system env vars are.
func Load(path string, log *slog.Logger) (Settings, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using system environment")
	}

	s := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			log.Info("settings file absent, using defaults", "path", path)
		case err != nil:
			return s, fmt.Errorf("read settings: %w", err)
		default:
			if err := yaml.Unmarshal(data, &s); err != nil {
				return s, fmt.Errorf("parse settings: %w", err)
			}
		}
	}

	if err := env.Parse(&s); err != nil {
		return s, fmt.Errorf("env overrides: %w", err)
	}

	s.validate(log)
	return s, nil
}

// validate disables features whose configuration is malformed. The
// pipeline keeps running with the remaining features.
func (s *Settings) validate(log *slog.Logger) {
	if s.Comment.ReplyThreshold <= 0 || s.Comment.ReplyThreshold > 1 {
		log.Warn("reply threshold out of range, disabling comment replies",
			"threshold", s.Comment.ReplyThreshold)
		s.Comment.Enabled = false
	}
	for tone, c := range s.Persona.Clamps {
		if c.Min > c.Max {
			log.Warn("tone clamp min exceeds max, disabling drift and evolution",
				"tone", tone, "min", c.Min, "max", c.Max)
			s.Persona.Volatility = 0
			s.Persona.Triggers = nil
			break
		}
	}
	if s.Persona.Scope != "session" && s.Persona.Scope != "user" {
		log.Warn("unknown persona scope, using session", "scope", s.Persona.Scope)
		s.Persona.Scope = "session"
	}
	if s.DedupeTTL <= 0 {
		s.DedupeTTL = 600
	}
	if s.Outbox.WindowSeconds <= 0 {
		s.Outbox.WindowSeconds = 8
	}
	if s.LLM.RequestTimeout <= 0 {
		s.LLM.RequestTimeout = 10
	}
	if _, err := time.ParseDuration(s.Persona.DriftInterval); err != nil {
		log.Warn("bad drift interval, using 5m", "value", s.Persona.DriftInterval)
		s.Persona.DriftInterval = "5m"
	}
}

// Level parses the configured log level, defaulting to info.
func (s *Settings) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
