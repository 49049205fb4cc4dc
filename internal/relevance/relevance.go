// Package relevance classifies free-text comments and scores how much
// a spoken reply is warranted. Scoring is pure string matching over
// configured word lists; given the same text and config the result is
// identical on every call.
package relevance

import (
	"regexp"
	"strings"
)

// Category is the closed set of comment classifications.
type Category int

const (
	Ignored Category = iota
	Greeting
	Thanks
	Question
	Generic
)

func (c Category) String() string {
	switch c {
	case Ignored:
		return "ignored"
	case Greeting:
		return "greeting"
	case Thanks:
		return "thanks"
	case Question:
		return "question"
	default:
		return "generic"
	}
}

// Result is the outcome of classifying one comment.
type Result struct {
	Score    float64
	Category Category
}

// Config holds the word lists and score weights for the scorer.
// Word lists are language-configurable and supplied by the operator.
type Config struct {
	BaseScore       float64
	KeywordBonus    float64
	LengthBonus     float64
	MinWordsForLen  int
	CommandPrefixes []string
	IgnoreContains  []string
	Greetings       []string
	Thanks          []string
	KeywordsBonus   []string
}

// DefaultConfig returns the stock scorer configuration.
func DefaultConfig() Config {
	return Config{
		BaseScore:       0.5,
		KeywordBonus:    0.15,
		LengthBonus:     0.1,
		MinWordsForLen:  5,
		CommandPrefixes: []string{"!", "/"},
		IgnoreContains:  []string{"discord.gg"},
		Greetings: []string{
			"hallo", "hi", "hey", "servus", "moin",
			"guten morgen", "guten abend", "hello",
		},
		Thanks: []string{"danke", "thx", "thanks", "ty", "merci"},
		KeywordsBonus: []string{
			"warum", "wieso", "wie", "wann", "wo", "wer", "was",
			"why", "how", "when", "where", "who", "what", "which",
		},
	}
}

var urlRe = regexp.MustCompile(`(?i)https?://|\bwww\.`)

// Scorer classifies comments against one fixed configuration.
type Scorer struct {
	cfg      Config
	greetRe  *regexp.Regexp
	thanksRe *regexp.Regexp
}

// NewScorer compiles the word lists of cfg into a reusable scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		cfg:      cfg,
		greetRe:  wordListRe(cfg.Greetings),
		thanksRe: wordListRe(cfg.Thanks),
	}
}

// wordListRe builds a case-insensitive whole-word matcher from a list.
// Returns nil for an empty list (matches nothing).
func wordListRe(words []string) *regexp.Regexp {
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Classify scores text and assigns it a category. URLs and command
// prefixes are a hard veto; greetings and thanks are scored to always
// clear any reply threshold.
func (s *Scorer) Classify(text string) Result {
	low := strings.ToLower(strings.TrimSpace(text))
	if low == "" {
		return Result{Score: 0, Category: Ignored}
	}

	if s.vetoed(low) {
		return Result{Score: 0, Category: Ignored}
	}

	if s.greetRe != nil && s.greetRe.MatchString(low) {
		return Result{Score: 1.0, Category: Greeting}
	}
	if s.thanksRe != nil && s.thanksRe.MatchString(low) {
		return Result{Score: 1.0, Category: Thanks}
	}

	score := s.cfg.BaseScore
	words := strings.Fields(low)
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[strings.Trim(w, ".,!?;:")] = struct{}{}
	}
	// Each configured keyword counts at most once.
	for _, kw := range s.cfg.KeywordsBonus {
		if _, ok := wordSet[strings.ToLower(kw)]; ok {
			score += s.cfg.KeywordBonus
		}
	}
	if len(words) >= s.cfg.MinWordsForLen {
		score += s.cfg.LengthBonus
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	cat := Generic
	if strings.Contains(low, "?") {
		cat = Question
	}
	return Result{Score: score, Category: cat}
}

func (s *Scorer) vetoed(low string) bool {
	for _, p := range s.cfg.CommandPrefixes {
		if p != "" && strings.HasPrefix(low, p) {
			return true
		}
	}
	if urlRe.MatchString(low) {
		return true
	}
	for _, c := range s.cfg.IgnoreContains {
		if c != "" && strings.Contains(low, strings.ToLower(c)) {
			return true
		}
	}
	return false
}
