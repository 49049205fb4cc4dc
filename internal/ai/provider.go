// Package ai wraps the external text-generation service behind a small
// Provider interface. Calls are bounded by the caller's context; a
// timeout means the reply is dropped upstream, never retried here.
package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider turns composed chat messages into reply text.
type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}
