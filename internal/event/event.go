package event

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
)

// Kind identifies the type of a live-audience event.
type Kind string

const (
	KindComment   Kind = "comment"
	KindGift      Kind = "gift"
	KindFollow    Kind = "follow"
	KindLike      Kind = "like"
	KindJoin      Kind = "join"
	KindShare     Kind = "share"
	KindSubscribe Kind = "subscribe"
)

// Event is one raw record from the upstream event source.
// An empty UserID is valid (the identity just collides more easily).
type Event struct {
	Kind     Kind   `json:"kind"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Content  string `json:"content"`
	Value    int    `json:"value,omitempty"` // gift repeat count, like count
}

// Signature returns the dedup identity of the event: a SHA1 over
// kind, user id, normalized content and, for value-bearing events, the
// value. Rapid-fire retransmissions of the same logical event collapse
// to one signature. SHA1 is used for dedup only, not for security.
func (e Event) Signature() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString("|")
	b.WriteString(e.UserID)
	b.WriteString("|")
	b.WriteString(strings.ToLower(strings.TrimSpace(e.Content)))
	if e.Value != 0 {
		b.WriteString("|")
		b.WriteString(strconv.Itoa(e.Value))
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// DisplayName returns the nickname, falling back to the user id.
func (e Event) DisplayName() string {
	if e.Nickname != "" {
		return e.Nickname
	}
	return e.UserID
}
