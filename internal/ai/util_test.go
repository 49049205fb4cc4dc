package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanReply(t *testing.T) {
	assert.Equal(t, "hey there", CleanReply(`"hey there"`))
	assert.Equal(t, "fine", CleanReply("<think>internal musing</think> fine"))
	assert.Equal(t, "ok", CleanReply("  ok  "))
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "one two three", TruncateWords("one two three", 5))
	assert.Equal(t, "one two", TruncateWords("one two three", 2))
	assert.Equal(t, "one two three", TruncateWords("one two three", 0))
}
