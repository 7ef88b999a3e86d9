package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AppendFunc appends one message to the chat log. The renderer and poller
// receive this narrow capability instead of a reference to the log itself.
type AppendFunc func(Message)

// Renderer reveals one long assistant reply as a sequence of sentence-sized
// log entries with a fixed delay between them.
type Renderer struct {
	Delay time.Duration
}

// NewRenderer creates a new Renderer instance
func NewRenderer(delay time.Duration) *Renderer {
	return &Renderer{Delay: delay}
}

// Deliver splits text into sentence units and appends one message per unit,
// sleeping Delay between units. Message ids are "{baseID}-{index}". One call
// is one logical operation: the caller must not start a second delivery on
// the same log until this one returns.
func (r *Renderer) Deliver(ctx context.Context, baseID, author, text string, append AppendFunc) error {
	units := SplitSentences(StripEmphasis(text))
	for i, unit := range units {
		append(Message{
			ID:        fmt.Sprintf("%s-%d", baseID, i),
			Role:      RoleAssistant,
			Author:    author,
			Content:   unit,
			Timestamp: time.Now(),
		})
		if i == len(units)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	return nil
}

// StripEmphasis removes the emphasis markup the backend wraps around tickers.
func StripEmphasis(text string) string {
	return strings.ReplaceAll(text, "*", "")
}

// SplitSentences splits text into sentence-like units. A unit ends at a run
// of sentence terminators followed by whitespace or end of text, so decimals
// like "3.14" stay intact. Text with no terminators is one unit.
func SplitSentences(text string) []string {
	var units []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !isTerminator(text[i]) {
			continue
		}
		end := i + 1
		for end < len(text) && isTerminator(text[end]) {
			end++
		}
		if end < len(text) && !isSpace(text[end]) {
			i = end - 1
			continue
		}
		if unit := strings.TrimSpace(text[start:end]); unit != "" {
			units = append(units, unit)
		}
		start = end
		i = end - 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		units = append(units, rest)
	}
	if len(units) == 0 {
		units = []string{text}
	}
	return units
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
