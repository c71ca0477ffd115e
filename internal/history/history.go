// Package history keeps a specialist's iteration history within a token budget.
package history

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies a history entry.
type Kind string

const (
	KindIteration Kind = "iteration"
	KindWarning   Kind = "warning"
	KindUserReply Kind = "user_reply"
	KindSummary   Kind = "summary"
)

// Entry is one line of history shown to the model.
type Entry struct {
	Iteration int    `json:"iteration"`
	Kind      Kind   `json:"kind"`
	Text      string `json:"text"`
}

// Pinned entries survive compression regardless of age.
func (e Entry) Pinned() bool {
	return e.Kind == KindWarning || e.Kind == KindUserReply
}

// EstimateTokens approximates the token count of s at four characters per token.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Compressor fits history into a token budget.
type Compressor struct {
	Budget     int // Total tokens for the rendered history (<= 0 disables the budget)
	EntryMax   int // Per-entry cap applied before compression (<= 0 disables)
	KeepRecent int // Newest non-pinned entries kept verbatim even over budget
}

// New creates a compressor.
func New(budget, entryMax, keepRecent int) *Compressor {
	return &Compressor{Budget: budget, EntryMax: entryMax, KeepRecent: keepRecent}
}

// TruncateEntry shortens text to fit EntryMax tokens, keeping its head and tail.
func (c *Compressor) TruncateEntry(text string) string {
	return truncateTo(text, c.EntryMax)
}

func truncateTo(text string, maxTokens int) string {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text
	}
	runes := []rune(text)
	maxRunes := maxTokens * 4
	marker := fmt.Sprintf("\n...[%d chars truncated]...\n", len(runes)-maxRunes)
	keep := maxRunes - utf8.RuneCountInString(marker)
	if keep <= 0 {
		return string(runes[:maxRunes])
	}
	head := keep * 2 / 3
	tail := keep - head
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:])
}

// Compressed is the result of a compression pass.
type Compressed struct {
	Entries   []Entry // Pinned entries first, then an optional summary, then verbatim entries oldest first
	Condensed int     // Number of entries folded into the summary
	Tokens    int     // Estimated tokens of Entries
}

// Compress pre-truncates every entry and then keeps the newest entries that fit the
// budget. Older entries are folded into one summary entry holding their first lines.
func (c *Compressor) Compress(entries []Entry) Compressed {
	var pinned, rest []Entry
	for _, e := range entries {
		e.Text = c.TruncateEntry(e.Text)
		if e.Pinned() {
			pinned = append(pinned, e)
		} else {
			rest = append(rest, e)
		}
	}

	used := 0
	for _, e := range pinned {
		used += EstimateTokens(e.Text)
	}

	// walk newest to oldest; the first entry that does not fit closes the window
	cut := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := EstimateTokens(rest[i].Text)
		recent := len(rest)-1-i < c.KeepRecent
		if !recent && c.Budget > 0 && used+cost > c.Budget {
			cut = i + 1
			break
		}
		used += cost
	}

	out := Compressed{Entries: append([]Entry{}, pinned...)}
	if cut > 0 {
		remaining := 0
		if c.Budget > 0 {
			remaining = c.Budget - used
		}
		summary := summarize(rest[:cut], remaining, c.Budget > 0)
		out.Entries = append(out.Entries, summary)
		out.Condensed = cut
		used += EstimateTokens(summary.Text)
	}
	out.Entries = append(out.Entries, rest[cut:]...)
	out.Tokens = used
	return out
}

// summarize folds entries into one summary line per entry while the budget allows.
func summarize(entries []Entry, remaining int, bounded bool) Entry {
	header := fmt.Sprintf("%d earlier iterations condensed:", len(entries))
	if bounded && EstimateTokens(header) > remaining {
		return Entry{Iteration: entries[0].Iteration, Kind: KindSummary, Text: fmt.Sprintf("%d omitted", len(entries))}
	}

	var b strings.Builder
	b.WriteString(header)
	for _, e := range entries {
		line := fmt.Sprintf("\n- [%d] %s", e.Iteration, firstLine(e.Text, 120))
		if bounded && EstimateTokens(b.String()+line) > remaining {
			break
		}
		b.WriteString(line)
	}
	return Entry{Iteration: entries[0].Iteration, Kind: KindSummary, Text: b.String()}
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if utf8.RuneCountInString(s) > max {
		s = string([]rune(s)[:max]) + "..."
	}
	return s
}

// Render formats entries as prompt text.
func Render(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.Kind {
		case KindWarning:
			fmt.Fprintf(&b, "[warning] %s", e.Text)
		case KindUserReply:
			fmt.Fprintf(&b, "[user reply] %s", e.Text)
		case KindSummary:
			fmt.Fprintf(&b, "[summary] %s", e.Text)
		default:
			fmt.Fprintf(&b, "[iteration %d] %s", e.Iteration, e.Text)
		}
	}
	return b.String()
}
