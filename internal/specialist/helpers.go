package specialist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/docplan/internal/history"
	"github.com/vinayprograms/docplan/internal/parser"
	"github.com/vinayprograms/docplan/internal/toolexec"
)

// truncateForLog truncates a string for logging purposes.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// summaryArgLen and summaryResultLen bound the condensed history line.
const (
	summaryArgLen    = 120
	summaryResultLen = 300
)

// summarizeIteration condenses an iteration's plan and results into one
// history entry. The first line carries the gist so summaries stay readable
// after compression keeps only first lines.
func summarizeIteration(content string, calls []parser.ToolCall, results []toolexec.Result) string {
	var b strings.Builder
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	failures := 0
	for _, r := range results {
		if !r.Success {
			failures++
		}
	}
	fmt.Fprintf(&b, "called %s", strings.Join(names, ", "))
	if failures > 0 {
		fmt.Fprintf(&b, " (%d failed)", failures)
	}
	if content != "" {
		b.WriteString("\nthought: " + truncateForLog(firstLine(content), summaryResultLen))
	}
	for i, c := range calls {
		args, _ := json.Marshal(c.Args)
		fmt.Fprintf(&b, "\n%s(%s)", c.Name, truncateForLog(string(args), summaryArgLen))
		if i < len(results) {
			r := results[i]
			status := "ok"
			if !r.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&b, " -> %s: %s", status, truncateForLog(resultText(r), summaryResultLen))
		}
	}
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// successfulResults joins the text of successful, non-control tool results.
func successfulResults(results []toolexec.Result) string {
	var parts []string
	for _, r := range results {
		if !r.Success || r.Tool == toolexec.ToolNote || r.Tool == toolexec.ToolAskUser {
			continue
		}
		if text := resultText(r); text != "" && text != "ok" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}

// appendWarning adds a warning unless it repeats the previous entry.
func appendWarning(entries []history.Entry, iteration int, text string) []history.Entry {
	if n := len(entries); n > 0 && entries[n-1].Kind == history.KindWarning && entries[n-1].Text == text {
		return entries
	}
	return append(entries, history.Entry{Iteration: iteration, Kind: history.KindWarning, Text: text})
}

// prependWarning puts a warning at the top of history, dropping earlier
// copies of the same text.
func prependWarning(entries []history.Entry, iteration int, text string) []history.Entry {
	out := make([]history.Entry, 0, len(entries)+1)
	out = append(out, history.Entry{Iteration: iteration, Kind: history.KindWarning, Text: text})
	for _, e := range entries {
		if e.Kind == history.KindWarning && e.Text == text {
			continue
		}
		out = append(out, e)
	}
	return out
}
