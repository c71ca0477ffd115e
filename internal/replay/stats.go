package replay

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/docplan/internal/session"
)

// Stats holds aggregate statistics for a journal.
type Stats struct {
	TotalDurationMs int64

	StepsCompleted int
	StepsFailed    int
	StepDurations  map[int]int64

	// Iterations per specialist
	Iterations map[string]int
	IterTotal  int
	IterAvgMs  int64

	ToolCalls    int
	ToolFailures int

	FormatErrors       int
	ModelRetries       int
	ValidationFailures int
	Interactions       int
	Resumes            int
}

// ComputeStats aggregates statistics from journal events.
func ComputeStats(sess *session.Session) *Stats {
	stats := &Stats{
		StepDurations: make(map[int]int64),
		Iterations:    make(map[string]int),
	}

	var first, last time.Time
	var iterMs int64
	for _, event := range sess.Events {
		if first.IsZero() || event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}

		switch event.Type {
		case session.EventStepEnd:
			stats.StepDurations[event.Step] += event.DurationMs
			if event.Success != nil && *event.Success {
				stats.StepsCompleted++
			} else {
				stats.StepsFailed++
			}
		case session.EventIteration:
			stats.Iterations[event.Specialist]++
			stats.IterTotal++
			iterMs += event.DurationMs
		case session.EventToolResult:
			stats.ToolCalls++
			if event.Success != nil && !*event.Success {
				stats.ToolFailures++
			}
		case session.EventFormatError:
			stats.FormatErrors++
		case session.EventModelRetry:
			stats.ModelRetries++
		case session.EventValidation:
			if event.Success != nil && !*event.Success {
				stats.ValidationFailures++
			}
		case session.EventInteraction:
			stats.Interactions++
		case session.EventResume:
			stats.Resumes++
		}
	}

	if !first.IsZero() {
		stats.TotalDurationMs = last.Sub(first).Milliseconds()
	}
	if stats.IterTotal > 0 {
		stats.IterAvgMs = iterMs / int64(stats.IterTotal)
	}
	return stats
}

// PrintStats writes the statistics.
func PrintStats(w io.Writer, stats *Stats) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("═══════════════════════════════════════════════════════════════════"))
	fmt.Fprintln(w, headerStyle.Render("                         PLAN STATISTICS                            "))
	fmt.Fprintln(w, headerStyle.Render("═══════════════════════════════════════════════════════════════════"))
	fmt.Fprintln(w)

	line := func(indent, label, value string) {
		fmt.Fprintf(w, "%s%s %s\n", indent, labelStyle.Render(label), valueStyle.Render(value))
	}

	line("", "Total Duration:", formatDuration(stats.TotalDurationMs))
	line("", "Steps:", fmt.Sprintf("%d completed, %d failed", stats.StepsCompleted, stats.StepsFailed))
	fmt.Fprintln(w)

	if len(stats.StepDurations) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Step Durations:"))
		steps := make([]int, 0, len(stats.StepDurations))
		for s := range stats.StepDurations {
			steps = append(steps, s)
		}
		sort.Ints(steps)
		for _, s := range steps {
			line("  ", fmt.Sprintf("step %d:", s), formatDuration(stats.StepDurations[s]))
		}
		fmt.Fprintln(w)
	}

	if stats.IterTotal > 0 {
		fmt.Fprintln(w, headerStyle.Render("Specialist Iterations:"))
		ids := make([]string, 0, len(stats.Iterations))
		for id := range stats.Iterations {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			line("  ", id+":", fmt.Sprintf("%d", stats.Iterations[id]))
		}
		line("  ", "Average:", formatDuration(stats.IterAvgMs))
		fmt.Fprintln(w)
	}

	if stats.ToolCalls > 0 {
		line("", "Tool Calls:", fmt.Sprintf("%d (%d failed)", stats.ToolCalls, stats.ToolFailures))
	}
	if stats.FormatErrors > 0 || stats.ModelRetries > 0 {
		line("", "Recoveries:", fmt.Sprintf("%d format errors, %d model retries", stats.FormatErrors, stats.ModelRetries))
	}
	if stats.ValidationFailures > 0 {
		line("", "Validation Failures:", fmt.Sprintf("%d", stats.ValidationFailures))
	}
	if stats.Interactions > 0 {
		line("", "Questions:", fmt.Sprintf("%d asked, %d resumed", stats.Interactions, stats.Resumes))
	}
}

// formatDuration formats milliseconds as a human-readable duration.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm%ds", mins, secs)
}
