package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/vinayprograms/docplan/internal/events"
	"github.com/vinayprograms/docplan/internal/plan"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	askStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// console prints progress events and results.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	width int
}

func newConsole(out io.Writer) *console {
	return &console{out: out, width: 80}
}

// event renders one progress event as a single line.
func (c *console) event(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case events.PlanStarted:
		fmt.Fprintf(c.out, "%s %s\n", headerStyle.Render("▶ plan"), evt.PlanID)
	case events.StepStarted:
		fmt.Fprintf(c.out, "  %s %s %s\n", stepStyle.Render(fmt.Sprintf("[%d]", evt.Step)), evt.Specialist, dimStyle.Render(truncate(evt.Message, 60)))
	case events.StepCompleted:
		fmt.Fprintf(c.out, "  %s %s\n", okStyle.Render(fmt.Sprintf("✓ [%d]", evt.Step)), dimStyle.Render(truncate(evt.Message, 70)))
	case events.StepFailed:
		fmt.Fprintf(c.out, "  %s %s\n", failStyle.Render(fmt.Sprintf("✗ [%d]", evt.Step)), truncate(evt.Message, 100))
	case events.InteractionRequired:
		fmt.Fprintf(c.out, "  %s %s\n", askStyle.Render(fmt.Sprintf("? [%d]", evt.Step)), evt.Message)
	case events.PlanFinished:
		fmt.Fprintf(c.out, "%s %s\n", headerStyle.Render("■ "+evt.Intent), dimStyle.Render(evt.Message))
	}
}

// result prints a boxed summary of an execution result.
func (c *console) result(res *plan.Result, resumeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.WriteString(intentStyle(res.Intent).Render(string(res.Intent)))
	b.WriteString("\n")
	b.WriteString(res.Summary)
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d  %s %dms", dimStyle.Render("results:"), len(res.Results), dimStyle.Render("elapsed:"), res.ElapsedMs)
	if res.JournalID != "" {
		fmt.Fprintf(&b, "\n%s %s", dimStyle.Render("journal:"), res.JournalID)
	}

	switch res.Intent {
	case plan.IntentCompleted:
		if res.Output != nil && res.Output.Content != "" {
			b.WriteString("\n\n")
			b.WriteString(indent.String(wordwrap.String(truncate(res.Output.Content, 1200), c.width-8), 2))
		}
		if res.Session.LastModified != "" {
			fmt.Fprintf(&b, "\n%s %s", dimStyle.Render("last modified:"), res.Session.LastModified)
		}
	case plan.IntentInteraction:
		fmt.Fprintf(&b, "\n\n%s %s", askStyle.Render("question:"), wordwrap.String(res.Question, c.width-14))
		if resumeID != "" {
			fmt.Fprintf(&b, "\n%s docplan resume %s --reply \"...\"", dimStyle.Render("continue with:"), resumeID)
		}
	case plan.IntentFailed:
		if res.Failure != nil {
			fmt.Fprintf(&b, "\n\n%s step %d (%s)", failStyle.Render("failed:"), res.Failure.FailedStep, res.Failure.FailedSpecialist)
			b.WriteString("\n")
			b.WriteString(indent.String(wordwrap.String(res.Failure.Error, c.width-8), 2))
			fmt.Fprintf(&b, "\n%s %s", dimStyle.Render("options:"), strings.Join(res.Failure.Options, ", "))
		}
		if resumeID != "" {
			fmt.Fprintf(&b, "\n%s docplan retry %s", dimStyle.Render("retry with:"), resumeID)
		}
	case plan.IntentError:
		fmt.Fprintf(&b, "\n\n%s %s", failStyle.Render("error:"), res.Error)
	}

	fmt.Fprintln(c.out, summaryStyle.Render(b.String()))
}

func intentStyle(i plan.Intent) lipgloss.Style {
	switch i {
	case plan.IntentCompleted:
		return okStyle.Bold(true)
	case plan.IntentInteraction:
		return askStyle
	case plan.IntentCancelled:
		return dimStyle.Bold(true)
	default:
		return failStyle.Bold(true)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
