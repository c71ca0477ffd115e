package replay

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/vinayprograms/docplan/internal/session"
)

// Replayer formats journal events as a timeline.
type Replayer struct {
	output         io.Writer
	verbosity      int // 0=normal, 1=verbose (-v), 2=very verbose (-vv)
	maxContentSize int // 0 = unlimited
	width          int
}

// ReplayerOption configures a Replayer.
type ReplayerOption func(*Replayer)

// WithMaxContentSize limits each Content field to avoid huge output on large journals.
func WithMaxContentSize(size int) ReplayerOption {
	return func(r *Replayer) {
		r.maxContentSize = size
	}
}

// WithWidth sets the wrap width for content blocks.
func WithWidth(width int) ReplayerOption {
	return func(r *Replayer) {
		r.width = width
	}
}

// New creates a Replayer.
func New(output io.Writer, verbosity int, opts ...ReplayerOption) *Replayer {
	r := &Replayer{
		output:         output,
		verbosity:      verbosity,
		maxContentSize: 50 * 1024,
		width:          100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReplayFile loads and replays a journal file.
func (r *Replayer) ReplayFile(path string) error {
	sess, err := r.load(path)
	if err != nil {
		return err
	}
	return r.Replay(sess)
}

// ReplayFileInteractive loads a journal and shows it in the pager.
func (r *Replayer) ReplayFileInteractive(path string) error {
	sess, err := r.load(path)
	if err != nil {
		return err
	}
	content, err := r.Render(sess)
	if err != nil {
		return err
	}
	return NewPager(fmt.Sprintf("Journal: %s", sess.ID)).Run(content)
}

// ReplayFileLive shows a journal in the pager and re-renders it as the file grows.
func (r *Replayer) ReplayFileLive(path string) error {
	sess, err := r.load(path)
	if err != nil {
		return err
	}
	render := func() (string, error) {
		s, err := r.load(path)
		if err != nil {
			return "", err
		}
		return r.Render(s)
	}
	return NewPager(fmt.Sprintf("Journal: %s (LIVE)", sess.ID)).RunLive(path, render)
}

// Render returns the formatted timeline as a string.
func (r *Replayer) Render(sess *session.Session) (string, error) {
	var buf strings.Builder
	old := r.output
	r.output = &buf
	err := r.Replay(sess)
	r.output = old
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Replay writes a formatted timeline of the journal.
func (r *Replayer) Replay(sess *session.Session) error {
	r.printHeader(sess)
	r.printTimeline(sess)
	r.printSummary(sess)
	return nil
}

func (r *Replayer) load(path string) (*session.Session, error) {
	sess, err := session.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load journal: %w", err)
	}
	if r.maxContentSize > 0 {
		for i := range sess.Events {
			if n := len(sess.Events[i].Content); n > r.maxContentSize {
				sess.Events[i].Content = sess.Events[i].Content[:r.maxContentSize] +
					fmt.Sprintf("\n... [truncated, %d bytes total]", n)
			}
		}
	}
	return sess, nil
}

func (r *Replayer) printHeader(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("JOURNAL"), valueStyle.Render(sess.ID))
	fmt.Fprintln(r.output, divider)
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Plan:    "), valueStyle.Render(sess.PlanID))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Status:  "), statusStyle(sess.Status).Render(sess.Status))
	fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Created: "), valueStyle.Render(sess.CreatedAt.Format(time.RFC3339)))
	if len(sess.Inputs) > 0 {
		fmt.Fprintf(r.output, "%s %s\n", labelStyle.Render("Inputs:  "), valueStyle.Render(formatMap(sess.Inputs)))
	}
	fmt.Fprintln(r.output)
}

func (r *Replayer) printTimeline(sess *session.Session) {
	fmt.Fprintf(r.output, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(sess.Events))))
	fmt.Fprintln(r.output, divider)
	for i := range sess.Events {
		r.formatEvent(i+1, &sess.Events[i])
	}
}

func (r *Replayer) printSummary(sess *session.Session) {
	fmt.Fprintln(r.output)
	fmt.Fprintln(r.output, divider)

	switch sess.Status {
	case session.StatusComplete:
		fmt.Fprintln(r.output, successStyle.Render("COMPLETED"))
	case session.StatusFailed:
		fmt.Fprintf(r.output, "%s %s\n", errorStyle.Render("FAILED:"), valueStyle.Render(sess.Error))
	case session.StatusPaused:
		fmt.Fprintln(r.output, interactionStyle.Render("WAITING FOR USER"))
	case session.StatusCancelled:
		fmt.Fprintln(r.output, warnStyle.Render("CANCELLED"))
	default:
		fmt.Fprintln(r.output, warnStyle.Render("RUNNING"))
	}

	PrintStats(r.output, ComputeStats(sess))
}

// printContent writes a wrapped, indented content block.
func (r *Replayer) printContent(content string) {
	if content == "" {
		return
	}
	if r.verbosity == 0 {
		content = truncateContent(content, 300)
	}
	width := r.width - 10
	if width < 20 {
		width = 20
	}
	for _, line := range strings.Split(wordwrap.String(content, width), "\n") {
		fmt.Fprintf(r.output, "          %s\n", line)
	}
}

func (r *Replayer) printArgs(args map[string]interface{}) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(r.output, "          %s %s\n", labelStyle.Render(k+":"), dimStyle.Render(truncateHint(fmt.Sprintf("%v", args[k]), 120)))
	}
}

func (r *Replayer) printError(err string) {
	fmt.Fprintf(r.output, "          %s %s\n", errorStyle.Render("error:"), err)
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case session.StatusComplete:
		return successStyle
	case session.StatusFailed:
		return errorStyle
	case session.StatusPaused:
		return interactionStyle
	default:
		return warnStyle
	}
}

func truncateHint(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func truncateContent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func formatMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, truncateHint(m[k], 60))
	}
	return strings.Join(parts, ", ")
}
