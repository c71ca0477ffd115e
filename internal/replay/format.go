package replay

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/docplan/internal/session"
)

func (r *Replayer) formatEvent(seq int, event *session.Event) {
	seqNum := seqStyle.Render(fmt.Sprintf("%d", seq))
	ts := timeStyle.Render(event.Timestamp.Format("15:04:05.000"))

	switch event.Type {
	case session.EventPlanStart:
		fmt.Fprintf(r.output, "%s %s %s\n", seqNum, ts, stepStyle.Render("PLAN START"))
		r.printContent(event.Content)

	case session.EventPlanEnd:
		intent := ""
		if event.Meta != nil {
			intent = event.Meta.Intent
		}
		style := successStyle
		if event.Error != "" {
			style = errorStyle
		}
		fmt.Fprintf(r.output, "%s %s %s %s %s\n", seqNum, ts, stepStyle.Render("PLAN END"), style.Render(intent), dimStyle.Render(formatDuration(event.DurationMs)))
		if event.Error != "" {
			r.printError(event.Error)
		}

	case session.EventResume:
		fmt.Fprintf(r.output, "%s %s %s step %d %s\n", seqNum, ts, interactionStyle.Render("RESUME"), event.Step, dimStyle.Render("snapshot "+event.Content))

	case session.EventStepStart:
		fmt.Fprintln(r.output)
		fmt.Fprintf(r.output, "%s %s %s %s\n", seqNum, ts, stepStyle.Render(fmt.Sprintf("STEP %d", event.Step)), specialistStyle.Render("["+event.Specialist+"]"))
		fmt.Fprintf(r.output, "          %s\n", valueStyle.Render(event.Content))

	case session.EventStepEnd:
		r.fmtStepEnd(seqNum, ts, event)

	case session.EventValidation:
		r.fmtValidation(seqNum, ts, event)

	case session.EventIteration:
		r.fmtIteration(seqNum, ts, event)

	case session.EventFormatError:
		attempt := 0
		if event.Meta != nil {
			attempt = event.Meta.Attempt
		}
		fmt.Fprintf(r.output, "%s %s   %s iteration %d %s\n", seqNum, ts, retryStyle.Render("FORMAT ERROR"), event.Iteration, dimStyle.Render(fmt.Sprintf("(attempt %d)", attempt)))
		if r.verbosity > 0 {
			r.printContent(event.Content)
		}

	case session.EventModelRetry:
		class, attempt := "", 0
		if event.Meta != nil {
			class, attempt = event.Meta.Class, event.Meta.Attempt
		}
		fmt.Fprintf(r.output, "%s %s   %s %s %s\n", seqNum, ts, retryStyle.Render("MODEL RETRY"), retryStyle.Render(class), dimStyle.Render(fmt.Sprintf("(attempt %d)", attempt)))
		if r.verbosity > 0 && event.Error != "" {
			r.printError(event.Error)
		}

	case session.EventToolCall:
		fmt.Fprintf(r.output, "%s %s     %s %s\n", seqNum, ts, toolStyle.Render("→ "+event.Tool), dimStyle.Render(argsHint(event.Args)))
		if r.verbosity > 1 {
			r.printArgs(event.Args)
		}

	case session.EventToolResult:
		r.fmtToolResult(seqNum, ts, event)

	case session.EventInteraction:
		question := ""
		if event.Meta != nil {
			question = event.Meta.Question
		}
		fmt.Fprintf(r.output, "%s %s   %s %s\n", seqNum, ts, interactionStyle.Render("QUESTION"), valueStyle.Render(question))

	default:
		fmt.Fprintf(r.output, "%s %s %s\n", seqNum, ts, dimStyle.Render(event.Type))
	}
}

func (r *Replayer) fmtStepEnd(seqNum, ts string, event *session.Event) {
	ok := event.Success != nil && *event.Success
	label := errorStyle.Render("✗")
	if ok {
		label = successStyle.Render("✓")
	}
	detail := formatDuration(event.DurationMs)
	if event.Meta != nil {
		if event.Meta.LoopIterations > 1 {
			detail += fmt.Sprintf(", %d loops", event.Meta.LoopIterations)
		}
		if event.Meta.Degraded {
			detail += ", degraded"
		}
		if !ok && event.Meta.Intent != "" {
			detail += ", " + event.Meta.Intent
		}
	}
	fmt.Fprintf(r.output, "%s %s %s %s %s\n", seqNum, ts, label, stepStyle.Render(fmt.Sprintf("STEP %d", event.Step)), dimStyle.Render(detail))
	if event.Error != "" {
		r.printError(event.Error)
	}
	if r.verbosity > 0 {
		r.printContent(event.Content)
	}
}

func (r *Replayer) fmtValidation(seqNum, ts string, event *session.Event) {
	if event.Success != nil && *event.Success {
		if r.verbosity > 0 {
			fmt.Fprintf(r.output, "%s %s   %s %s\n", seqNum, ts, validationStyle.Render("VALIDATE"), successStyle.Render("pass"))
		}
		return
	}
	var triggers []string
	correction := ""
	if event.Meta != nil {
		triggers = event.Meta.Triggers
		correction = event.Meta.Correction
	}
	fmt.Fprintf(r.output, "%s %s   %s %s %s\n", seqNum, ts, validationStyle.Render("VALIDATE"), errorStyle.Render("fail"), dimStyle.Render(strings.Join(triggers, ", ")))
	if r.verbosity > 0 && correction != "" {
		fmt.Fprintf(r.output, "          %s\n", blockHeaderStyle.Render("correction:"))
		r.printContent(correction)
	}
}

func (r *Replayer) fmtIteration(seqNum, ts string, event *session.Event) {
	limit := ""
	phase := ""
	if event.Meta != nil {
		if event.Meta.MaxIterations > 0 {
			limit = fmt.Sprintf("/%d", event.Meta.MaxIterations)
		}
		phase = event.Meta.Phase
	}
	fmt.Fprintf(r.output, "%s %s   %s %s %s\n", seqNum, ts,
		specialistStyle.Render(fmt.Sprintf("%s #%d%s", event.Specialist, event.Iteration, limit)),
		dimStyle.Render(phase), dimStyle.Render(formatDuration(event.DurationMs)))
	if r.verbosity > 0 {
		r.printContent(event.Content)
	}
	if r.verbosity > 1 && event.Meta != nil {
		if event.Meta.Prompt != "" {
			fmt.Fprintf(r.output, "          %s\n", blockHeaderStyle.Render("prompt:"))
			r.printContent(event.Meta.Prompt)
		}
		if event.Meta.Response != "" {
			fmt.Fprintf(r.output, "          %s\n", blockHeaderStyle.Render("reply:"))
			r.printContent(event.Meta.Response)
		}
	}
}

func (r *Replayer) fmtToolResult(seqNum, ts string, event *session.Event) {
	ok := event.Success == nil || *event.Success
	mark := successStyle.Render("←")
	if !ok {
		mark = errorStyle.Render("←")
	}
	fmt.Fprintf(r.output, "%s %s     %s %s %s\n", seqNum, ts, mark, toolStyle.Render(event.Tool), dimStyle.Render(formatDuration(event.DurationMs)))
	if !ok {
		r.printError(event.Error)
		return
	}
	if r.verbosity > 0 {
		r.printContent(event.Content)
	}
}

// argsHint picks the most telling argument for a one-line summary.
func argsHint(args map[string]interface{}) string {
	for _, key := range []string{"path", "target_file", "question", "note", "content"} {
		if v, ok := args[key].(string); ok && v != "" {
			return truncateHint(v, 60)
		}
	}
	return ""
}
