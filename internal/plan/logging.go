// Journal logging for the plan executor.
package plan

import (
	"strings"
	"time"

	"github.com/vinayprograms/docplan/internal/session"
	"github.com/vinayprograms/docplan/internal/specialist"
	"github.com/vinayprograms/docplan/internal/validation"
)

// truncateForLog truncates a string for logging purposes.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func (e *Executor) logEvent(evt session.Event) {
	if e.journal == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	e.journal.AddEvent(evt)
	e.saveJournal()
}

func (e *Executor) saveJournal() {
	if e.journals == nil {
		return
	}
	if err := e.journals.Update(e.journal); err != nil {
		e.logger.Warn("journal update failed", map[string]interface{}{"error": err.Error()})
	}
}

func (e *Executor) logPlanStart(p *Plan, userInput string) {
	e.logEvent(session.Event{
		Type:    session.EventPlanStart,
		Content: truncateForLog(p.Description+"\n"+userInput, 1000),
	})
}

func (e *Executor) logResume(snap *ResumeSnapshot) {
	if e.journal != nil {
		e.journal.Status = session.StatusRunning
	}
	e.logEvent(session.Event{
		Type:       session.EventResume,
		Step:       snap.FailingStep,
		Specialist: snap.SpecialistID,
		Iteration:  snap.Loop.CurrentIteration,
		Content:    snap.ID,
		Meta:       &session.EventMeta{Question: snap.PendingQuestion},
	})
}

func (e *Executor) logStepStart(step Step, resumed bool) {
	content := step.Description
	if resumed {
		content = "resumed: " + content
	}
	e.logEvent(session.Event{
		Type:       session.EventStepStart,
		Step:       step.Index,
		Specialist: step.SpecialistID,
		Content:    content,
	})
}

func (e *Executor) logStepEnd(step Step, out stepOutcome, elapsed time.Duration) {
	evt := session.Event{
		Type:       session.EventStepEnd,
		Step:       step.Index,
		Specialist: step.SpecialistID,
		Success:    session.Bool(out.kind == specialist.OutcomeSuccess),
		DurationMs: elapsed.Milliseconds(),
		Meta:       &session.EventMeta{Intent: string(out.kind)},
	}
	if out.output != nil {
		evt.Content = truncateForLog(out.output.Content, 1000)
		evt.Meta.Degraded = out.output.Metadata.Degraded
		evt.Meta.LoopIterations = out.output.Metadata.LoopIterations
	}
	if out.err != nil {
		evt.Error = out.err.Error()
	}
	e.logEvent(evt)
}

func (e *Executor) logValidation(step Step, check *validation.Result, willRetry bool) {
	triggers := make([]string, len(check.Triggers))
	for i, t := range check.Triggers {
		triggers[i] = string(t)
	}
	if check.Failed() {
		e.logger.Warn("step output failed validation", map[string]interface{}{
			"step":     step.Index,
			"triggers": strings.Join(triggers, ","),
			"retry":    willRetry,
		})
	}
	e.logEvent(session.Event{
		Type:       session.EventValidation,
		Step:       step.Index,
		Specialist: step.SpecialistID,
		Success:    session.Bool(!check.Failed()),
		Meta:       &session.EventMeta{Triggers: triggers, Correction: check.Correction},
	})
}

func (e *Executor) logPlanEnd(res *Result) {
	if e.journal == nil {
		return
	}
	e.logEvent(session.Event{
		Type:       session.EventPlanEnd,
		Content:    res.Summary,
		Error:      res.Error,
		DurationMs: res.ElapsedMs,
		Meta:       &session.EventMeta{Intent: string(res.Intent)},
	})
	status := session.StatusComplete
	switch res.Intent {
	case IntentFailed, IntentError:
		status = session.StatusFailed
	case IntentCancelled:
		status = session.StatusCancelled
	case IntentInteraction:
		status = session.StatusPaused
	}
	e.journal.SetOutput("intent", string(res.Intent))
	if res.Output != nil {
		e.journal.SetOutput("final", res.Output.Content)
	}
	e.journal.Finish(status, res.Summary, res.Error)
	e.saveJournal()
}
