// Journal logging for the specialist loop.
package specialist

import (
	"time"

	"github.com/vinayprograms/docplan/internal/model"
	"github.com/vinayprograms/docplan/internal/parser"
	"github.com/vinayprograms/docplan/internal/session"
	"github.com/vinayprograms/docplan/internal/toolexec"
)

// logEvent appends an event to the journal and persists it.
func (e *Executor) logEvent(evt session.Event) {
	if e.session == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	e.session.AddEvent(evt)
	if e.sessions != nil {
		if err := e.sessions.Update(e.session); err != nil {
			e.logger.Debug("journal update failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (e *Executor) logIteration(step int, specialistID string, iter, max int, phase Phase, parsed parser.Response, rec IterationRecord, prompt, reply string) {
	meta := &session.EventMeta{
		Phase:         string(phase),
		MaxIterations: max,
		Strategy:      string(parsed.Strategy),
	}
	if e.debug {
		meta.Prompt = prompt
		meta.Response = reply
	}
	e.logEvent(session.Event{
		Type:       session.EventIteration,
		Step:       step,
		Specialist: specialistID,
		Iteration:  iter,
		Content:    rec.Summary,
		DurationMs: rec.ElapsedMs,
		Meta:       meta,
	})
}

func (e *Executor) logFormatError(step int, specialistID string, iter int, parsed parser.Response, attempt, maxAttempts int) {
	e.logger.Warn("reply had no tool calls", map[string]interface{}{
		"specialist":   specialistID,
		"iteration":    iter,
		"attempt":      attempt,
		"max_attempts": maxAttempts,
		"strategy":     string(parsed.Strategy),
	})
	e.logEvent(session.Event{
		Type:       session.EventFormatError,
		Step:       step,
		Specialist: specialistID,
		Iteration:  iter,
		Content:    truncateForLog(parsed.Content, 500),
		Meta:       &session.EventMeta{Strategy: string(parsed.Strategy), Attempt: attempt},
	})
}

func (e *Executor) logModelRetry(step int, specialistID string, iter int, r model.Retry) {
	e.logEvent(session.Event{
		Type:       session.EventModelRetry,
		Step:       step,
		Specialist: specialistID,
		Iteration:  iter,
		Error:      r.Err.Error(),
		Meta:       &session.EventMeta{Class: string(r.Class), Attempt: r.Attempt},
	})
}

// logToolCall records a tool call and returns the correlation ID for its result.
func (e *Executor) logToolCall(step int, specialistID string, iter int, call parser.ToolCall) string {
	corrID := session.StartCorrelation()
	e.logEvent(session.Event{
		Type:          session.EventToolCall,
		CorrelationID: corrID,
		Step:          step,
		Specialist:    specialistID,
		Iteration:     iter,
		Tool:          call.Name,
		Args:          call.Args,
	})
	return corrID
}

func (e *Executor) logToolResult(step int, specialistID string, iter int, corrID string, res toolexec.Result) {
	content := resultText(res)
	if !e.debug {
		content = truncateForLog(content, 500)
	}
	evt := session.Event{
		Type:          session.EventToolResult,
		CorrelationID: corrID,
		Step:          step,
		Specialist:    specialistID,
		Iteration:     iter,
		Tool:          res.Tool,
		Content:       content,
		Success:       session.Bool(res.Success),
		DurationMs:    res.DurationMs,
	}
	if !res.Success {
		evt.Error = res.Error
	}
	e.logEvent(evt)
}

func (e *Executor) logInteraction(step int, specialistID string, iter int, question string) {
	e.logger.Info("specialist needs user input", map[string]interface{}{
		"specialist": specialistID,
		"iteration":  iter,
	})
	e.logEvent(session.Event{
		Type:       session.EventInteraction,
		Step:       step,
		Specialist: specialistID,
		Iteration:  iter,
		Meta:       &session.EventMeta{Question: question},
	})
}
