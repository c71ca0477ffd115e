package specialist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/docplan/internal/history"
	"github.com/vinayprograms/docplan/internal/iterlimit"
	"github.com/vinayprograms/docplan/internal/model"
	"github.com/vinayprograms/docplan/internal/parser"
	"github.com/vinayprograms/docplan/internal/session"
	"github.com/vinayprograms/docplan/internal/toolexec"
)

const (
	formatErrorNote = "Your previous reply contained no tool calls. Reply with a JSON object whose tool_calls list names at least one tool."
	tokenLimitNote  = "Your previous reply was empty or the request exceeded the context limit. Keep the reply short and call a tool."
)

// Config wires the executor's collaborators.
type Config struct {
	Facade        *toolexec.Facade
	Limits        *iterlimit.Resolver
	Profiles      Profiles
	Caller        *model.Caller
	Compressor    *history.Compressor
	Notes         *Notes
	AttemptFactor int // Total attempts per invocation = AttemptFactor * max iterations
}

// Executor runs specialists.
type Executor struct {
	facade        *toolexec.Facade
	limits        *iterlimit.Resolver
	profiles      Profiles
	caller        *model.Caller
	compressor    *history.Compressor
	notes         *Notes
	attemptFactor int

	cancelled func() bool
	session   *session.Session
	sessions  *session.Manager
	debug     bool
	logger    *logging.Logger
}

// New creates an executor. Missing collaborators get working defaults.
func New(cfg Config) *Executor {
	e := &Executor{
		facade:        cfg.Facade,
		limits:        cfg.Limits,
		profiles:      cfg.Profiles,
		caller:        cfg.Caller,
		compressor:    cfg.Compressor,
		notes:         cfg.Notes,
		attemptFactor: cfg.AttemptFactor,
		logger:        logging.New().WithComponent("specialist"),
	}
	if e.facade == nil {
		e.facade = toolexec.NewFacade(nil, nil, nil)
	}
	if e.limits == nil {
		e.limits = iterlimit.NewResolver(iterlimit.Layers{}, nil)
	}
	if e.caller == nil {
		e.caller = model.NewCaller(model.DefaultPolicy())
	}
	if e.compressor == nil {
		e.compressor = history.New(6000, 1500, 2)
	}
	if e.notes == nil {
		e.notes = NewNotes()
	}
	if e.attemptFactor < 1 {
		e.attemptFactor = 2
	}
	return e
}

// SetCancelCheck installs the cooperative cancellation predicate.
func (e *Executor) SetCancelCheck(fn func() bool) {
	e.cancelled = fn
}

// SetSession sets the journal that loop events are written to.
func (e *Executor) SetSession(sess *session.Session, mgr *session.Manager) {
	e.session = sess
	e.sessions = mgr
}

// SetDebug enables full prompts and replies in journal events.
func (e *Executor) SetDebug(debug bool) {
	e.debug = debug
}

// Notes returns the working memory store.
func (e *Executor) Notes() *Notes {
	return e.notes
}

func (e *Executor) isCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.cancelled != nil && e.cancelled()
}

// Execute runs specialistID on step until it completes, asks the user a
// question, fails or runs out of iterations. A non-nil resume continues a
// paused loop at its recorded iteration with the user's reply injected into
// history. The returned error is non-nil only for fatal model failures, and
// then mirrors Outcome.Err.
func (e *Executor) Execute(ctx context.Context, specialistID string, step StepContext, m model.Model, resume *ResumeState) (Outcome, error) {
	profile := e.profiles.Lookup(specialistID)
	max, layer := e.limits.Explain(specialistID)
	start := time.Now()

	ctx, span := e.startSpecialistSpan(ctx, specialistID, step.StepIndex, max, resume != nil)

	var state LoopState
	var pending []toolexec.Result
	if resume != nil {
		state = resume.Loop.Clone()
		state.SpecialistID = specialistID
		state.MaxIterations = max
		if state.CurrentIteration < 1 {
			state.CurrentIteration = 1
		}
		// a lowered limit takes effect without moving the counter backwards past it
		if state.CurrentIteration > max {
			state.CurrentIteration = max
		}
		if state.StartedAt.IsZero() {
			state.StartedAt = start
		}
		if resume.UserReply != "" {
			state.Entries = append(state.Entries, history.Entry{
				Iteration: state.CurrentIteration,
				Kind:      history.KindUserReply,
				Text:      e.compressor.TruncateEntry(resume.UserReply),
			})
		}
		pending = resume.LastToolResults
	} else {
		e.notes.Clear(specialistID)
		state = LoopState{
			SpecialistID:     specialistID,
			CurrentIteration: 1,
			MaxIterations:    max,
			StartedAt:        start,
		}
	}
	state.IsActive = true

	e.logger.Info("specialist start", map[string]interface{}{
		"specialist":     specialistID,
		"step":           step.StepIndex,
		"max_iterations": max,
		"limit_layer":    string(layer),
		"iteration":      state.CurrentIteration,
		"resumed":        resume != nil,
	})

	tools := e.facade.Schema(profile.Role, specialistID)
	maxAttempts := e.attemptFactor * max
	attempts := 0

	finish := func(out Outcome) (Outcome, error) {
		out.Loop.IsActive = false
		e.endSpecialistSpan(span, out, state.CurrentIteration)
		e.logger.Info("specialist end", map[string]interface{}{
			"specialist": specialistID,
			"step":       step.StepIndex,
			"outcome":    string(out.Kind),
			"iteration":  state.CurrentIteration,
			"duration":   time.Since(start).String(),
		})
		if out.Kind == OutcomeFailed && out.Err != nil && !errors.Is(out.Err, ErrIterationExhausted) {
			return out, out.Err
		}
		return out, nil
	}

	for {
		if e.isCancelled(ctx) {
			state.LastContinueReason = "cancelled"
			return finish(Outcome{Kind: OutcomeCancelled, Err: ErrCancelled, Loop: state.Clone()})
		}

		attempts++
		if attempts > maxAttempts {
			state.LastContinueReason = "attempt_limit"
			return finish(e.exhausted(profile, state, start))
		}

		iter := state.CurrentIteration
		iterStart := time.Now()
		phase := PhaseFor(iter, max)
		var prompt string
		build := func() string {
			prompt = e.buildPrompt(profile, step, state, pending, tools)
			return prompt
		}
		onRetry := func(r model.Retry) {
			if r.Class == model.ClassTokenLimit {
				// warnings go to the top of history
				state.Entries = prependWarning(state.Entries, iter, tokenLimitNote)
			}
			e.logModelRetry(step.StepIndex, specialistID, iter, r)
		}

		iterCtx, iterSpan := e.startIterationSpan(ctx, specialistID, iter, phase)
		text, err := e.caller.Call(iterCtx, m, build, tools, onRetry)
		if err != nil {
			iterSpan.RecordError(err)
			iterSpan.End()
			if e.isCancelled(ctx) {
				state.LastContinueReason = "cancelled"
				return finish(Outcome{Kind: OutcomeCancelled, Err: ErrCancelled, Loop: state.Clone()})
			}
			state.LastContinueReason = "model_error"
			e.logger.Error("model call failed", map[string]interface{}{
				"specialist": specialistID,
				"iteration":  iter,
				"error":      err.Error(),
			})
			return finish(Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("specialist %s: %w", specialistID, err), Loop: state.Clone()})
		}

		parsed := parser.Parse(text)
		if !parsed.HasToolCalls() {
			iterSpan.End()
			state.LastContinueReason = "format_error"
			state.Entries = appendWarning(state.Entries, iter, formatErrorNote)
			e.logFormatError(step.StepIndex, specialistID, iter, parsed, attempts, maxAttempts)
			continue
		}

		record := IterationRecord{
			Iteration: iter,
			ModelText: parsed.Content,
			ToolCalls: parsed.ToolCalls,
			Timestamp: iterStart,
		}
		var completion map[string]interface{}
		var interaction *toolexec.Result

		// sequential: a later call may depend on an earlier result
		for _, call := range parsed.ToolCalls {
			corrID := e.logToolCall(step.StepIndex, specialistID, iter, call)
			res := e.facade.Execute(iterCtx, call.Name, call.Args, profile.Role, specialistID)
			e.logToolResult(step.StepIndex, specialistID, iter, corrID, res)
			record.ToolResults = append(record.ToolResults, res)
			state.ToolsUsed = appendUnique(state.ToolsUsed, call.Name)
			if res.Success && e.facade.IsFileMutating(call.Name) {
				state.FileMutated = true
			}

			if call.Name == toolexec.ToolNote && res.Success {
				if note, ok := res.Result.(string); ok {
					e.notes.Add(specialistID, note)
				}
			}
			if res.NeedsInteraction {
				interaction = &record.ToolResults[len(record.ToolResults)-1]
				break
			}
			if call.Name == toolexec.ToolComplete && res.Success {
				completion = call.Args
				break
			}
		}

		record.Summary = summarizeIteration(parsed.Content, parsed.ToolCalls[:len(record.ToolResults)], record.ToolResults)
		record.ElapsedMs = time.Since(iterStart).Milliseconds()
		state.History = append(state.History, record)
		state.Entries = append(state.Entries, history.Entry{Iteration: iter, Kind: history.KindIteration, Text: e.compressor.TruncateEntry(record.Summary)})
		pending = record.ToolResults
		e.logIteration(step.StepIndex, specialistID, iter, max, phase, parsed, record, prompt, text)
		iterSpan.End()

		switch {
		case interaction != nil:
			state.LastContinueReason = "needs_interaction"
			snapshot := state.Clone()
			snapshot.IsActive = false
			req := &InteractionRequest{
				Question:        interaction.Question,
				SpecialistID:    specialistID,
				StepIndex:       step.StepIndex,
				Iteration:       iter,
				Loop:            snapshot,
				LastToolResults: append([]toolexec.Result(nil), record.ToolResults...),
				Step:            step,
			}
			e.logInteraction(step.StepIndex, specialistID, iter, req.Question)
			return finish(Outcome{Kind: OutcomeNeedsInteraction, Interaction: req, Loop: snapshot})

		case completion != nil:
			state.LastContinueReason = "complete"
			out := e.buildOutput(profile, state, completion, start, false)
			return finish(Outcome{Kind: OutcomeSuccess, Output: out, Loop: state.Clone()})
		}

		if iter >= max {
			state.LastContinueReason = "iteration_limit"
			return finish(e.exhausted(profile, state, start))
		}
		state.CurrentIteration++
		state.LastContinueReason = "tool_results"
	}
}

func (e *Executor) buildPrompt(profile Profile, step StepContext, state LoopState, pending []toolexec.Result, tools []llm.ToolDef) string {
	compressed := e.compressor.Compress(state.Entries)
	b := NewPromptBuilder(profile, step)
	b.SetIteration(state.CurrentIteration, state.MaxIterations)
	b.SetHistory(compressed.Entries)
	b.SetNotes(e.notes.Get(profile.ID))
	b.SetLastResults(pending)
	b.SetTools(tools)
	return b.Build()
}

// exhausted synthesizes a degraded output from the last recorded iteration,
// or fails when no iteration produced anything usable.
func (e *Executor) exhausted(profile Profile, state LoopState, start time.Time) Outcome {
	content := ""
	for i := len(state.History) - 1; i >= 0 && content == ""; i-- {
		rec := state.History[i]
		content = rec.ModelText
		if content == "" {
			content = successfulResults(rec.ToolResults)
		}
	}

	e.logger.Warn("iteration limit reached", map[string]interface{}{
		"specialist": profile.ID,
		"iterations": state.CurrentIteration,
		"degraded":   content != "",
	})

	if content == "" {
		return Outcome{
			Kind: OutcomeFailed,
			Err:  fmt.Errorf("%w: specialist %s after %d iterations", ErrIterationExhausted, profile.ID, state.MaxIterations),
			Loop: state.Clone(),
		}
	}
	out := e.buildOutput(profile, state, map[string]interface{}{"content": content}, start, true)
	return Outcome{Kind: OutcomeSuccess, Output: out, Loop: state.Clone()}
}

// buildOutput turns complete_task arguments into an Output. Whether the step
// needs a file edit follows the specialist's archetype.
func (e *Executor) buildOutput(profile Profile, state LoopState, args map[string]interface{}, start time.Time, degraded bool) *Output {
	content, _ := args["content"].(string)
	data, _ := args["structured_data"].(map[string]interface{})
	target, _ := args["target_file"].(string)
	instructions, _ := args["edit_instructions"].(string)

	var requires bool
	switch profile.Archetype {
	case ArchetypeDirect, ArchetypeNonFile:
		requires = false
	case ArchetypeDecision:
		requires = state.FileMutated
	default:
		requires = state.FileMutated || instructions != ""
	}

	return &Output{
		Success:             true,
		Content:             content,
		StructuredData:      data,
		RequiresFileEditing: requires,
		TargetFile:          target,
		EditInstructions:    instructions,
		Metadata: Metadata{
			SpecialistID: profile.ID,
			Iterations:   state.CurrentIteration,
			ElapsedMs:    time.Since(start).Milliseconds(),
			ToolsUsed:    append([]string{}, state.ToolsUsed...),
			Timestamp:    time.Now(),
			Degraded:     degraded,
		},
	}
}
