package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/docplan/internal/events"
	"github.com/vinayprograms/docplan/internal/model"
	"github.com/vinayprograms/docplan/internal/project"
	"github.com/vinayprograms/docplan/internal/session"
	"github.com/vinayprograms/docplan/internal/specialist"
	"github.com/vinayprograms/docplan/internal/validation"
	"go.opentelemetry.io/otel/trace"
)

// Intent is the overall outcome of an execution.
type Intent string

const (
	IntentCompleted   Intent = "plan_completed"
	IntentFailed      Intent = "plan_failed"
	IntentError       Intent = "plan_error"
	IntentCancelled   Intent = "plan_cancelled"
	IntentInteraction Intent = "user_interaction_required"
)

// Step statuses reported in a FailureContext.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

// StepStatus describes one step in a FailureContext.
type StepStatus struct {
	Index        int    `json:"index"`
	SpecialistID string `json:"specialist_id"`
	Description  string `json:"description"`
	Status       string `json:"status"`
}

// FailureContext carries the whole execution state of a failed plan so the
// caller can retry the step, replan from it or abort.
type FailureContext struct {
	Plan             *Plan           `json:"plan"`
	Steps            []StepStatus    `json:"steps"`
	CompletedSteps   int             `json:"completed_steps"`
	FailedStep       int             `json:"failed_step"`
	FailedSpecialist string          `json:"failed_specialist"`
	Error            string          `json:"error"`
	Results          Results         `json:"results"`
	Session          project.Context `json:"session"`
	UserInput        string          `json:"user_input,omitempty"`
	Options          []string        `json:"options"`
}

// Result is what Execute and Continue return.
type Result struct {
	Intent    Intent             `json:"intent"`
	PlanID    string             `json:"plan_id"`
	JournalID string             `json:"journal_id,omitempty"`
	Results   Results            `json:"results"`
	Output    *specialist.Output `json:"output,omitempty"` // final step output on completion
	Summary   string             `json:"summary"`
	ElapsedMs int64              `json:"elapsed_ms"`
	Session   project.Context    `json:"session"`
	Snapshot  *ResumeSnapshot    `json:"snapshot,omitempty"`
	Question  string             `json:"question,omitempty"`
	Failure   *FailureContext    `json:"failure,omitempty"`
	Error     string             `json:"error,omitempty"`

	Err error `json:"-"` // underlying error for plan_failed and plan_error
}

// Config wires the plan executor.
type Config struct {
	Specialists       *specialist.Executor
	Validator         *validation.Validator
	SessionStore      project.Store // refreshed after session-changing steps; may be nil
	SessionChanging   []string      // specialist ids that can change project identity or location
	Denylist          []string      // nil uses DefaultDenylist
	ValidationRetries int
	RefineMax         int
	Publisher         events.Publisher
}

// Executor sequences plan steps.
type Executor struct {
	specialists       *specialist.Executor
	validator         *validation.Validator
	store             project.Store
	changing          map[string]bool
	denylist          []string
	validationRetries int
	refineMax         int
	publisher         events.Publisher

	cancelled func() bool
	journal   *session.Session
	journals  *session.Manager
	logger    *logging.Logger
}

// New creates a plan executor.
func New(cfg Config) *Executor {
	e := &Executor{
		specialists:       cfg.Specialists,
		validator:         cfg.Validator,
		store:             cfg.SessionStore,
		changing:          make(map[string]bool, len(cfg.SessionChanging)),
		denylist:          cfg.Denylist,
		validationRetries: cfg.ValidationRetries,
		refineMax:         cfg.RefineMax,
		publisher:         cfg.Publisher,
		logger:            logging.New().WithComponent("plan-executor"),
	}
	for _, id := range cfg.SessionChanging {
		e.changing[id] = true
	}
	if e.specialists == nil {
		e.specialists = specialist.New(specialist.Config{})
	}
	if e.validator == nil {
		e.validator = validation.New()
	}
	if e.validationRetries < 0 {
		e.validationRetries = 0
	}
	if e.refineMax < 1 {
		e.refineMax = 1
	}
	if e.publisher == nil {
		e.publisher = events.NopPublisher{}
	}
	return e
}

// SetCancelCheck installs the cancellation predicate for plans and specialists.
func (e *Executor) SetCancelCheck(fn func() bool) {
	e.cancelled = fn
	e.specialists.SetCancelCheck(fn)
}

// SetJournal sets the session journal for plan and specialist events.
func (e *Executor) SetJournal(sess *session.Session, mgr *session.Manager) {
	e.journal = sess
	e.journals = mgr
	e.specialists.SetSession(sess, mgr)
}

func (e *Executor) isCancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return e.cancelled != nil && e.cancelled()
}

// run is the mutable state of one Execute or Continue call.
type run struct {
	plan      *Plan
	results   Results
	session   project.Context
	userInput string
	model     model.Model
	start     time.Time

	// refine progress of the resumed step, applied to the first step run only
	resumeLoops int
	resumeDraft *specialist.Output
}

// Execute runs every step of p in order. The error is non-nil for
// plan_failed and plan_error and repeats Result.Error.
func (e *Executor) Execute(ctx context.Context, p *Plan, sess project.Context, m model.Model, userInput string) (*Result, error) {
	start := time.Now()
	if err := p.Validate(); err != nil {
		return e.planError(p, err, start)
	}

	ctx, span := e.startPlanSpan(ctx, p, false)
	e.logger.ExecutionStart(p.ID)
	e.logPlanStart(p, userInput)
	e.publish(ctx, events.Event{Type: events.PlanStarted, PlanID: p.ID, Message: p.Description})

	r := &run{plan: p, results: Results{}, session: sess.Clone(), userInput: userInput, model: m, start: start}
	res := e.runFrom(ctx, r, 1, nil, nil)
	return e.finish(ctx, span, r, res)
}

// Continue resumes a paused execution with the user's reply. Steps before the
// paused one are not run again; their results come from the snapshot.
func (e *Executor) Continue(ctx context.Context, p *Plan, snap *ResumeSnapshot, userReply string, m model.Model) (*Result, error) {
	start := time.Now()
	if err := p.Validate(); err != nil {
		return e.planError(p, err, start)
	}
	if err := snap.Matches(p); err != nil {
		return e.planError(p, err, start)
	}

	ctx, span := e.startPlanSpan(ctx, p, true)
	e.logger.ExecutionStart(p.ID)
	e.logResume(snap)

	results := snap.Results.Clone()
	if results == nil {
		results = Results{}
	}
	r := &run{plan: p, results: results, session: snap.Session.Clone(), userInput: snap.UserInput, model: m, start: start,
		resumeLoops: snap.RefineLoops, resumeDraft: snap.RefineDraft}

	resume := &specialist.ResumeState{
		Loop:            snap.Loop,
		LastToolResults: snap.LastToolResults,
		UserReply:       userReply,
	}
	stepCtx := snap.StepContext
	if stepCtx.StepIndex != snap.FailingStep {
		step, _ := p.Step(snap.FailingStep)
		stepCtx = e.buildStepContext(r, step)
	}
	res := e.runFrom(ctx, r, snap.FailingStep, resume, &stepCtx)
	return e.finish(ctx, span, r, res)
}

// Retry reruns a failed plan from its failing step, keeping the results of
// the steps that completed before it.
func (e *Executor) Retry(ctx context.Context, failure *FailureContext, m model.Model) (*Result, error) {
	start := time.Now()
	if failure == nil || failure.Plan == nil {
		return e.planError(nil, fmt.Errorf("%w: no failure context", ErrInvalidPlan), start)
	}
	p := failure.Plan
	if err := p.Validate(); err != nil {
		return e.planError(p, err, start)
	}
	if _, ok := p.Step(failure.FailedStep); !ok {
		return e.planError(p, fmt.Errorf("%w: step %d is not in the plan", ErrInvalidPlan, failure.FailedStep), start)
	}

	ctx, span := e.startPlanSpan(ctx, p, true)
	e.logger.ExecutionStart(p.ID)
	results := Results{}
	for idx, out := range failure.Results {
		if idx < failure.FailedStep {
			results[idx] = out
		}
	}
	r := &run{plan: p, results: results, session: failure.Session.Clone(), userInput: failure.UserInput, model: m, start: start}
	res := e.runFrom(ctx, r, failure.FailedStep, nil, nil)
	return e.finish(ctx, span, r, res)
}

// runFrom executes steps first..N. resume and resumeCtx apply to step first only.
func (e *Executor) runFrom(ctx context.Context, r *run, first int, resume *specialist.ResumeState, resumeCtx *specialist.StepContext) *Result {
	p := r.plan
	for i := first; i <= len(p.Steps); i++ {
		step := p.Steps[i-1]

		if e.isCancelled(ctx) {
			return e.cancelledResult(r, i)
		}

		var stepCtx specialist.StepContext
		var stepResume *specialist.ResumeState
		if i == first && resume != nil {
			stepCtx = *resumeCtx
			stepResume = resume
		} else {
			stepCtx = e.buildStepContext(r, step)
		}

		so := e.runStep(ctx, r, step, stepCtx, stepResume)
		switch so.kind {
		case specialist.OutcomeNeedsInteraction:
			return e.interactionResult(ctx, r, step, so)
		case specialist.OutcomeCancelled:
			return e.cancelledResult(r, i)
		case specialist.OutcomeFailed:
			return e.failedResult(ctx, r, step, so.err)
		}

		if err := r.results.Record(step.Index, *so.output); err != nil {
			return e.failedResult(ctx, r, step, err)
		}
		e.afterStep(ctx, r, step, so.output)
	}

	last := r.results[len(p.Steps)]
	return &Result{
		Intent:  IntentCompleted,
		PlanID:  p.ID,
		Results: r.results.Clone(),
		Output:  &last,
		Summary: fmt.Sprintf("Completed %d of %d steps in %s", len(r.results), len(p.Steps), time.Since(r.start).Round(time.Millisecond)),
		Session: r.session,
	}
}

// afterStep publishes the result and derives a new session context when the
// step can change it.
func (e *Executor) afterStep(ctx context.Context, r *run, step Step, out *specialist.Output) {
	if e.changing[step.SpecialistID] && e.store != nil {
		cur, err := e.store.Current(ctx)
		if err != nil {
			e.logger.Warn("session refresh failed", map[string]interface{}{
				"step":       step.Index,
				"specialist": step.SpecialistID,
				"error":      err.Error(),
			})
		} else {
			r.session = cur.Clone()
		}
	}
	if out.RequiresFileEditing && out.TargetFile != "" {
		r.session = r.session.WithLastModified(out.TargetFile)
	}
	e.publish(ctx, events.Event{
		Type:       events.StepCompleted,
		PlanID:     r.plan.ID,
		Step:       step.Index,
		Specialist: step.SpecialistID,
		Message:    truncateForLog(out.Content, 200),
	})
}

// buildStepContext assembles the step's input: its own description, the
// outputs of exactly the steps it depends on, and a read-only plan overview.
func (e *Executor) buildStepContext(r *run, step Step) specialist.StepContext {
	sc := specialist.StepContext{
		PlanID:         r.plan.ID,
		StepIndex:      step.Index,
		Description:    step.Description,
		ExpectedOutput: step.ExpectedOutput,
		Language:       step.Language,
		WorkflowMode:   step.WorkflowMode,
		UserInput:      r.userInput,
		Session:        r.session.Clone(),
	}
	for _, d := range step.DependsOn {
		if d >= step.Index {
			continue
		}
		out, ok := r.results[d]
		if !ok {
			continue
		}
		dep, _ := r.plan.Step(d)
		sc.Dependencies = append(sc.Dependencies, specialist.Dependency{
			StepIndex:      d,
			SpecialistID:   dep.SpecialistID,
			Description:    dep.Description,
			Content:        out.Content,
			StructuredData: out.StructuredData,
		})
	}
	for _, s := range r.plan.Steps {
		status := StatusPending
		switch {
		case s.Index == step.Index:
			status = "current"
		case hasResult(r.results, s.Index):
			status = StatusCompleted
		}
		sc.Plan = append(sc.Plan, specialist.StepView{
			Index:        s.Index,
			Description:  s.Description,
			SpecialistID: s.SpecialistID,
			Status:       status,
		})
	}
	return sc
}

func hasResult(r Results, idx int) bool {
	_, ok := r[idx]
	return ok
}

type stepOutcome struct {
	kind        specialist.OutcomeKind
	output      *specialist.Output
	interaction *specialist.InteractionRequest
	err         error

	loops    int // specialist runs finished before a pause
	accepted *specialist.Output
}

// runStep runs one step's specialist, retrying once with corrective guidance
// on validation failure and re-running it on its own draft in refine mode.
func (e *Executor) runStep(ctx context.Context, r *run, step Step, sc specialist.StepContext, resume *specialist.ResumeState) stepOutcome {
	ctx, span := e.startStepSpan(ctx, step)
	start := time.Now()
	e.logger.PhaseStart("STEP", r.plan.ID, step.SpecialistID)
	e.logStepStart(step, resume != nil)
	e.publish(ctx, events.Event{Type: events.StepStarted, PlanID: r.plan.ID, Step: step.Index, Specialist: step.SpecialistID, Message: step.Description})

	retries := e.validationRetries
	loops := 0
	var accepted *specialist.Output
	if resume != nil {
		loops, accepted = r.resumeLoops, r.resumeDraft
		r.resumeLoops, r.resumeDraft = 0, nil
	}
	var outcome stepOutcome

	for {
		o, err := e.specialists.Execute(ctx, step.SpecialistID, sc, r.model, resume)
		resume = nil
		loops++

		if o.Kind != specialist.OutcomeSuccess {
			outcome = stepOutcome{kind: o.Kind, interaction: o.Interaction, err: o.Err, loops: loops - 1, accepted: accepted}
			if err != nil {
				outcome.err = err
			}
			break
		}

		candidate := o.Output
		var resolved string
		var pathErr error
		if candidate.RequiresFileEditing && candidate.TargetFile != "" {
			resolved, pathErr = ResolveTargetPath(sc.Session.BaseDir, sc.Session.Name, candidate.TargetFile, e.denylist)
		}
		check := e.validator.Check(validation.Facts{
			StepIndex:           step.Index,
			SpecialistID:        step.SpecialistID,
			Content:             candidate.Content,
			HasStructuredData:   len(candidate.StructuredData) > 0,
			RequiresFileEditing: candidate.RequiresFileEditing,
			TargetFile:          candidate.TargetFile,
			EditInstructions:    candidate.EditInstructions,
			PathError:           pathErr,
		})
		e.logValidation(step, check, retries > 0)
		if check.Failed() {
			if retries > 0 {
				retries--
				sc.Correction = check.Correction
				continue
			}
			outcome = stepOutcome{kind: specialist.OutcomeFailed, err: check.Err()}
			break
		}
		sc.Correction = ""
		if resolved != "" {
			candidate.TargetFile = resolved
		}

		if step.WorkflowMode == ModeRefine && loops < e.refineMax && !sameDraft(accepted, candidate) {
			accepted = candidate
			sc.PreviousDraft = candidate.Content
			continue
		}
		accepted = candidate
		accepted.Metadata.LoopIterations = loops
		outcome = stepOutcome{kind: specialist.OutcomeSuccess, output: accepted}
		break
	}

	e.logStepEnd(step, outcome, time.Since(start))
	e.logger.PhaseComplete("STEP", r.plan.ID, step.SpecialistID, time.Since(start), string(outcome.kind))
	e.endStepSpan(span, outcome)
	return outcome
}

func sameDraft(prev, next *specialist.Output) bool {
	return prev != nil && strings.TrimSpace(prev.Content) == strings.TrimSpace(next.Content)
}

func (e *Executor) interactionResult(ctx context.Context, r *run, step Step, so stepOutcome) *Result {
	req := so.interaction
	snap := &ResumeSnapshot{
		ID:              uuid.NewString(),
		PlanID:          r.plan.ID,
		PlanFingerprint: r.plan.Fingerprint(),
		Plan:            r.plan,
		Results:         r.results.Clone(),
		Session:         r.session.Clone(),
		UserInput:       r.userInput,
		FailingStep:     step.Index,
		SpecialistID:    step.SpecialistID,
		StepContext:     req.Step,
		Loop:            req.Loop,
		PendingQuestion: req.Question,
		LastToolResults: req.LastToolResults,
		RefineLoops:     so.loops,
		RefineDraft:     so.accepted,
		CreatedAt:       time.Now(),
	}
	if e.journal != nil {
		snap.JournalID = e.journal.ID
	}
	e.publish(ctx, events.Event{
		Type:       events.InteractionRequired,
		PlanID:     r.plan.ID,
		Step:       step.Index,
		Specialist: step.SpecialistID,
		Message:    req.Question,
	})
	return &Result{
		Intent:   IntentInteraction,
		PlanID:   r.plan.ID,
		Results:  r.results.Clone(),
		Summary:  fmt.Sprintf("Step %d (%s) needs input: %s", step.Index, step.SpecialistID, req.Question),
		Session:  r.session,
		Snapshot: snap,
		Question: req.Question,
	}
}

func (e *Executor) failedResult(ctx context.Context, r *run, step Step, err error) *Result {
	if err == nil {
		err = fmt.Errorf("step %d failed", step.Index)
	}
	fc := &FailureContext{
		Plan:             r.plan,
		CompletedSteps:   len(r.results),
		FailedStep:       step.Index,
		FailedSpecialist: step.SpecialistID,
		Error:            err.Error(),
		Results:          r.results.Clone(),
		Session:          r.session.Clone(),
		UserInput:        r.userInput,
		Options:          []string{"resume", "replan", "abort"},
	}
	for _, s := range r.plan.Steps {
		status := StatusPending
		switch {
		case hasResult(r.results, s.Index):
			status = StatusCompleted
		case s.Index == step.Index:
			status = StatusFailed
		}
		fc.Steps = append(fc.Steps, StepStatus{Index: s.Index, SpecialistID: s.SpecialistID, Description: s.Description, Status: status})
	}
	e.publish(ctx, events.Event{
		Type:       events.StepFailed,
		PlanID:     r.plan.ID,
		Step:       step.Index,
		Specialist: step.SpecialistID,
		Message:    err.Error(),
	})
	if me, ok := asModelError(err); ok {
		if hint := me.Hint(); hint != "" {
			fc.Error += " (" + hint + ")"
		}
	}
	return &Result{
		Intent:  IntentFailed,
		PlanID:  r.plan.ID,
		Results: r.results.Clone(),
		Summary: fmt.Sprintf("Step %d (%s) failed after %d completed steps", step.Index, step.SpecialistID, len(r.results)),
		Session: r.session,
		Failure: fc,
		Error:   fc.Error,
		Err:     err,
	}
}

func (e *Executor) cancelledResult(r *run, next int) *Result {
	e.logger.Info("plan cancelled", map[string]interface{}{
		"plan":      r.plan.ID,
		"completed": len(r.results),
		"next_step": next,
	})
	return &Result{
		Intent:  IntentCancelled,
		PlanID:  r.plan.ID,
		Results: r.results.Clone(),
		Summary: fmt.Sprintf("Cancelled before step %d with %d completed steps", next, len(r.results)),
		Session: r.session,
	}
}

func (e *Executor) planError(p *Plan, err error, start time.Time) (*Result, error) {
	res := &Result{
		Intent:    IntentError,
		Results:   Results{},
		Summary:   "Plan could not be executed",
		ElapsedMs: time.Since(start).Milliseconds(),
		Error:     err.Error(),
		Err:       err,
	}
	if p != nil {
		res.PlanID = p.ID
	}
	e.logger.Error("plan rejected", map[string]interface{}{"plan": res.PlanID, "error": err.Error()})
	e.logPlanEnd(res)
	return res, err
}

// finish stamps timing, closes the journal and publishes the final intent.
func (e *Executor) finish(ctx context.Context, span trace.Span, r *run, res *Result) (*Result, error) {
	res.ElapsedMs = time.Since(r.start).Milliseconds()
	if e.journal != nil {
		res.JournalID = e.journal.ID
	}
	e.logger.ExecutionComplete(r.plan.ID, time.Since(r.start), string(res.Intent))
	e.logPlanEnd(res)
	e.publish(ctx, events.Event{Type: events.PlanFinished, PlanID: r.plan.ID, Intent: string(res.Intent), Message: res.Summary})
	e.endPlanSpan(span, res)

	if res.Intent == IntentFailed || res.Intent == IntentError {
		return res, res.Err
	}
	return res, nil
}

func (e *Executor) publish(ctx context.Context, evt events.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if e.journal != nil {
		evt.SessionID = e.journal.ID
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.logger.Warn("event publish failed", map[string]interface{}{
			"type":  string(evt.Type),
			"error": err.Error(),
		})
	}
}

func asModelError(err error) (*model.Error, bool) {
	var me *model.Error
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
