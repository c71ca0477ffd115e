package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/docplan/internal/events"
	"github.com/vinayprograms/docplan/internal/iterlimit"
	"github.com/vinayprograms/docplan/internal/model"
	"github.com/vinayprograms/docplan/internal/project"
	"github.com/vinayprograms/docplan/internal/session"
	"github.com/vinayprograms/docplan/internal/specialist"
	"github.com/vinayprograms/docplan/internal/toolexec"
	"github.com/vinayprograms/docplan/internal/validation"
)

// routedModel answers per specialist, read from the prompt's root element.
// The last reply for a specialist repeats once its script runs out.
type routedModel struct {
	mu      sync.Mutex
	replies map[string][]string
	errs    map[string]error
	prompts map[string][]string
}

func newRoutedModel() *routedModel {
	return &routedModel{replies: map[string][]string{}, errs: map[string]error{}, prompts: map[string][]string{}}
}

func (m *routedModel) script(id string, replies ...string) *routedModel {
	m.replies[id] = replies
	return m
}

func (m *routedModel) Send(ctx context.Context, prompt string, tools []llm.ToolDef) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := specialistOf(prompt)
	n := len(m.prompts[id])
	m.prompts[id] = append(m.prompts[id], prompt)
	if err := m.errs[id]; err != nil {
		return "", err
	}
	list := m.replies[id]
	if len(list) == 0 {
		return "", nil
	}
	if n >= len(list) {
		n = len(list) - 1
	}
	return list[n], nil
}

func (m *routedModel) calls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts[id])
}

func (m *routedModel) prompt(id string, i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[id][i]
}

func specialistOf(prompt string) string {
	const marker = `<specialist id="`
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	return rest[:strings.IndexByte(rest, '"')]
}

func complete(content string) string {
	return fmt.Sprintf(`{"tool_calls": [{"name": "complete_task", "args": {"content": %q}}]}`, content)
}

func srsPlan() *Plan {
	return &Plan{
		ID:          "srs-001",
		Description: "Software requirements for Shop",
		Steps: []Step{
			{Index: 1, SpecialistID: "init", Description: "Initialize the project"},
			{Index: 2, SpecialistID: "write_fr", Description: "Write functional requirements", DependsOn: []int{1}},
			{Index: 3, SpecialistID: "write_nfr", Description: "Write non-functional requirements", DependsOn: []int{1, 2}},
		},
	}
}

type fixture struct {
	exec      *Executor
	publisher *events.MemoryPublisher
	store     *project.StaticStore
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	backend := toolexec.NewMapBackend()
	backend.Register(llm.ToolDef{Name: "write_file", Description: "Write a file"}, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"success": true}, nil
	})
	policy := model.DefaultPolicy()
	policy.InitialBackoff = time.Millisecond
	policy.MaxBackoff = 2 * time.Millisecond

	specs := specialist.New(specialist.Config{
		Facade: toolexec.NewFacade(backend, nil, []string{"write_file"}),
		Limits: iterlimit.NewResolver(iterlimit.Layers{GlobalDefault: 5}, nil),
		Profiles: specialist.Profiles{
			"write_fr": {Role: "writer", Archetype: specialist.ArchetypeDecision},
		},
		Caller: model.NewCaller(policy),
	})
	f := &fixture{
		publisher: events.NewMemoryPublisher(),
		store:     project.NewStaticStore(project.Context{Name: "Shop", BaseDir: "/work/Shop"}),
	}
	cfg := Config{
		Specialists:       specs,
		Validator:         validation.New(),
		SessionStore:      f.store,
		SessionChanging:   []string{"init"},
		ValidationRetries: 1,
		RefineMax:         3,
		Publisher:         f.publisher,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.exec = New(cfg)
	return f
}

func TestExecuteCompletesPlan(t *testing.T) {
	f := newFixture(t, nil)
	m := newRoutedModel().
		script("init", complete("project Shop initialized")).
		script("write_fr", complete("FR-1 users can log in")).
		script("write_nfr", complete("NFR-1 pages load in 2s"))

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{Name: "Shop", BaseDir: "/work/Shop"}, m, "Write an SRS for a shop")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Intent != IntentCompleted {
		t.Fatalf("expected plan_completed, got %s (%s)", res.Intent, res.Error)
	}
	if len(res.Results) != 3 {
		t.Errorf("expected 3 results, got %d", len(res.Results))
	}
	if res.Output == nil || res.Output.Content != "NFR-1 pages load in 2s" {
		t.Errorf("final output should be the last step's: %+v", res.Output)
	}
	if res.Results[2].Metadata.LoopIterations != 1 {
		t.Errorf("expected 1 loop iteration, got %d", res.Results[2].Metadata.LoopIterations)
	}

	nfrPrompt := m.prompt("write_nfr", 0)
	if !strings.Contains(nfrPrompt, "project Shop initialized") || !strings.Contains(nfrPrompt, "FR-1 users can log in") {
		t.Error("step 3 should see both dependencies")
	}
	if strings.Contains(m.prompt("init", 0), "<context>") {
		t.Error("step 1 has no dependencies")
	}
	if strings.Contains(nfrPrompt, "Write an SRS for a shop") {
		t.Error("specialists must get the scoped step description, not the user request")
	}

	want := []events.Type{
		events.PlanStarted,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.StepStarted, events.StepCompleted,
		events.PlanFinished,
	}
	got := f.publisher.Types()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestContextHoldsOnlyDeclaredDependencies(t *testing.T) {
	f := newFixture(t, nil)
	p := srsPlan()
	p.Steps[2].DependsOn = []int{1}
	m := newRoutedModel().
		script("init", complete("INIT-OUTPUT")).
		script("write_fr", complete("FR-OUTPUT")).
		script("write_nfr", complete("NFR-OUTPUT"))

	if _, err := f.exec.Execute(context.Background(), p, project.Context{}, m, ""); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	nfr := m.prompt("write_nfr", 0)
	if !strings.Contains(nfr, "INIT-OUTPUT") {
		t.Error("declared dependency missing")
	}
	if strings.Contains(nfr, "FR-OUTPUT") {
		t.Error("undeclared step output leaked into context")
	}
	if strings.Contains(m.prompt("write_fr", 0), "NFR-OUTPUT") {
		t.Error("later step output leaked into earlier step")
	}
}

func TestEmptyResponsesFailThirdStep(t *testing.T) {
	f := newFixture(t, nil)
	m := newRoutedModel().
		script("init", complete("init done")).
		script("write_fr", complete("fr done"))
	// write_nfr has no script: every reply is empty

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{}, m, "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.Intent != IntentFailed {
		t.Fatalf("expected plan_failed, got %s", res.Intent)
	}
	if res.Failure == nil || res.Failure.FailedStep != 3 || res.Failure.CompletedSteps != 2 {
		t.Fatalf("unexpected failure context: %+v", res.Failure)
	}
	if m.calls("write_nfr") != 3 {
		t.Errorf("expected 3 attempts, got %d", m.calls("write_nfr"))
	}
	for i := 1; i < 3; i++ {
		if !strings.Contains(m.prompt("write_nfr", i), "[warning]") {
			t.Errorf("attempt %d should carry an injected warning", i+1)
		}
	}
	var me *model.Error
	if !errors.As(err, &me) || me.Class != model.ClassTokenLimit {
		t.Errorf("expected token_limit error, got %v", err)
	}
	statuses := map[int]string{}
	for _, s := range res.Failure.Steps {
		statuses[s.Index] = s.Status
	}
	if statuses[1] != StatusCompleted || statuses[2] != StatusCompleted || statuses[3] != StatusFailed {
		t.Errorf("unexpected step statuses: %v", statuses)
	}
	if len(res.Failure.Options) == 0 {
		t.Error("failure should list recovery options")
	}
}

func TestCancellationBetweenSteps(t *testing.T) {
	var cancel bool
	f := newFixture(t, nil)
	f.exec.SetCancelCheck(func() bool { return cancel })
	f.exec.publisher = events.Multi{f.publisher, events.Func(func(e events.Event) {
		if e.Type == events.StepCompleted && e.Step == 1 {
			cancel = true
		}
	})}
	m := newRoutedModel().
		script("init", complete("init done")).
		script("write_fr", complete("fr done")).
		script("write_nfr", complete("nfr done"))

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{}, m, "")
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if res.Intent != IntentCancelled {
		t.Fatalf("expected plan_cancelled, got %s", res.Intent)
	}
	if len(res.Results) != 1 {
		t.Errorf("expected exactly 1 completed result, got %d", len(res.Results))
	}
	if m.calls("write_fr") != 0 {
		t.Error("step 2 should not have started")
	}
}

func TestInteractionSnapshotAndContinue(t *testing.T) {
	f := newFixture(t, nil)
	ask := `{"tool_calls": [{"name": "ask_user", "args": {"question": "Which payment providers?"}}]}`
	m := newRoutedModel().
		script("init", complete("init done")).
		script("write_fr", ask, complete("FR-1 pay with card")).
		script("write_nfr", complete("nfr done"))

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{Name: "Shop"}, m, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Intent != IntentInteraction || res.Snapshot == nil {
		t.Fatalf("expected interaction, got %s", res.Intent)
	}
	if res.Question != "Which payment providers?" {
		t.Errorf("unexpected question %q", res.Question)
	}
	snap := res.Snapshot
	if snap.FailingStep != 2 || len(snap.Results) != 1 || snap.Loop.CurrentIteration != 1 {
		t.Fatalf("unexpected snapshot: step=%d results=%d iter=%d", snap.FailingStep, len(snap.Results), snap.Loop.CurrentIteration)
	}

	// the snapshot must survive a process boundary
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var restored ResumeSnapshot
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	res, err = f.exec.Continue(context.Background(), srsPlan(), &restored, "Card and PayPal", m)
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if res.Intent != IntentCompleted {
		t.Fatalf("expected plan_completed, got %s (%s)", res.Intent, res.Error)
	}
	if m.calls("init") != 1 {
		t.Error("completed steps must not run again")
	}
	if res.Results[1].Content != snap.Results[1].Content {
		t.Error("resumed results for earlier steps must be identical")
	}
	if !strings.Contains(m.prompt("write_fr", 1), "[user reply] Card and PayPal") {
		t.Error("resumed prompt should carry the reply")
	}
	if res.Results[2].Metadata.Iterations != 1 {
		t.Errorf("resume should continue at iteration 1, got %d", res.Results[2].Metadata.Iterations)
	}
}

func TestContinueRejectsForeignSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	p := srsPlan()
	snap := &ResumeSnapshot{PlanID: p.ID, PlanFingerprint: p.Fingerprint(), FailingStep: 2, Results: Results{}}

	changed := srsPlan()
	changed.Steps[1].Description = "Something else"
	res, err := f.exec.Continue(context.Background(), changed, snap, "reply", newRoutedModel())
	if !errors.Is(err, ErrSnapshotMismatch) {
		t.Fatalf("expected snapshot mismatch, got %v", err)
	}
	if res.Intent != IntentError {
		t.Errorf("expected plan_error, got %s", res.Intent)
	}

	other := srsPlan()
	other.ID = "other"
	if _, err := f.exec.Continue(context.Background(), other, snap, "reply", newRoutedModel()); !errors.Is(err, ErrSnapshotMismatch) {
		t.Errorf("expected mismatch for other plan id, got %v", err)
	}
}

func TestInvalidPlanIsPlanError(t *testing.T) {
	f := newFixture(t, nil)
	p := srsPlan()
	p.Steps[1].DependsOn = []int{3}

	res, err := f.exec.Execute(context.Background(), p, project.Context{}, newRoutedModel(), "")
	if !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected invalid plan, got %v", err)
	}
	if res.Intent != IntentError {
		t.Errorf("expected plan_error, got %s", res.Intent)
	}
}

func TestValidationRetryWithGuidance(t *testing.T) {
	base := t.TempDir()
	f := newFixture(t, nil)
	f.store.Set(project.Context{Name: "Shop", BaseDir: base})
	noInstructions := `{"tool_calls": [{"name": "write_file", "args": {"path": "SRS.md"}}, {"name": "complete_task", "args": {"content": "FR section"}}]}`
	fixed := `{"tool_calls": [{"name": "write_file", "args": {"path": "SRS.md"}}, {"name": "complete_task", "args": {"content": "FR section", "target_file": "docs/SRS.md", "edit_instructions": "replace section 3"}}]}`
	m := newRoutedModel().
		script("init", complete("init done")).
		script("write_fr", noInstructions, fixed).
		script("write_nfr", complete("nfr done"))

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{Name: "Shop", BaseDir: base}, m, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Intent != IntentCompleted {
		t.Fatalf("expected plan_completed, got %s (%s)", res.Intent, res.Error)
	}
	if !strings.Contains(m.prompt("write_fr", 1), `<correction source="validation">`) {
		t.Error("retry should carry corrective guidance")
	}
	fr := res.Results[2]
	if !fr.RequiresFileEditing || fr.Metadata.LoopIterations != 2 {
		t.Errorf("unexpected FR result: %+v", fr)
	}
	want := filepath.Join(base, "docs", "SRS.md")
	if fr.TargetFile != want {
		t.Errorf("expected resolved target %s, got %s", want, fr.TargetFile)
	}
	if res.Session.LastModified != want {
		t.Errorf("session should track the edited file, got %q", res.Session.LastModified)
	}
}

func TestValidationFailsAfterRetry(t *testing.T) {
	f := newFixture(t, nil)
	bad := `{"tool_calls": [{"name": "write_file", "args": {"path": "SRS.md"}}, {"name": "complete_task", "args": {"content": "FR section"}}]}`
	m := newRoutedModel().
		script("init", complete("init done")).
		script("write_fr", bad)

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{}, m, "")
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res.Intent != IntentFailed || res.Failure.FailedStep != 2 {
		t.Errorf("unexpected result: %s %+v", res.Intent, res.Failure)
	}
	if m.calls("write_fr") != 2 {
		t.Errorf("expected exactly one retry, got %d calls", m.calls("write_fr"))
	}
}

func TestSessionChangingStepRefreshesContext(t *testing.T) {
	f := newFixture(t, nil)
	f.store.Set(project.Context{Name: "Storefront", BaseDir: "/work/Storefront", Branch: "main"})
	m := newRoutedModel().
		script("init", complete("renamed project")).
		script("write_fr", complete("fr")).
		script("write_nfr", complete("nfr"))

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{Name: "Shop", BaseDir: "/work/Shop"}, m, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Session.Name != "Storefront" {
		t.Errorf("expected refreshed session, got %q", res.Session.Name)
	}
	if !strings.Contains(m.prompt("write_fr", 0), `project="Storefront"`) {
		t.Error("later steps should see the refreshed session")
	}
	if strings.Contains(m.prompt("init", 0), "Storefront") {
		t.Error("session-changing step itself runs with the old context")
	}
}

func TestRefineModeConverges(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RefineMax = 5 })
	p := srsPlan()
	p.Steps[1].WorkflowMode = ModeRefine
	m := newRoutedModel().
		script("init", complete("init")).
		script("write_fr", complete("draft v1"), complete("draft v2"), complete("draft v2")).
		script("write_nfr", complete("nfr"))

	res, err := f.exec.Execute(context.Background(), p, project.Context{}, m, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	fr := res.Results[2]
	if fr.Content != "draft v2" || fr.Metadata.LoopIterations != 3 {
		t.Errorf("expected convergence on v2 after 3 loops, got %q after %d", fr.Content, fr.Metadata.LoopIterations)
	}
	if !strings.Contains(m.prompt("write_fr", 1), "draft v1") {
		t.Error("refine loop should show the previous draft")
	}
}

func TestRefineModeBounded(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RefineMax = 2 })
	p := srsPlan()
	p.Steps[1].WorkflowMode = ModeRefine
	m := newRoutedModel().
		script("init", complete("init")).
		script("write_fr", complete("a"), complete("b"), complete("c")).
		script("write_nfr", complete("nfr"))

	res, _ := f.exec.Execute(context.Background(), p, project.Context{}, m, "")
	if got := res.Results[2].Metadata.LoopIterations; got != 2 {
		t.Errorf("expected 2 loops, got %d", got)
	}
	if m.calls("write_fr") != 2 {
		t.Errorf("expected 2 specialist runs, got %d", m.calls("write_fr"))
	}
}

func TestRefineModeBoundAcrossPause(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RefineMax = 2 })
	p := srsPlan()
	p.Steps[1].WorkflowMode = ModeRefine
	ask := `{"tool_calls": [{"name": "ask_user", "args": {"question": "Which billing model?"}}]}`
	m := newRoutedModel().
		script("init", complete("init")).
		script("write_fr", complete("a"), ask, complete("b"), complete("c"), complete("d")).
		script("write_nfr", complete("nfr"))

	res, err := f.exec.Execute(context.Background(), p, project.Context{}, m, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Intent != IntentInteraction {
		t.Fatalf("expected interaction, got %s", res.Intent)
	}
	if res.Snapshot.RefineLoops != 1 || res.Snapshot.RefineDraft == nil || res.Snapshot.RefineDraft.Content != "a" {
		t.Fatalf("snapshot should carry the finished loop and its draft: %+v", res.Snapshot)
	}

	data, err := json.Marshal(res.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	var restored ResumeSnapshot
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatal(err)
	}

	res, err = f.exec.Continue(context.Background(), p, &restored, "billing", m)
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	fr := res.Results[2]
	if fr.Content != "b" || fr.Metadata.LoopIterations != 2 {
		t.Errorf("expected %q after 2 loops, got %q after %d", "b", fr.Content, fr.Metadata.LoopIterations)
	}
	if m.calls("write_fr") != 3 {
		t.Errorf("expected 3 model calls for 2 loops with one pause, got %d", m.calls("write_fr"))
	}
}

func TestRetryAfterFailure(t *testing.T) {
	f := newFixture(t, nil)
	m := newRoutedModel().
		script("init", complete("init done")).
		script("write_fr", complete("fr")).
		script("write_nfr", complete("nfr"))
	m.errs["write_fr"] = errors.New("401 unauthorized: invalid api key")

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{}, m, "")
	if err == nil || res.Intent != IntentFailed {
		t.Fatalf("expected failure, got %s", res.Intent)
	}
	if m.calls("write_fr") != 1 {
		t.Errorf("auth errors must not be retried, got %d calls", m.calls("write_fr"))
	}

	delete(m.errs, "write_fr")
	res, err = f.exec.Retry(context.Background(), res.Failure, m)
	if err != nil || res.Intent != IntentCompleted {
		t.Fatalf("retry failed: %s %v", res.Intent, err)
	}
	if m.calls("init") != 1 {
		t.Error("completed steps must not run again on retry")
	}
}

func TestJournalRecordsPlan(t *testing.T) {
	f := newFixture(t, nil)
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr := session.NewManager(store)
	journal, err := mgr.Create("srs-001", nil)
	if err != nil {
		t.Fatal(err)
	}
	f.exec.SetJournal(journal, mgr)
	m := newRoutedModel().
		script("init", complete("init")).
		script("write_fr", complete("fr")).
		script("write_nfr", complete("nfr"))

	res, err := f.exec.Execute(context.Background(), srsPlan(), project.Context{}, m, "")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.JournalID != journal.ID {
		t.Error("result should reference the journal")
	}
	loaded, err := store.Load(journal.ID)
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	if loaded.Status != session.StatusComplete {
		t.Errorf("expected complete journal, got %s", loaded.Status)
	}
	if n := len(loaded.EventsOfType(session.EventStepEnd)); n != 3 {
		t.Errorf("expected 3 step_end events, got %d", n)
	}
}
