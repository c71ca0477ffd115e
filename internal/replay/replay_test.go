package replay

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/docplan/internal/session"
)

func testJournal() *session.Session {
	sess := session.New("srs-001", map[string]string{"request": "Write an SRS"})
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	add := func(offset time.Duration, e session.Event) {
		e.Timestamp = base.Add(offset)
		sess.AddEvent(e)
	}
	add(0, session.Event{Type: session.EventPlanStart, Content: "Software requirements"})
	add(time.Second, session.Event{Type: session.EventStepStart, Step: 1, Specialist: "write_fr", Content: "Write functional requirements"})
	add(2*time.Second, session.Event{Type: session.EventFormatError, Step: 1, Specialist: "write_fr", Iteration: 1, Meta: &session.EventMeta{Attempt: 1}})
	add(3*time.Second, session.Event{Type: session.EventModelRetry, Step: 1, Specialist: "write_fr", Iteration: 1, Error: "context length exceeded", Meta: &session.EventMeta{Class: "token_limit", Attempt: 1}})
	add(4*time.Second, session.Event{Type: session.EventToolCall, Step: 1, Specialist: "write_fr", Iteration: 1, Tool: "write_file", Args: map[string]interface{}{"path": "docs/SRS.md"}})
	add(4*time.Second, session.Event{Type: session.EventToolResult, Step: 1, Specialist: "write_fr", Iteration: 1, Tool: "write_file", Success: session.Bool(false), Error: "disk full"})
	add(5*time.Second, session.Event{Type: session.EventIteration, Step: 1, Specialist: "write_fr", Iteration: 1, Content: "called write_file (1 failed)", DurationMs: 1500, Meta: &session.EventMeta{Phase: "early", MaxIterations: 10}})
	add(6*time.Second, session.Event{Type: session.EventValidation, Step: 1, Specialist: "write_fr", Success: session.Bool(false), Meta: &session.EventMeta{Triggers: []string{"missing_edit_instructions"}, Correction: "Include edit_instructions"}})
	add(7*time.Second, session.Event{Type: session.EventInteraction, Step: 1, Specialist: "write_fr", Iteration: 2, Meta: &session.EventMeta{Question: "Which payment providers?"}})
	add(8*time.Second, session.Event{Type: session.EventStepEnd, Step: 1, Specialist: "write_fr", Success: session.Bool(true), DurationMs: 7000, Meta: &session.EventMeta{LoopIterations: 2}})
	sess.Finish(session.StatusComplete, "done", "")
	return sess
}

func TestReplay(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, 1)
	if err := r.Replay(testJournal()); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"JOURNAL", "srs-001", "PLAN START", "STEP 1", "[write_fr]",
		"FORMAT ERROR", "MODEL RETRY", "token_limit",
		"write_file", "disk full",
		"write_fr #1/10", "VALIDATE", "missing_edit_instructions", "Include edit_instructions",
		"QUESTION", "Which payment providers?", "2 loops", "COMPLETED", "PLAN STATISTICS",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestReplayQuietHidesDetails(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, 0).Replay(testJournal()); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Include edit_instructions") {
		t.Error("corrections should only show when verbose")
	}
}

func TestReplayFile(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sess := testJournal()
	if err := store.Save(sess); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var buf bytes.Buffer
	r := New(&buf, 0, WithMaxContentSize(10))
	if err := r.ReplayFile(store.Path(sess.ID)); err != nil {
		t.Fatalf("ReplayFile failed: %v", err)
	}
	if !strings.Contains(buf.String(), sess.ID) {
		t.Error("output should name the journal")
	}
	if err := r.ReplayFile(store.Path("missing")); err == nil {
		t.Error("expected error for missing journal")
	}
}

func TestComputeStats(t *testing.T) {
	stats := ComputeStats(testJournal())
	if stats.TotalDurationMs != 8000 {
		t.Errorf("expected 8s total, got %d", stats.TotalDurationMs)
	}
	if stats.StepsCompleted != 1 || stats.StepsFailed != 0 {
		t.Errorf("unexpected step counts: %+v", stats)
	}
	if stats.Iterations["write_fr"] != 1 || stats.IterAvgMs != 1500 {
		t.Errorf("unexpected iteration stats: %v avg %d", stats.Iterations, stats.IterAvgMs)
	}
	if stats.ToolCalls != 1 || stats.ToolFailures != 1 {
		t.Errorf("unexpected tool stats: %d/%d", stats.ToolCalls, stats.ToolFailures)
	}
	if stats.FormatErrors != 1 || stats.ModelRetries != 1 || stats.ValidationFailures != 1 || stats.Interactions != 1 {
		t.Errorf("unexpected recovery stats: %+v", stats)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[int64]string{
		500:    "500ms",
		1500:   "1.50s",
		125000: "2m5s",
	}
	for ms, want := range tests {
		if got := formatDuration(ms); got != want {
			t.Errorf("formatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestWrapContent(t *testing.T) {
	got := wrapContent("short\nthis line is definitely longer than twenty", 20)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 20 {
			t.Errorf("line too wide: %q", line)
		}
	}
	if wrapContent("x", 0) != "x" {
		t.Error("zero width should not wrap")
	}
}
