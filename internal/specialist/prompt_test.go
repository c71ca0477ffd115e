package specialist

import (
	"strings"
	"testing"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/docplan/internal/history"
	"github.com/vinayprograms/docplan/internal/project"
	"github.com/vinayprograms/docplan/internal/toolexec"
)

func TestPromptBuilderScopesTask(t *testing.T) {
	step := StepContext{
		PlanID:      "srs",
		StepIndex:   3,
		Description: "Write the non-functional requirements",
		UserInput:   "Build me a complete SRS for a shop app",
		Language:    "en",
		Session:     project.Context{Name: "Shop", BaseDir: "/work/Shop"},
		Dependencies: []Dependency{
			{StepIndex: 1, SpecialistID: "project_initializer", Content: "Project Shop created"},
			{StepIndex: 2, SpecialistID: "fr_writer", Content: "FR-1 login", StructuredData: map[string]interface{}{"count": 1}},
		},
		Plan: []StepView{
			{Index: 1, SpecialistID: "project_initializer", Description: "init", Status: "completed"},
			{Index: 2, SpecialistID: "fr_writer", Description: "write FR", Status: "completed"},
			{Index: 3, SpecialistID: "nfr_writer", Description: "write NFR", Status: "current"},
		},
	}
	b := NewPromptBuilder(Profile{ID: "nfr_writer", Role: "writer", Prompt: "You write requirements."}, step)
	b.SetIteration(1, 10)
	b.SetTools([]llm.ToolDef{{Name: "read", Description: "Read a file"}})

	prompt := b.Build()

	if strings.Contains(prompt, "complete SRS for a shop app") {
		t.Error("prompt must not contain the broad user request")
	}
	for _, want := range []string{
		"<task step=\"3\" language=\"en\">",
		"Write the non-functional requirements",
		"Project Shop created",
		"FR-1 login",
		`"count":1`,
		`<session project="Shop" base-dir="/work/Shop"/>`,
		`status="current"`,
		"- read: Read a file",
		`phase="early"`,
		"You write requirements.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasPrefix(prompt, "<specialist ") || !strings.HasSuffix(prompt, "</specialist>") {
		t.Error("prompt should be wrapped in a specialist element")
	}
}

func TestPromptBuilderOptionalSections(t *testing.T) {
	step := StepContext{StepIndex: 1, Description: "d", Correction: "Provide edit_instructions.", PreviousDraft: "draft v1"}
	b := NewPromptBuilder(Profile{ID: "s", Role: "s"}, step)
	b.SetIteration(5, 5)
	b.SetHistory([]history.Entry{{Iteration: 4, Kind: history.KindIteration, Text: "called read"}})
	b.SetNotes([]string{"remember FR numbering"})
	b.SetLastResults([]toolexec.Result{{Tool: "read", Success: false, Error: "not found"}})

	prompt := b.Build()
	for _, want := range []string{
		`<correction source="validation">`,
		"<previous-draft>",
		"[iteration 4] called read",
		"- remember FR numbering",
		`<result tool="read" success="false">error: not found</result>`,
		`phase="final"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "<context>") {
		t.Error("no dependencies means no context section")
	}
}

func TestNotesBounded(t *testing.T) {
	n := NewNotes()
	for i := 0; i < maxNotes+5; i++ {
		n.Add("s", "note")
	}
	if got := len(n.Get("s")); got != maxNotes {
		t.Errorf("expected %d notes, got %d", maxNotes, got)
	}
	n.Clear("s")
	if len(n.Get("s")) != 0 {
		t.Error("Clear should drop notes")
	}
}
