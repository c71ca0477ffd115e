// Package specialist runs one specialist as a bounded agent loop:
// prompt, model call, parse, sequential tool execution, repeat.
package specialist

import (
	"errors"
	"strings"
	"time"

	"github.com/vinayprograms/docplan/internal/config"
	"github.com/vinayprograms/docplan/internal/history"
	"github.com/vinayprograms/docplan/internal/parser"
	"github.com/vinayprograms/docplan/internal/project"
	"github.com/vinayprograms/docplan/internal/toolexec"
)

// ErrIterationExhausted is returned when a loop ran out of iterations with
// nothing usable to show for it.
var ErrIterationExhausted = errors.New("iteration limit exhausted")

// ErrCancelled marks a loop stopped by the cancellation predicate or context.
var ErrCancelled = errors.New("execution cancelled")

// Archetype decides how requiresFileEditing is inferred.
type Archetype string

const (
	// ArchetypeDirect specialists mutate files themselves.
	ArchetypeDirect Archetype = "direct"
	// ArchetypeDecision specialists need an edit only if they touched a file tool.
	ArchetypeDecision Archetype = "decision"
	// ArchetypeNonFile specialists never produce file edits.
	ArchetypeNonFile Archetype = "nonfile"
	// ArchetypeUnknown falls back to tool-usage inference.
	ArchetypeUnknown Archetype = ""
)

// ParseArchetype maps a config value to an Archetype.
func ParseArchetype(s string) Archetype {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "direct-execution", "direct_execution":
		return ArchetypeDirect
	case "decision", "decision-only", "decision_only":
		return ArchetypeDecision
	case "nonfile", "non-file", "non_file":
		return ArchetypeNonFile
	}
	return ArchetypeUnknown
}

// Profile describes a specialist.
type Profile struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Category  string    `json:"category,omitempty"`
	Archetype Archetype `json:"archetype,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
}

// Profiles is the set of known specialists keyed by id.
type Profiles map[string]Profile

// ProfilesFromConfig builds profiles from the [specialists] config section.
func ProfilesFromConfig(specs map[string]config.SpecialistConfig) Profiles {
	p := make(Profiles, len(specs))
	for id, sc := range specs {
		p[id] = Profile{
			ID:        id,
			Role:      sc.Role,
			Category:  sc.Category,
			Archetype: ParseArchetype(sc.Archetype),
			Prompt:    sc.Prompt,
		}
	}
	return p
}

// Lookup returns the profile for id. Unknown ids get a profile whose role is
// the id itself and whose archetype is unknown.
func (p Profiles) Lookup(id string) Profile {
	if prof, ok := p[id]; ok {
		if prof.ID == "" {
			prof.ID = id
		}
		if prof.Role == "" {
			prof.Role = id
		}
		return prof
	}
	return Profile{ID: id, Role: id, Archetype: ArchetypeUnknown}
}

// Dependency is the output of an earlier step handed to a later one.
type Dependency struct {
	StepIndex      int                    `json:"step_index"`
	SpecialistID   string                 `json:"specialist_id"`
	Description    string                 `json:"description"`
	Content        string                 `json:"content"`
	StructuredData map[string]interface{} `json:"structured_data,omitempty"`
}

// StepView is a read-only projection of one plan step.
type StepView struct {
	Index        int    `json:"index"`
	Description  string `json:"description"`
	SpecialistID string `json:"specialist_id"`
	Status       string `json:"status"` // pending, current, completed
}

// StepContext is everything a specialist sees about its step.
type StepContext struct {
	PlanID         string          `json:"plan_id"`
	StepIndex      int             `json:"step_index"`
	Description    string          `json:"description"`
	ExpectedOutput string          `json:"expected_output,omitempty"`
	Language       string          `json:"language,omitempty"`
	WorkflowMode   string          `json:"workflow_mode,omitempty"`
	UserInput      string          `json:"user_input,omitempty"` // kept for callers; never rendered
	Session        project.Context `json:"session"`
	Dependencies   []Dependency    `json:"dependencies,omitempty"`
	Plan           []StepView      `json:"plan,omitempty"`
	Correction     string          `json:"correction,omitempty"`
	PreviousDraft  string          `json:"previous_draft,omitempty"`
}

// IterationRecord is one completed iteration.
type IterationRecord struct {
	Iteration   int               `json:"iteration"`
	ModelText   string            `json:"model_text,omitempty"`
	ToolCalls   []parser.ToolCall `json:"tool_calls"`
	ToolResults []toolexec.Result `json:"tool_results"`
	Summary     string            `json:"summary"`
	Timestamp   time.Time         `json:"timestamp"`
	ElapsedMs   int64             `json:"elapsed_ms"`
}

// LoopState is the specialist's progress within one step. It is a value:
// Execute takes it in through ResumeState and hands the updated copy back.
type LoopState struct {
	SpecialistID       string            `json:"specialist_id"`
	CurrentIteration   int               `json:"current_iteration"`
	MaxIterations      int               `json:"max_iterations"`
	History            []IterationRecord `json:"history"`
	Entries            []history.Entry   `json:"entries"`
	IsActive           bool              `json:"is_active"`
	StartedAt          time.Time         `json:"started_at"`
	LastContinueReason string            `json:"last_continue_reason,omitempty"`
	ToolsUsed          []string          `json:"tools_used,omitempty"`
	FileMutated        bool              `json:"file_mutated,omitempty"`
}

// Clone returns a deep enough copy that appends on either side do not alias.
func (s LoopState) Clone() LoopState {
	c := s
	c.History = append([]IterationRecord(nil), s.History...)
	c.Entries = append([]history.Entry(nil), s.Entries...)
	c.ToolsUsed = append([]string(nil), s.ToolsUsed...)
	return c
}

// ResumeState continues a paused loop.
type ResumeState struct {
	Loop            LoopState         `json:"loop"`
	LastToolResults []toolexec.Result `json:"last_tool_results,omitempty"`
	UserReply       string            `json:"user_reply"`
}

// Metadata describes how an output was produced.
type Metadata struct {
	SpecialistID   string    `json:"specialist_id"`
	Iterations     int       `json:"iterations"`
	LoopIterations int       `json:"loop_iterations"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	ToolsUsed      []string  `json:"tools_used"`
	Timestamp      time.Time `json:"timestamp"`
	Degraded       bool      `json:"degraded,omitempty"`
}

// Output is the result of a successful specialist run (a step result).
type Output struct {
	Success             bool                   `json:"success"`
	Content             string                 `json:"content"`
	StructuredData      map[string]interface{} `json:"structured_data,omitempty"`
	RequiresFileEditing bool                   `json:"requires_file_editing"`
	TargetFile          string                 `json:"target_file,omitempty"`
	EditInstructions    string                 `json:"edit_instructions,omitempty"`
	Error               string                 `json:"error,omitempty"`
	Metadata            Metadata               `json:"metadata"`
}

// InteractionRequest is returned when a tool asked for human input.
type InteractionRequest struct {
	Question        string            `json:"question"`
	SpecialistID    string            `json:"specialist_id"`
	StepIndex       int               `json:"step_index"`
	Iteration       int               `json:"iteration"`
	Loop            LoopState         `json:"loop"`
	LastToolResults []toolexec.Result `json:"last_tool_results,omitempty"`
	Step            StepContext       `json:"step"`
}

// OutcomeKind discriminates Outcome.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeNeedsInteraction OutcomeKind = "needs_interaction"
	OutcomeFailed           OutcomeKind = "failed"
	OutcomeCancelled        OutcomeKind = "cancelled"
)

// Outcome is the tagged result of Execute. Exactly one of Output and
// Interaction is set for success and needs_interaction; Err is set for
// failed and cancelled.
type Outcome struct {
	Kind        OutcomeKind
	Output      *Output
	Interaction *InteractionRequest
	Err         error
	Loop        LoopState
}
