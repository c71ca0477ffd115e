// Package validation checks specialist output before it is recorded and
// produces corrective guidance for a retry.
package validation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"
)

// Trigger names a validation failure.
type Trigger string

const (
	TriggerEmptyOutput             Trigger = "empty_output"
	TriggerMissingEditInstructions Trigger = "missing_edit_instructions"
	TriggerMissingTargetFile       Trigger = "missing_target_file"
	TriggerTargetPathRejected      Trigger = "target_path_rejected"
)

// Facts is what the validator needs to know about one output.
type Facts struct {
	StepIndex           int
	SpecialistID        string
	Content             string
	HasStructuredData   bool
	RequiresFileEditing bool
	TargetFile          string
	EditInstructions    string
	PathError           error // set when the target file could not be resolved
}

// Result is the outcome of Check.
type Result struct {
	StepIndex  int       `json:"step_index"`
	Triggers   []Trigger `json:"triggers,omitempty"`
	Correction string    `json:"correction,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Failed reports whether any trigger fired.
func (r *Result) Failed() bool {
	return len(r.Triggers) > 0
}

// Err converts a failed result into an *Error, or nil.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}
	return &Error{StepIndex: r.StepIndex, Triggers: r.Triggers, Correction: r.Correction}
}

// Error is a validation failure.
type Error struct {
	StepIndex  int
	Triggers   []Trigger
	Correction string
}

func (e *Error) Error() string {
	names := make([]string, len(e.Triggers))
	for i, t := range e.Triggers {
		names[i] = string(t)
	}
	return fmt.Sprintf("step %d failed validation: %s", e.StepIndex, strings.Join(names, ", "))
}

// Validator runs static checks on specialist output.
type Validator struct {
	logger *logging.Logger
}

// New creates a validator.
func New() *Validator {
	return &Validator{logger: logging.New().WithComponent("validation")}
}

// Check evaluates facts and returns the fired triggers with guidance text.
func (v *Validator) Check(f Facts) *Result {
	start := time.Now()
	result := &Result{StepIndex: f.StepIndex, Timestamp: start}

	var guidance []string

	if strings.TrimSpace(f.Content) == "" && !f.HasStructuredData {
		result.Triggers = append(result.Triggers, TriggerEmptyOutput)
		guidance = append(guidance, "Your previous answer had no content. Call complete_task with the full output in \"content\".")
	}

	if f.RequiresFileEditing {
		if strings.TrimSpace(f.EditInstructions) == "" {
			result.Triggers = append(result.Triggers, TriggerMissingEditInstructions)
			guidance = append(guidance, "You changed or proposed changes to files but gave no edit instructions. Include \"edit_instructions\" in complete_task describing exactly how to apply the change.")
		}
		if strings.TrimSpace(f.TargetFile) == "" {
			result.Triggers = append(result.Triggers, TriggerMissingTargetFile)
			guidance = append(guidance, "Include \"target_file\" in complete_task with the path relative to the project root.")
		}
	}

	if f.PathError != nil {
		result.Triggers = append(result.Triggers, TriggerTargetPathRejected)
		guidance = append(guidance, fmt.Sprintf("The target file %q was rejected (%v). Use a path inside the project, relative to its root, without \"..\".", f.TargetFile, f.PathError))
	}

	result.Correction = strings.Join(guidance, "\n")

	triggers := make([]string, len(result.Triggers))
	for i, t := range result.Triggers {
		triggers[i] = string(t)
	}
	stepID := strconv.Itoa(f.StepIndex)
	v.logger.ReconcilePhase(f.SpecialistID, stepID, triggers, result.Failed())
	v.logger.PhaseComplete("VALIDATE", f.SpecialistID, stepID, time.Since(start), fmt.Sprintf("failed=%v", result.Failed()))

	return result
}
