package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/vinayprograms/docplan/internal/project"
	"github.com/vinayprograms/docplan/internal/specialist"
	"github.com/vinayprograms/docplan/internal/toolexec"
)

// ErrSnapshotMismatch is returned when a snapshot is replayed against a
// different plan than the one it was taken from.
var ErrSnapshotMismatch = errors.New("snapshot does not belong to this plan")

// ResumeSnapshot is everything needed to continue a paused execution without
// redoing completed steps. It is plain data and round-trips through JSON.
type ResumeSnapshot struct {
	ID              string                 `json:"id"`
	PlanID          string                 `json:"plan_id"`
	PlanFingerprint string                 `json:"plan_fingerprint"`
	Plan            *Plan                  `json:"plan"`
	Results         Results                `json:"results"`
	Session         project.Context        `json:"session"`
	UserInput       string                 `json:"user_input,omitempty"`
	JournalID       string                 `json:"journal_id,omitempty"`
	FailingStep     int                    `json:"failing_step"`
	SpecialistID    string                 `json:"specialist_id"`
	StepContext     specialist.StepContext `json:"step_context"`
	Loop            specialist.LoopState   `json:"loop"`
	PendingQuestion string                 `json:"pending_question"`
	LastToolResults []toolexec.Result      `json:"last_tool_results,omitempty"`
	RefineLoops     int                    `json:"refine_loops,omitempty"` // finished runs of the paused step in refine mode
	RefineDraft     *specialist.Output     `json:"refine_draft,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Matches reports whether the snapshot can be replayed against p.
func (s *ResumeSnapshot) Matches(p *Plan) error {
	if s == nil {
		return fmt.Errorf("%w: no snapshot", ErrSnapshotMismatch)
	}
	if s.PlanID != p.ID {
		return fmt.Errorf("%w: snapshot plan %q, got %q", ErrSnapshotMismatch, s.PlanID, p.ID)
	}
	if s.PlanFingerprint != p.Fingerprint() {
		return fmt.Errorf("%w: plan %q changed since the snapshot was taken", ErrSnapshotMismatch, p.ID)
	}
	if _, ok := p.Step(s.FailingStep); !ok {
		return fmt.Errorf("%w: step %d is not in the plan", ErrSnapshotMismatch, s.FailingStep)
	}
	for idx := range s.Results {
		if idx >= s.FailingStep {
			return fmt.Errorf("%w: result for step %d recorded after the paused step %d", ErrSnapshotMismatch, idx, s.FailingStep)
		}
	}
	return nil
}
