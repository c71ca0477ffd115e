// Package plan executes declarative multi-step plans, one specialist per step.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan is matched by every plan validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Workflow modes.
const (
	ModeSingle = "single"
	ModeRefine = "refine"
)

// Step is one unit of plan work.
type Step struct {
	Index          int    `yaml:"index" json:"index"`
	Description    string `yaml:"description" json:"description"`
	SpecialistID   string `yaml:"specialist" json:"specialist_id"`
	DependsOn      []int  `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ExpectedOutput string `yaml:"expected_output,omitempty" json:"expected_output,omitempty"`
	Language       string `yaml:"language,omitempty" json:"language,omitempty"`
	WorkflowMode   string `yaml:"workflow_mode,omitempty" json:"workflow_mode,omitempty"`
}

// Plan is an ordered list of steps. It is not modified once execution starts.
type Plan struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// ValidationError lists every problem found in a plan.
type ValidationError struct {
	PlanID   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid plan %q: %s", e.PlanID, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidPlan) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPlan
}

// LoadFile reads a plan from a YAML file.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML plan. Missing step indices are numbered from 1 in
// file order and a missing plan id is generated.
func Parse(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for i := range p.Steps {
		if p.Steps[i].Index == 0 {
			p.Steps[i].Index = i + 1
		}
	}
	return &p, nil
}

// Validate checks that steps are numbered 1..N in order, every step names a
// specialist, and dependencies only point at earlier steps.
func (p *Plan) Validate() error {
	if p == nil {
		return &ValidationError{Problems: []string{"plan is nil"}}
	}
	var problems []string
	if len(p.Steps) == 0 {
		problems = append(problems, "plan has no steps")
	}
	for i, s := range p.Steps {
		if s.Index != i+1 {
			problems = append(problems, fmt.Sprintf("step %d has index %d, want %d", i+1, s.Index, i+1))
		}
		if strings.TrimSpace(s.SpecialistID) == "" {
			problems = append(problems, fmt.Sprintf("step %d has no specialist", s.Index))
		}
		if strings.TrimSpace(s.Description) == "" {
			problems = append(problems, fmt.Sprintf("step %d has no description", s.Index))
		}
		seen := map[int]bool{}
		for _, d := range s.DependsOn {
			if d < 1 || d >= s.Index {
				problems = append(problems, fmt.Sprintf("step %d depends on %d, which is not an earlier step", s.Index, d))
			}
			if seen[d] {
				problems = append(problems, fmt.Sprintf("step %d lists dependency %d twice", s.Index, d))
			}
			seen[d] = true
		}
		switch s.WorkflowMode {
		case "", ModeSingle, ModeRefine:
		default:
			problems = append(problems, fmt.Sprintf("step %d has unknown workflow mode %q", s.Index, s.WorkflowMode))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{PlanID: p.ID, Problems: problems}
	}
	return nil
}

// Step returns the step with the given 1-based index.
func (p *Plan) Step(index int) (Step, bool) {
	if index < 1 || index > len(p.Steps) {
		return Step{}, false
	}
	return p.Steps[index-1], true
}

// Fingerprint identifies the plan's content. Snapshots are only replayed
// against a plan with the same id and fingerprint.
func (p *Plan) Fingerprint() string {
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
