package specialist

// Phase is the coarse position of an iteration within its budget.
type Phase string

const (
	PhaseEarly  Phase = "early"
	PhaseMiddle Phase = "middle"
	PhaseFinal  Phase = "final"
)

// PhaseFor classifies iteration (1-based) against max. The last iteration is
// always final.
func PhaseFor(iteration, max int) Phase {
	if max <= 1 || iteration >= max {
		return PhaseFinal
	}
	// integer form of iteration/max < 1/3 and < 2/3
	switch {
	case 3*iteration < max:
		return PhaseEarly
	case 3*iteration < 2*max:
		return PhaseMiddle
	default:
		return PhaseFinal
	}
}

// lastIterationGuidance replaces the final-phase text on the last iteration.
const lastIterationGuidance = "This is your last iteration. Call complete_task now with the best output you have."

// GuidanceFor returns the instruction text for an iteration.
func GuidanceFor(iteration, max int) string {
	if iteration >= max {
		return lastIterationGuidance
	}
	return PhaseFor(iteration, max).Guidance()
}

// Guidance returns the instruction text injected for a phase.
func (p Phase) Guidance() string {
	switch p {
	case PhaseEarly:
		return "You are early in this task. Gather what you need: read files, inspect dependencies and record notes before committing to an answer."
	case PhaseMiddle:
		return "You are midway through this task. Start producing the deliverable and use tools only for what is still missing."
	default:
		return "You are near the end of your iteration budget. Finish the deliverable and call complete_task soon."
	}
}
