package plan

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vinayprograms/docplan/internal/specialist"
)

// ErrResultExists is returned when a step result would be overwritten.
var ErrResultExists = errors.New("step result already recorded")

// Results holds step results keyed by step index. A result is written once.
type Results map[int]specialist.Output

// Record stores out for a step.
func (r Results) Record(index int, out specialist.Output) error {
	if _, ok := r[index]; ok {
		return fmt.Errorf("%w: step %d", ErrResultExists, index)
	}
	r[index] = out
	return nil
}

// Indices returns the recorded step indices in ascending order.
func (r Results) Indices() []int {
	idx := make([]int, 0, len(r))
	for i := range r {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Clone returns a shallow copy of the map.
func (r Results) Clone() Results {
	c := make(Results, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
