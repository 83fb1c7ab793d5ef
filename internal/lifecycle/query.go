package lifecycle

import (
	"fmt"

	"github.com/steveyegge/grievance/internal/types"
)

// AllowedTransitions returns the targets reachable from state whose rules
// the role satisfies. System sees every target. Terminal and unknown states
// return an empty slice.
func (t *Table) AllowedTransitions(state types.ClaimState, role types.Role) []types.ClaimState {
	out := []types.ClaimState{}
	for _, to := range t.targets[state] {
		if t.forward[state][to].Permits(role) {
			out = append(out, to)
		}
	}
	return out
}

// RequirementsFor returns the requirements for one edge, or an error
// wrapping ErrNoSuchRule when the edge does not exist.
func (t *Table) RequirementsFor(from, to types.ClaimState) (types.Requirements, error) {
	r, ok := t.forward[from][to]
	if !ok {
		return types.Requirements{}, fmt.Errorf("%w: %s -> %s", ErrNoSuchRule, displayState(from), displayState(to))
	}
	return r.Requirements(), nil
}

// AllowedTransitions is Table.AllowedTransitions on the validator's table.
func (v *Validator) AllowedTransitions(state types.ClaimState, role types.Role) []types.ClaimState {
	return v.table.AllowedTransitions(state, role)
}

// RequirementsFor is Table.RequirementsFor on the validator's table.
func (v *Validator) RequirementsFor(from, to types.ClaimState) (types.Requirements, error) {
	return v.table.RequirementsFor(from, to)
}
