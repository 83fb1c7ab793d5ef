// Package lifecycle implements the claim state machine: the transition rule
// table, the transition validator and read-only transition queries.
//
// The rule table is pure data validated once at load. Any (from, to) pair
// not present in the table is disallowed; there is no default-permit path.
// A Table is never mutated after NewTable returns, so a single instance can
// be shared by concurrent validations. Reloading policy means building a new
// Table and swapping the reference.
package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/steveyegge/grievance/internal/types"
)

var (
	// ErrInvalidRuleTable is wrapped by every load-time rule table problem.
	ErrInvalidRuleTable = errors.New("invalid rule table")

	// ErrNoSuchRule is returned by queries for a (from, to) pair with no rule.
	ErrNoSuchRule = errors.New("no such rule")
)

// Rule gates one (From, To) edge of the state graph.
type Rule struct {
	From                   types.ClaimState
	To                     types.ClaimState
	Roles                  []types.Role
	MinDwell               time.Duration
	RequiresDocumentation  bool
	BlocksOnCriticalSignal bool // Only meaningful on resolved/rejected -> closed
}

// Table is the validated, immutable state graph.
type Table struct {
	forward map[types.ClaimState]map[types.ClaimState]Rule
	targets map[types.ClaimState][]types.ClaimState // declaration order
	reverse map[types.ClaimState][]types.ClaimState // target -> sources, declaration order
	rules   []Rule
}

// NewTable validates rules and builds the forward and reverse indexes.
// Every problem found is reported, joined into one error wrapping
// ErrInvalidRuleTable.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{
		forward: make(map[types.ClaimState]map[types.ClaimState]Rule),
		targets: make(map[types.ClaimState][]types.ClaimState),
		reverse: make(map[types.ClaimState][]types.ClaimState),
	}

	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidRuleTable, fmt.Sprintf(format, args...)))
	}

	for i, r := range rules {
		if !r.From.IsValid() {
			bad("rule %d: unknown source state %q", i, r.From)
			continue
		}
		if !r.To.IsValid() {
			bad("rule %d: unknown target state %q", i, r.To)
			continue
		}
		if r.From.IsTerminal() {
			bad("rule %d: terminal state %q cannot have outgoing transitions", i, r.From)
			continue
		}
		if r.From == r.To {
			bad("rule %d: self-transition %s -> %s", i, r.From, r.To)
			continue
		}
		if len(r.Roles) == 0 {
			bad("rule %s -> %s: at least one role is required", r.From, r.To)
		}
		for _, role := range r.Roles {
			if !role.IsValid() {
				bad("rule %s -> %s: unknown role %q", r.From, r.To, role)
			}
		}
		if r.MinDwell < 0 {
			bad("rule %s -> %s: negative minimum dwell %s", r.From, r.To, r.MinDwell)
		}
		if _, dup := t.forward[r.From][r.To]; dup {
			bad("duplicate rule %s -> %s", r.From, r.To)
			continue
		}

		r.Roles = dedupeRoles(r.Roles)
		if t.forward[r.From] == nil {
			t.forward[r.From] = make(map[types.ClaimState]Rule)
		}
		t.forward[r.From][r.To] = r
		t.targets[r.From] = append(t.targets[r.From], r.To)
		t.reverse[r.To] = append(t.reverse[r.To], r.From)
		t.rules = append(t.rules, r)
	}

	for _, s := range types.AllStates() {
		if !s.IsTerminal() && len(t.targets[s]) == 0 {
			bad("non-terminal state %q has no outgoing transitions", s)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// MustTable is NewTable for statically known rules; it panics on error.
func MustTable(rules []Rule) *Table {
	t, err := NewTable(rules)
	if err != nil {
		panic(err)
	}
	return t
}

// Rule returns the rule for (from, to).
func (t *Table) Rule(from, to types.ClaimState) (Rule, bool) {
	r, ok := t.forward[from][to]
	if ok {
		r.Roles = append([]types.Role(nil), r.Roles...)
	}
	return r, ok
}

// Targets returns the destinations reachable from a state, in declaration order.
func (t *Table) Targets(from types.ClaimState) []types.ClaimState {
	return append([]types.ClaimState(nil), t.targets[from]...)
}

// Sources returns the states with a rule into target (precomputed reverse index).
func (t *Table) Sources(to types.ClaimState) []types.ClaimState {
	return append([]types.ClaimState(nil), t.reverse[to]...)
}

// Rules returns a copy of every rule in declaration order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		r.Roles = append([]types.Role(nil), r.Roles...)
		out[i] = r
	}
	return out
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Permits reports whether role satisfies the rule's role requirement.
// System satisfies every rule. Unknown roles satisfy none.
func (r Rule) Permits(role types.Role) bool {
	switch role {
	case types.RoleSystem:
		return true
	case types.RoleMember, types.RoleSteward, types.RoleAdmin:
		for _, allowed := range r.Roles {
			if allowed == role {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Requirements projects the rule for front-ends.
func (r Rule) Requirements() types.Requirements {
	return types.Requirements{
		From:                   r.From,
		To:                     r.To,
		Roles:                  append([]types.Role(nil), r.Roles...),
		MinDwell:               r.MinDwell,
		MinHours:               ceilHours(r.MinDwell),
		RequiresDocumentation:  r.RequiresDocumentation,
		BlocksOnCriticalSignal: r.BlocksOnCriticalSignal,
	}
}

func ceilHours(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours()))
}

func dedupeRoles(roles []types.Role) []types.Role {
	seen := make(map[types.Role]bool, len(roles))
	out := make([]types.Role, 0, len(roles))
	for _, r := range roles {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
