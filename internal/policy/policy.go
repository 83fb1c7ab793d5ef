// Package policy assembles the transition rule table, SLA standards and
// documentation options into one immutable Policy, loaded from YAML or TOML.
//
// A policy file may omit any section; omitted sections keep the built-in
// values. A present section replaces its built-in counterpart wholesale, so
// a transitions list is the complete graph, not a patch.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/grievance/internal/lifecycle"
	"github.com/steveyegge/grievance/internal/sla"
	"github.com/steveyegge/grievance/internal/timeparsing"
	"github.com/steveyegge/grievance/internal/types"
)

// ErrInvalidPolicy wraps every problem found while building a policy.
var ErrInvalidPolicy = errors.New("invalid policy")

// BuiltIn is the Source of the compiled-in default policy.
const BuiltIn = "built-in"

// Policy is an immutable, validated bundle of everything the validator
// consults. Reloading produces a new Policy rather than mutating one.
type Policy struct {
	Source    string
	Table     *lifecycle.Table
	SLA       *sla.Calculator
	Options   lifecycle.Options
	validator *lifecycle.Validator
}

// Validator returns the validator bound to this policy.
func (p *Policy) Validator() *lifecycle.Validator {
	return p.validator
}

func newPolicy(source string, table *lifecycle.Table, calc *sla.Calculator, opts lifecycle.Options) *Policy {
	v := lifecycle.NewValidator(table, calc, opts)
	return &Policy{
		Source:    source,
		Table:     table,
		SLA:       calc,
		Options:   v.Options(),
		validator: v,
	}
}

// Default returns the built-in policy.
func Default() *Policy {
	return newPolicy(BuiltIn, lifecycle.DefaultTable(), sla.Default(), lifecycle.DefaultOptions())
}

// File is the on-disk shape of a policy, shared by the YAML and TOML codecs.
type File struct {
	Documentation *DocumentationSection `yaml:"documentation,omitempty" toml:"documentation,omitempty"`
	SLA           *SLASection           `yaml:"sla,omitempty" toml:"sla,omitempty"`
	Transitions   []RuleSpec            `yaml:"transitions,omitempty" toml:"transitions,omitempty"`
}

// DocumentationSection controls what satisfies a documentation requirement.
type DocumentationSection struct {
	AcceptNotes   *bool `yaml:"accept-notes,omitempty" toml:"accept-notes,omitempty"`
	MinNoteLength *int  `yaml:"min-note-length,omitempty" toml:"min-note-length,omitempty"`
}

// SLASection holds SLA standards keyed by state and priority name.
type SLASection struct {
	BaseHours      map[string]float64 `yaml:"base-hours,omitempty" toml:"base-hours,omitempty"`
	Multipliers    map[string]float64 `yaml:"multipliers,omitempty" toml:"multipliers,omitempty"`
	WarnWithinDays *int               `yaml:"warn-within-days,omitempty" toml:"warn-within-days,omitempty"`
}

// RuleSpec is one transition rule as written in a policy file.
type RuleSpec struct {
	From                   string   `yaml:"from" toml:"from"`
	To                     string   `yaml:"to" toml:"to"`
	Roles                  []string `yaml:"roles,flow" toml:"roles"`
	MinDwell               string   `yaml:"min-dwell,omitempty" toml:"min-dwell,omitempty"`
	RequiresDocumentation  bool     `yaml:"requires-documentation,omitempty" toml:"requires-documentation,omitempty"`
	BlocksOnCriticalSignal bool     `yaml:"blocks-on-critical-signal,omitempty" toml:"blocks-on-critical-signal,omitempty"`
}

// Build validates f and assembles a Policy. All problems are reported
// together, each wrapped in ErrInvalidPolicy.
func Build(source string, f File) (*Policy, error) {
	var errs []error

	opts := lifecycle.DefaultOptions()
	if d := f.Documentation; d != nil {
		if d.AcceptNotes != nil {
			opts.AcceptNotesAsDocumentation = *d.AcceptNotes
		}
		if d.MinNoteLength != nil {
			if *d.MinNoteLength < 1 {
				errs = append(errs, fmt.Errorf("documentation.min-note-length must be at least 1, got %d", *d.MinNoteLength))
			}
			opts.MinNoteLength = *d.MinNoteLength
		}
	}

	std := sla.DefaultStandards()
	if s := f.SLA; s != nil {
		if s.BaseHours != nil {
			std.BaseHours = make(map[types.ClaimState]float64, len(s.BaseHours))
			for k, h := range s.BaseHours {
				std.BaseHours[types.ClaimState(normalize(k))] = h
			}
		}
		if s.Multipliers != nil {
			std.Multipliers = make(map[types.Priority]float64, len(s.Multipliers))
			for k, m := range s.Multipliers {
				std.Multipliers[types.Priority(normalize(k))] = m
			}
		}
		if s.WarnWithinDays != nil {
			if *s.WarnWithinDays < 0 {
				errs = append(errs, fmt.Errorf("sla.warn-within-days must not be negative, got %d", *s.WarnWithinDays))
			}
			opts.SLAWarnWithinDays = *s.WarnWithinDays
		}
	}
	calc, err := sla.NewCalculator(std)
	if err != nil {
		errs = append(errs, err)
	}

	rules := lifecycle.DefaultRules()
	if f.Transitions != nil {
		rules = make([]lifecycle.Rule, 0, len(f.Transitions))
		for i, spec := range f.Transitions {
			rule, err := spec.rule()
			if err != nil {
				errs = append(errs, fmt.Errorf("transitions[%d]: %w", i, err))
				continue
			}
			rules = append(rules, rule)
		}
	}
	table, err := lifecycle.NewTable(rules)
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w (%s):\n%w", ErrInvalidPolicy, source, errors.Join(errs...))
	}
	return newPolicy(source, table, calc, opts), nil
}

func (s RuleSpec) rule() (lifecycle.Rule, error) {
	dwell, err := timeparsing.ParseDuration(s.MinDwell)
	if err != nil {
		return lifecycle.Rule{}, fmt.Errorf("%s -> %s: min-dwell: %w", s.From, s.To, err)
	}
	roles := make([]types.Role, 0, len(s.Roles))
	for _, r := range s.Roles {
		roles = append(roles, types.Role(strings.ToLower(strings.TrimSpace(r))))
	}
	return lifecycle.Rule{
		From:                   types.ClaimState(normalize(s.From)),
		To:                     types.ClaimState(normalize(s.To)),
		Roles:                  roles,
		MinDwell:               dwell,
		RequiresDocumentation:  s.RequiresDocumentation,
		BlocksOnCriticalSignal: s.BlocksOnCriticalSignal,
	}, nil
}

// normalize accepts "Under-Review" for under_review. Unknown names pass
// through so table validation can name them.
func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// ToFile renders p in its on-disk shape, with every section filled in.
func (p *Policy) ToFile() File {
	std := p.SLA.Standards()
	base := make(map[string]float64, len(std.BaseHours))
	for k, h := range std.BaseHours {
		base[string(k)] = h
	}
	mult := make(map[string]float64, len(std.Multipliers))
	for k, m := range std.Multipliers {
		mult[string(k)] = m
	}

	accept := p.Options.AcceptNotesAsDocumentation
	minLen := p.Options.MinNoteLength
	warn := p.Options.SLAWarnWithinDays

	rules := p.Table.Rules()
	specs := make([]RuleSpec, 0, len(rules))
	for _, r := range rules {
		roles := make([]string, len(r.Roles))
		for i, role := range r.Roles {
			roles[i] = string(role)
		}
		spec := RuleSpec{
			From:                   string(r.From),
			To:                     string(r.To),
			Roles:                  roles,
			RequiresDocumentation:  r.RequiresDocumentation,
			BlocksOnCriticalSignal: r.BlocksOnCriticalSignal,
		}
		if r.MinDwell > 0 {
			spec.MinDwell = formatDwell(r.MinDwell)
		}
		specs = append(specs, spec)
	}

	return File{
		Documentation: &DocumentationSection{AcceptNotes: &accept, MinNoteLength: &minLen},
		SLA:           &SLASection{BaseHours: base, Multipliers: mult, WarnWithinDays: &warn},
		Transitions:   specs,
	}
}

// formatDwell prefers hours so dumped policies read like the docs ("168h").
func formatDwell(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return timeparsing.FormatDuration(d)
}
