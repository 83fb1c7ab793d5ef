package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/grievance/internal/lifecycle"
	"github.com/steveyegge/grievance/internal/types"
)

const samplePolicyYAML = `
documentation:
  accept-notes: false
sla:
  multipliers: {low: 2, medium: 1, high: 0.5, critical: 0.25}
  warn-within-days: 3
transitions:
  - from: submitted
    to: under-review
    roles: [steward]
  - from: under_review
    to: resolved
    roles: [steward, admin]
    min-dwell: 2d
    requires-documentation: true
  - from: resolved
    to: closed
    roles: [admin]
    min-dwell: 168h
    blocks-on-critical-signal: true
  - {from: assigned, to: resolved, roles: [steward]}
  - {from: investigation, to: resolved, roles: [steward]}
  - {from: pending_documentation, to: resolved, roles: [member]}
  - {from: rejected, to: closed, roles: [admin]}
`

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, BuiltIn, p.Source)
	assert.Equal(t, lifecycle.DefaultOptions(), p.Options)
	assert.Equal(t, len(lifecycle.DefaultRules()), p.Table.Len())
	require.NotNil(t, p.Validator())
	assert.Same(t, p.Table, p.Validator().Table())
}

func TestParseYAML(t *testing.T) {
	p, err := Parse([]byte(samplePolicyYAML), FormatYAML, "sample.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sample.yaml", p.Source)
	assert.False(t, p.Options.AcceptNotesAsDocumentation)
	assert.Equal(t, 1, p.Options.MinNoteLength, "omitted key keeps default")
	assert.Equal(t, 3, p.Options.SLAWarnWithinDays)

	r, ok := p.Table.Rule(types.StateUnderReview, types.StateResolved)
	require.True(t, ok)
	assert.Equal(t, 48*time.Hour, r.MinDwell)
	assert.True(t, r.RequiresDocumentation)

	_, ok = p.Table.Rule(types.StateSubmitted, types.StateUnderReview)
	assert.True(t, ok, "hyphenated state names are accepted")
	_, ok = p.Table.Rule(types.StateSubmitted, types.StateAssigned)
	assert.False(t, ok, "a transitions list replaces the built-in graph")

	m, _ := p.SLA.Multiplier(types.PriorityCritical)
	assert.Equal(t, 0.25, m)
	h, _ := p.SLA.BaseHours(types.StateInvestigation)
	assert.Equal(t, 240.0, h, "omitted base-hours keeps defaults")
}

func TestParseTOML(t *testing.T) {
	data := `
[documentation]
min-note-length = 20

[sla.base-hours]
submitted = 24
under_review = 24
assigned = 24
investigation = 100
pending_documentation = 100
resolved = 200
rejected = 200
`
	p, err := Parse([]byte(data), FormatTOML, "p.toml")
	require.NoError(t, err)
	assert.Equal(t, 20, p.Options.MinNoteLength)
	assert.True(t, p.Options.AcceptNotesAsDocumentation)
	h, _ := p.SLA.BaseHours(types.StateSubmitted)
	assert.Equal(t, 24.0, h)
	assert.Equal(t, len(lifecycle.DefaultRules()), p.Table.Len())
}

func TestParseEmptyFileIsDefault(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatTOML} {
		p, err := Parse(nil, format, "empty")
		require.NoError(t, err, format)
		assert.Equal(t, len(lifecycle.DefaultRules()), p.Table.Len())
		assert.Equal(t, lifecycle.DefaultOptions(), p.Options)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		format  Format
		data    string
		wantMsg []string
	}{
		{
			name:    "unknown yaml key",
			format:  FormatYAML,
			data:    "documentation:\n  accept_notes: true\n",
			wantMsg: []string{"accept_notes"},
		},
		{
			name:    "unknown toml key",
			format:  FormatTOML,
			data:    "[sla]\nwarn-days = 2\n",
			wantMsg: []string{"unknown keys", "sla.warn-days"},
		},
		{
			name:    "bad dwell",
			format:  FormatYAML,
			data:    "transitions:\n  - {from: submitted, to: closed, roles: [admin], min-dwell: soon}\n",
			wantMsg: []string{"transitions[0]", "min-dwell"},
		},
		{
			name:    "terminal sla",
			format:  FormatYAML,
			data:    "sla:\n  base-hours: {closed: 10, submitted: 1}\n",
			wantMsg: []string{"terminal state"},
		},
		{
			name:   "every problem reported",
			format: FormatYAML,
			data: `
documentation: {min-note-length: 0}
sla: {warn-within-days: -1}
transitions:
  - {from: submitted, to: archived, roles: [steward]}
`,
			wantMsg: []string{"min-note-length", "warn-within-days", `unknown target state "archived"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format, "bad")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPolicy))
			for _, msg := range tt.wantMsg {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestUnknownStateWrapsRuleTableError(t *testing.T) {
	_, err := Parse([]byte("transitions:\n  - {from: draft, to: submitted, roles: [admin]}\n"), FormatYAML, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lifecycle.ErrInvalidRuleTable))
}

func TestEncodeRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			orig, err := Parse([]byte(samplePolicyYAML), FormatYAML, "sample.yaml")
			require.NoError(t, err)

			data, err := Encode(orig, format)
			require.NoError(t, err)

			back, err := Parse(data, format, "dump")
			require.NoError(t, err, string(data))

			assert.Equal(t, orig.Options, back.Options)
			assert.Equal(t, orig.Table.Rules(), back.Table.Rules())
			assert.Equal(t, orig.SLA.Standards(), back.SLA.Standards())
		})
	}
}

func TestEncodeWritesDwellInHours(t *testing.T) {
	data, err := Encode(Default(), FormatYAML)
	require.NoError(t, err)
	assert.Contains(t, string(data), "min-dwell: 168h")
	assert.Contains(t, string(data), "min-dwell: 24h")
}

func TestLoad(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BuiltIn, p.Source)

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicyYAML), 0600))
	p, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, p.Source)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = Load(filepath.Join(dir, "policy.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy format")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("json")
	assert.Error(t, err)
	_, err = FormatFromPath("policy")
	assert.Error(t, err)
}
