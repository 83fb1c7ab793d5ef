package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/grievance/internal/policy"
	"github.com/steveyegge/grievance/internal/types"
)

const strictDocsPolicy = `documentation:
  accept-notes: false
`

const brokenPolicy = `transitions:
  - from: submitted
    to: archived
    roles: [admin]
`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestPolicyValidate(t *testing.T) {
	dir := setupCLI(t)
	good := writePolicy(t, dir, "strict.yaml", strictDocsPolicy)
	bad := writePolicy(t, dir, "broken.yaml", brokenPolicy)

	var got map[string]interface{}
	runJSON(t, 0, &got, "policy", "validate", good)
	assert.Equal(t, true, got["valid"])
	assert.Equal(t, float64(20), got["rules"])

	res := runCLI(t, "policy", "validate", bad, "--json")
	require.Equal(t, 1, res.code)
	var errObj map[string]string
	require.NoError(t, json.Unmarshal([]byte(res.stderr), &errObj))
	assert.Equal(t, "invalid_policy", errObj["code"])
	assert.Contains(t, errObj["error"], "archived")

	res = runCLI(t, "policy", "validate", filepath.Join(dir, "policy.ini"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "unknown policy format")
}

func TestPolicyFlagChangesDecisions(t *testing.T) {
	dir := setupCLI(t)
	strict := writePolicy(t, dir, "strict.yaml", strictDocsPolicy)
	args := []string{"check", "--from", "investigation", "--to", "resolved", "--role", "steward", "--notes", "back pay issued"}

	var out checkOutput
	runJSON(t, 0, &out, args...)
	assert.True(t, out.Result.Allowed)

	out = checkOutput{}
	runJSON(t, 2, &out, append(args, "--policy", strict)...)
	assert.Equal(t, types.DenyMissingDocumentation, out.Result.Code)
}

func TestPolicyFromEnvironment(t *testing.T) {
	dir := setupCLI(t)
	t.Setenv("GV_POLICY_PATH", writePolicy(t, dir, "strict.toml", "[documentation]\naccept-notes = false\n"))

	var out checkOutput
	runJSON(t, 2, &out, "check", "--from", "investigation", "--to", "resolved", "--role", "steward", "--notes", "see file")
	assert.Equal(t, types.DenyMissingDocumentation, out.Result.Code)
}

func TestPolicyDumpRoundTrips(t *testing.T) {
	dir := setupCLI(t)

	for _, format := range []string{"yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			res := runCLI(t, "policy", "dump", "--format", format)
			require.Equal(t, 0, res.code, res.stderr)

			path := writePolicy(t, dir, "dumped."+format, res.stdout)
			var got map[string]interface{}
			runJSON(t, 0, &got, "policy", "validate", path)
			assert.Equal(t, float64(20), got["rules"])
		})
	}

	res := runCLI(t, "policy", "dump", "--format", "toml")
	assert.Contains(t, res.stdout, "[[transitions]]")
	assert.Contains(t, res.stdout, "accept-notes = true")

	res = runCLI(t, "policy", "dump", "--format", "xml")
	assert.Equal(t, 1, res.code)
}

func TestPolicyWatchNeedsFile(t *testing.T) {
	setupCLI(t)
	res := runCLI(t, "policy", "watch")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "no policy file to watch")
}

func TestWatchPolicyReloadsHolder(t *testing.T) {
	dir := setupCLI(t)
	path := writePolicy(t, dir, "live.yaml", strictDocsPolicy)
	p, err := policy.Load(path)
	require.NoError(t, err)
	h := policy.NewHolder(p)
	require.False(t, h.Current().Options.AcceptNotesAsDocumentation)

	ctx, cancel := context.WithCancel(context.Background())
	prev := rootCtx
	rootCtx = ctx
	t.Cleanup(func() {
		cancel()
		rootCtx = prev
	})

	watchPolicy(path, h)
	require.NoError(t, os.WriteFile(path, []byte("documentation:\n  accept-notes: true\n"), 0600))
	require.Eventually(t, func() bool {
		return h.Current().Options.AcceptNotesAsDocumentation
	}, 5*time.Second, 20*time.Millisecond)
}
