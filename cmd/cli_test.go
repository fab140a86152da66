package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentsquad/internal/version"
)

const mockConfig = `
provider: mock
model: mock-default
log:
  level: error
session:
  watchdog_interval: 1h
  settle_delay: 1ms
groups:
  - name: pair
    mode: broadcast
    members:
      - name: alice
      - name: bob
        model: mock-large
  - name: chain
    mode: sequential
    members:
      - name: first
      - name: second
`

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeConfigFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentsquad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersionPrintsBuildVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, version.Version+"\n", stdout)
}

func TestParseMergesAssignments(t *testing.T) {
	plan := "@worker:alice\nresearch\n@end\n@worker:Bob\ndraft\n@end\n@worker:alice\nreview\n@end\n"

	stdout, _, err := executeCLI(t, plan, "parse", "--workers", "alice,bob")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[alice]\nresearch")
	assert.Contains(t, stdout, "review")
	assert.Contains(t, stdout, "[bob]\ndraft")
	assert.Equal(t, 1, strings.Count(stdout, "[alice]"))
}

func TestParseWithoutMerge(t *testing.T) {
	plan := "@worker:alice\nresearch\n@end\n@worker:alice\nreview\n@end\n"

	stdout, _, err := executeCLI(t, plan, "parse", "-w", "alice", "--no-merge")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(stdout, "[alice]"))
}

func TestParseNoAssignments(t *testing.T) {
	stdout, _, err := executeCLI(t, "just an answer", "parse", "-w", "alice")
	require.NoError(t, err)
	assert.Equal(t, "no assignments\n", stdout)
}

func TestParseRequiresWorkers(t *testing.T) {
	_, _, err := executeCLI(t, "", "parse")
	assert.ErrorContains(t, err, "at least one worker")
}

func TestRunBroadcastPrintsReplies(t *testing.T) {
	path := writeConfigFixture(t, mockConfig)

	stdout, _, err := executeCLI(t, "", "run", "--config", path, "hello", "team")
	require.NoError(t, err)
	assert.Contains(t, stdout, "group pair (broadcast)")
	assert.Contains(t, stdout, "== alice [begun]")
	assert.Contains(t, stdout, "Mock response to: hello team")
	assert.Contains(t, stdout, "== bob [begun]")
}

func TestRunSequentialGroup(t *testing.T) {
	path := writeConfigFixture(t, mockConfig)

	stdout, _, err := executeCLI(t, "", "run", "-c", path, "--group", "chain", "step")
	require.NoError(t, err)
	assert.Contains(t, stdout, "group chain (sequential)")
	assert.Contains(t, stdout, "== first")
	assert.Contains(t, stdout, "== second")
}

func TestRunUnknownGroup(t *testing.T) {
	path := writeConfigFixture(t, mockConfig)

	_, _, err := executeCLI(t, "", "run", "-c", path, "--group", "ghost", "hi")
	assert.ErrorContains(t, err, `group "ghost" is not configured`)
}

func TestRunRequiresPrompt(t *testing.T) {
	_, _, err := executeCLI(t, "", "run")
	assert.ErrorContains(t, err, "requires a prompt")
}

func TestRunWithoutGroups(t *testing.T) {
	path := writeConfigFixture(t, "provider: mock\n")

	_, _, err := executeCLI(t, "", "run", "-c", path, "hi")
	assert.ErrorContains(t, err, "no groups configured")
}

func TestProviderFlagOverridesConfig(t *testing.T) {
	path := writeConfigFixture(t, strings.Replace(mockConfig, "provider: mock", "provider: openai", 1))

	stdout, _, err := executeCLI(t, "", "run", "-c", path, "--provider", "mock", "hi")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Mock response to: hi")
}

func TestRunPersistsSnapshot(t *testing.T) {
	path := writeConfigFixture(t, mockConfig)
	snapshot := filepath.Join(t.TempDir(), "state.yaml")

	_, _, err := executeCLI(t, "", "run", "-c", path, "--store", snapshot, "hi")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, "", "groups", "-c", path, "--store", snapshot)
	require.NoError(t, err)
	assert.Contains(t, stdout, "config  pair")
	assert.Contains(t, stdout, "store   pair")
}
