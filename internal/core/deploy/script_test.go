package deploy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Script Rendering Tests
// =============================================================================

func TestScript_StepsInOrder(t *testing.T) {
	s := Script(BuildPlan(testRequest(), testWorkload()))

	login := strings.Index(s, "step login")
	pull := strings.Index(s, "step pull")
	stop := strings.Index(s, "step stop")
	remove := strings.Index(s, "step remove")
	run := strings.Index(s, "step run")

	require.NotEqual(t, -1, login)
	assert.Less(t, login, pull)
	assert.Less(t, pull, stop)
	assert.Less(t, stop, remove)
	assert.Less(t, remove, run)
}

func TestScript_NeverEmbedsPassword(t *testing.T) {
	req := testRequest()
	req.Registry.Password = "sup3r-secret"
	s := Script(BuildPlan(req, testWorkload()))
	assert.NotContains(t, s, "sup3r-secret")
	assert.Contains(t, s, "--password-stdin")
}

func TestScript_FailsFastOnUnsetVariables(t *testing.T) {
	s := Script(BuildPlan(testRequest(), testWorkload()))
	assert.True(t, strings.HasPrefix(s, "#!/bin/sh\nset -eu\n"))
}

func TestScript_ToleratesAbsentPreviousInstance(t *testing.T) {
	s := Script(BuildPlan(testRequest(), testWorkload()))
	assert.Contains(t, s, "docker stop 'shipway-app' 2>/dev/null || true")
	assert.Contains(t, s, "docker rm 'shipway-app' 2>/dev/null || true")
}

func TestScript_RunFlags(t *testing.T) {
	s := Script(BuildPlan(testRequest(), testWorkload()))
	assert.Contains(t, s, "docker run --detach")
	assert.Contains(t, s, "--name 'shipway-app'")
	assert.Contains(t, s, "--restart 'unless-stopped'")
	assert.Contains(t, s, "--publish 8080:8080")
	assert.Contains(t, s, "--env 'APP_ENV=production'")
	assert.Contains(t, s, "--env 'APP_VERSION=v1.0.0-rc.1'")
	assert.Contains(t, s, "--label 'com.shipway.managed=true'")
	assert.Contains(t, s, "'ghcr.io/acme/app:v1.0.0-rc.1'")
}

func TestScript_PullsExactReference(t *testing.T) {
	s := Script(BuildPlan(testRequest(), testWorkload()))
	assert.Contains(t, s, "docker pull 'ghcr.io/acme/app:v1.0.0-rc.1'")
}

func TestScript_SkipsLoginWithoutPrincipal(t *testing.T) {
	s := Script(BuildPlan(testRequest(), testWorkload()))
	assert.Contains(t, s, `if [ -n "${SHIPWAY_REGISTRY_USER:-}" ]; then`)
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

// =============================================================================
// Helper Command Tests
// =============================================================================

func TestDiagnosticsCommand(t *testing.T) {
	got := DiagnosticsCommand(BuildPlan(testRequest(), testWorkload()))
	assert.Equal(t, "docker logs --tail 100 'shipway-app' 2>&1", got)
}

func TestDiagnosticsCommand_DefaultsTail(t *testing.T) {
	p := BuildPlan(testRequest(), testWorkload())
	p.LogTail = 0
	assert.Contains(t, DiagnosticsCommand(p), "--tail 100")
}

func TestPruneCommand_UsesRetentionWindow(t *testing.T) {
	got := PruneCommand(BuildPlan(testRequest(), testWorkload()))
	assert.Equal(t, "docker image prune --all --force --filter 'until=168h0m0s'", got)
}

// =============================================================================
// Invocation Environment Tests
// =============================================================================

func TestPlanEnv_CarriesDeploymentContext(t *testing.T) {
	env := PlanEnv(BuildPlan(testRequest(), testWorkload()))
	assert.Equal(t, "qa", env["SHIPWAY_ENVIRONMENT"])
	assert.Equal(t, "ghcr.io/acme/app:v1.0.0-rc.1", env["SHIPWAY_ARTIFACT"])
	assert.Equal(t, "v1.0.0-rc.1", env["SHIPWAY_VERSION"])
	assert.Equal(t, "ci", env["SHIPWAY_REGISTRY_USER"])
	assert.Equal(t, "s3cret", env["SHIPWAY_REGISTRY_PASSWORD"])
}

func TestPlanEnv_OmitsLoginForAnonymousRegistry(t *testing.T) {
	req := testRequest()
	req.Registry = RegistryCredential{}
	env := PlanEnv(BuildPlan(req, testWorkload()))
	assert.NotContains(t, env, "SHIPWAY_REGISTRY_USER")
	assert.NotContains(t, env, "SHIPWAY_REGISTRY_PASSWORD")
}

func TestInvokeCommand_SortedAssignments(t *testing.T) {
	cmd := InvokeCommand("~/.shipway/routine.sh", map[string]string{
		"SHIPWAY_VERSION":  "v1.0.0-rc.1",
		"SHIPWAY_ARTIFACT": "ghcr.io/acme/app:v1.0.0-rc.1",
	})
	assert.Equal(t, "env SHIPWAY_ARTIFACT='ghcr.io/acme/app:v1.0.0-rc.1' SHIPWAY_VERSION='v1.0.0-rc.1' ~/.shipway/routine.sh", cmd)
}

func TestInvokeCommand_QuotesValues(t *testing.T) {
	cmd := InvokeCommand("/tmp/r.sh", map[string]string{"SHIPWAY_REGISTRY_PASSWORD": "a b'c"})
	assert.Contains(t, cmd, `SHIPWAY_REGISTRY_PASSWORD='a b'\''c'`)
}

// =============================================================================
// Failure Classification Tests
// =============================================================================

func TestFailedStep_LastMarkerWins(t *testing.T) {
	out := "::step login\nLogin Succeeded\n::step pull\nError response from daemon: manifest unknown\n"
	assert.Equal(t, StepPull, FailedStep(out))
}

func TestFailedStep_NoMarkers(t *testing.T) {
	assert.Equal(t, StepNone, FailedStep("ssh: connection reset"))
}

func TestClassifyRoutineFailure_Login(t *testing.T) {
	err := ClassifyRoutineFailure("::step login\nunauthorized: incorrect username or password\n")
	assert.ErrorIs(t, err, ErrRegistryAuth)
}

func TestClassifyRoutineFailure_Pull(t *testing.T) {
	err := ClassifyRoutineFailure("::step login\n::step pull\nmanifest unknown\n")
	assert.ErrorIs(t, err, ErrArtifactPull)
}

func TestClassifyRoutineFailure_Run(t *testing.T) {
	err := ClassifyRoutineFailure("::step login\n::step pull\n::step stop\n::step remove\n::step run\nport is already allocated\n")
	assert.ErrorIs(t, err, ErrRemoteDeployment)
}

func TestClassifyRoutineFailure_NoOutput(t *testing.T) {
	err := ClassifyRoutineFailure("")
	assert.ErrorIs(t, err, ErrRemoteDeployment)
}
