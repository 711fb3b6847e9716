package deploy

import (
	"bufio"
	"fmt"
	"strings"
)

// =============================================================================
// Routine Steps
// =============================================================================

// Step names one command of the rendered replacement routine. The routine
// prints a marker before each step so a non-zero exit can be classified
// back to the step that failed.
type Step string

const (
	StepNone   Step = ""
	StepLogin  Step = "login"
	StepPull   Step = "pull"
	StepStop   Step = "stop"
	StepRemove Step = "remove"
	StepRun    Step = "run"
)

const stepMarkerPrefix = "::step "

// =============================================================================
// Routine Rendering
// =============================================================================

// Script renders the plan as a POSIX sh routine. The steps run strictly in
// order: login, pull, stop (a missing previous instance is tolerated),
// remove, run. The registry password is read from the invocation
// environment and fed to stdin, never rendered into the script text.
func Script(p Plan) string {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -eu\n")
	b.WriteString("\n")
	b.WriteString("step() { printf '" + stepMarkerPrefix + "%s\\n' \"$1\"; }\n")
	b.WriteString("\n")

	b.WriteString("step " + string(StepLogin) + "\n")
	b.WriteString("if [ -n \"${SHIPWAY_REGISTRY_USER:-}\" ]; then\n")
	fmt.Fprintf(&b, "  printf '%%s' \"$SHIPWAY_REGISTRY_PASSWORD\" | docker login --username \"$SHIPWAY_REGISTRY_USER\" --password-stdin %s\n", shellQuote(p.Registry.Host))
	b.WriteString("fi\n")
	b.WriteString("\n")

	b.WriteString("step " + string(StepPull) + "\n")
	fmt.Fprintf(&b, "docker pull %s\n", shellQuote(p.Image))
	b.WriteString("\n")

	b.WriteString("step " + string(StepStop) + "\n")
	fmt.Fprintf(&b, "docker stop %s 2>/dev/null || true\n", shellQuote(p.ContainerName))
	b.WriteString("\n")

	b.WriteString("step " + string(StepRemove) + "\n")
	fmt.Fprintf(&b, "docker rm %s 2>/dev/null || true\n", shellQuote(p.ContainerName))
	b.WriteString("\n")

	b.WriteString("step " + string(StepRun) + "\n")
	fmt.Fprintf(&b, "docker run --detach \\\n")
	fmt.Fprintf(&b, "  --name %s \\\n", shellQuote(p.ContainerName))
	fmt.Fprintf(&b, "  --restart %s \\\n", shellQuote(p.RestartPolicy))
	fmt.Fprintf(&b, "  --publish %d:%d \\\n", p.Port, p.Port)
	for _, k := range sortedKeys(p.Env) {
		fmt.Fprintf(&b, "  --env %s \\\n", shellQuote(k+"="+p.Env[k]))
	}
	for _, k := range sortedKeys(p.Labels) {
		fmt.Fprintf(&b, "  --label %s \\\n", shellQuote(k+"="+p.Labels[k]))
	}
	fmt.Fprintf(&b, "  %s\n", shellQuote(p.Image))

	return b.String()
}

// DiagnosticsCommand captures the workload's recent log output for failure
// reports.
func DiagnosticsCommand(p Plan) string {
	tail := p.LogTail
	if tail <= 0 {
		tail = 100
	}
	return fmt.Sprintf("docker logs --tail %d %s 2>&1", tail, shellQuote(p.ContainerName))
}

// PruneCommand removes artifacts older than the retention window. Run
// best-effort after confirmed health; never fatal.
func PruneCommand(p Plan) string {
	return fmt.Sprintf("docker image prune --all --force --filter %s", shellQuote("until="+p.PruneAfter.String()))
}

// PlanEnv is the explicit environment a routine is invoked with:
// environment name, artifact reference, version label, and the registry
// principal and credential. The password travels only here, never in
// the routine body. Anonymous registries get no login variables at all.
func PlanEnv(p Plan) map[string]string {
	env := map[string]string{
		"SHIPWAY_ENVIRONMENT": p.Labels[LabelEnvironment],
		"SHIPWAY_ARTIFACT":    p.Image,
		"SHIPWAY_VERSION":     p.Labels[LabelVersion],
	}
	if p.Registry.Username != "" {
		env["SHIPWAY_REGISTRY_USER"] = p.Registry.Username
		env["SHIPWAY_REGISTRY_PASSWORD"] = p.Registry.Password
	}
	return env
}

// InvokeCommand builds the command line that runs an uploaded routine
// with its invocation environment. Values are quoted; keys are the fixed
// names from PlanEnv.
func InvokeCommand(path string, env map[string]string) string {
	parts := make([]string, 0, len(env)+2)
	parts = append(parts, "env")
	for _, k := range sortedKeys(env) {
		parts = append(parts, k+"="+shellQuote(env[k]))
	}
	parts = append(parts, path)
	return strings.Join(parts, " ")
}

// shellQuote single-quotes a value for POSIX sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// =============================================================================
// Failure Classification
// =============================================================================

// FailedStep returns the last step marker present in routine output: the
// step that was running when a non-zero exit aborted the routine.
func FailedStep(output string) Step {
	last := StepNone
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, stepMarkerPrefix) {
			last = Step(strings.TrimSpace(strings.TrimPrefix(line, stepMarkerPrefix)))
		}
	}
	return last
}

// ClassifyRoutineFailure maps a failed routine's output to the taxonomy
// error for the step it died in.
func ClassifyRoutineFailure(output string) error {
	step := FailedStep(output)
	switch step {
	case StepLogin:
		return fmt.Errorf("%w: routine failed at step %q", ErrRegistryAuth, step)
	case StepPull:
		return fmt.Errorf("%w: routine failed at step %q", ErrArtifactPull, step)
	case StepNone:
		return fmt.Errorf("%w: routine produced no output", ErrRemoteDeployment)
	default:
		return fmt.Errorf("%w: routine failed at step %q", ErrRemoteDeployment, step)
	}
}
