package deploy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWorkload() Workload {
	return Workload{
		Name:        "shipway-app",
		Port:        8080,
		HealthPath:  "/health",
		SettleDelay: 5 * time.Second,
		LogTail:     100,
		PruneAfter:  168 * time.Hour,
	}
}

func testRequest() Request {
	return Request{
		Environment: "qa",
		Artifact:    "ghcr.io/acme/app:v1.0.0-rc.1",
		Version:     "v1.0.0-rc.1",
		Host:        HostSpec{Transport: TransportSSH, Address: "qa.acme.internal", SSHPort: 22, User: "deploy"},
		Registry:    RegistryCredential{Host: "ghcr.io", Username: "ci", Password: "s3cret"},
	}
}

// =============================================================================
// BuildPlan Tests
// =============================================================================

func TestBuildPlan_Image(t *testing.T) {
	p := BuildPlan(testRequest(), testWorkload())
	assert.Equal(t, "ghcr.io/acme/app:v1.0.0-rc.1", p.Image)
	assert.Equal(t, "shipway-app", p.ContainerName)
	assert.Equal(t, 8080, p.Port)
}

func TestBuildPlan_RuntimeEnvironment(t *testing.T) {
	p := BuildPlan(testRequest(), testWorkload())
	assert.Equal(t, "v1.0.0-rc.1", p.Env[EnvVersion])
	assert.Equal(t, "production", p.Env[EnvProductionMode])
	assert.Equal(t, "8080", p.Env["PORT"])
}

func TestBuildPlan_Labels(t *testing.T) {
	p := BuildPlan(testRequest(), testWorkload())
	assert.Equal(t, "true", p.Labels[LabelManaged])
	assert.Equal(t, "v1.0.0-rc.1", p.Labels[LabelVersion])
	assert.Equal(t, "qa", p.Labels[LabelEnvironment])
}

func TestBuildPlan_RestartPolicy(t *testing.T) {
	p := BuildPlan(testRequest(), testWorkload())
	assert.Equal(t, "unless-stopped", p.RestartPolicy)
}

func TestBuildPlan_RetentionAndTail(t *testing.T) {
	p := BuildPlan(testRequest(), testWorkload())
	assert.Equal(t, 5*time.Second, p.SettleDelay)
	assert.Equal(t, 100, p.LogTail)
	assert.Equal(t, 168*time.Hour, p.PruneAfter)
}

// =============================================================================
// HealthURL Tests
// =============================================================================

func TestHealthURL_Simple(t *testing.T) {
	got := HealthURL("qa.acme.internal", 8080, "/health")
	assert.Equal(t, "http://qa.acme.internal:8080/health", got)
}

func TestHealthURL_DefaultsPath(t *testing.T) {
	got := HealthURL("10.0.0.5", 8080, "")
	assert.Equal(t, "http://10.0.0.5:8080/health", got)
}

func TestHealthURL_NormalizesLeadingSlash(t *testing.T) {
	got := HealthURL("10.0.0.5", 9000, "healthz")
	assert.Equal(t, "http://10.0.0.5:9000/healthz", got)
}
