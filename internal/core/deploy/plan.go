package deploy

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"
)

// =============================================================================
// Shipway Container Labels
// =============================================================================

// Label keys used for workload identification on the host.
const (
	LabelManaged     = "com.shipway.managed"
	LabelVersion     = "com.shipway.version"
	LabelEnvironment = "com.shipway.environment"
)

// Container environment keys injected into the workload.
const (
	EnvVersion        = "APP_VERSION"
	EnvProductionMode = "APP_ENV"
)

// =============================================================================
// Workload
// =============================================================================

// Workload describes the one named long-running process the engine
// replaces. Every environment runs the same workload shape on its own host.
type Workload struct {
	Name        string
	Port        int
	HealthPath  string
	SettleDelay time.Duration
	LogTail     int
	PruneAfter  time.Duration
}

// =============================================================================
// Plan
// =============================================================================

// Plan is the ordered replacement routine for one request, fully resolved:
// the shell transports execute it without further decisions. Side effects
// are confined to the named container; nothing else on the host is touched.
type Plan struct {
	ContainerName string
	Image         string
	Port          int
	Env           map[string]string
	Labels        map[string]string
	RestartPolicy string
	Registry      RegistryCredential
	SettleDelay   time.Duration
	LogTail       int
	PruneAfter    time.Duration
}

// BuildPlan composes the replacement plan for a request. The workload's
// runtime environment carries the version label and the production-mode
// flag; labels identify the container as shipway-managed for later
// replacement.
func BuildPlan(req Request, w Workload) Plan {
	return Plan{
		ContainerName: w.Name,
		Image:         string(req.Artifact),
		Port:          w.Port,
		Env: map[string]string{
			EnvVersion:        req.Version,
			EnvProductionMode: "production",
			"PORT":            strconv.Itoa(w.Port),
		},
		Labels: map[string]string{
			LabelManaged:     "true",
			LabelVersion:     req.Version,
			LabelEnvironment: req.Environment,
		},
		RestartPolicy: "unless-stopped",
		Registry:      req.Registry,
		SettleDelay:   w.SettleDelay,
		LogTail:       w.LogTail,
		PruneAfter:    w.PruneAfter,
	}
}

// sortedKeys renders maps deterministically in scripts and command lines.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Liveness URL
// =============================================================================

// HealthURL builds the liveness endpoint polled after replacement.
func HealthURL(address string, port int, path string) string {
	if path == "" {
		path = "/health"
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(address, strconv.Itoa(port)), path)
}
