// Package promoter sequences the deployment operation across the named
// environments: acceptance mints release candidates from latest, QA
// verifies an exact candidate, sign-off records the human verdict as a
// tag, production strips the candidate suffix and releases. The
// coordinator exclusively owns version-tag transitions; every gate is
// recomputed from the registry tag set, so the engine is stateless
// between invocations.
package promoter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/Masterminds/semver/v3"

	"github.com/shipway/shipway/internal/core/artifact"
	"github.com/shipway/shipway/internal/core/deploy"
	"github.com/shipway/shipway/internal/core/promotion"
	"github.com/shipway/shipway/internal/core/version"
	"github.com/shipway/shipway/internal/shell/registry"
	"github.com/shipway/shipway/internal/shell/suite"
	"github.com/shipway/shipway/internal/shell/workload"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrEnvironmentBusy    = errors.New("environment has a deployment in flight")
	ErrUnknownEnvironment = errors.New("environment not configured")
	ErrNothingToPromote   = errors.New("no artifact to promote")
	ErrVerdictExists      = errors.New("sign-off already recorded for this candidate")
	ErrSignoffRequired    = errors.New("production requires a granted sign-off")
	ErrAlreadyReleased    = errors.New("stable tag already minted")
)

// =============================================================================
// Environments
// =============================================================================

// Environment names. Each maps to exactly one target host.
const (
	EnvAcceptance = "acceptance"
	EnvQA         = "qa"
	EnvProduction = "production"
)

// Environment is one named deployment target.
type Environment struct {
	Name      string
	Host      deploy.HostSpec
	Transport workload.Host
}

// =============================================================================
// Collaborator Surfaces
// =============================================================================

// Registry is the tag surface the coordinator gates and writes on.
type Registry interface {
	Tags(ctx context.Context) ([]string, error)
	Digest(ctx context.Context, tag string) (string, error)
	Exists(ctx context.Context, tag string) (bool, error)
	Retag(ctx context.Context, src artifact.Reference, tag string) error
	TagRef(tag string) artifact.Reference
	DigestRef(digest string) artifact.Reference
	Credential(ctx context.Context) (deploy.RegistryCredential, error)
}

// Deployer runs the single-host deployment operation.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request, host workload.Host) deploy.Outcome
}

// Suite is the external acceptance test suite.
type Suite interface {
	Run(ctx context.Context, target suite.Target) ([]byte, error)
}

// Journal records stage runs for the history surface. It is observational
// only: no gate ever reads it.
type Journal interface {
	RecordStart(ctx context.Context, run *promotion.Run) error
	RecordResult(ctx context.Context, run *promotion.Run) error
}

// =============================================================================
// Coordinator
// =============================================================================

// Discovery modes for the acceptance trigger.
const (
	DiscoveryDigest = "digest" // run only when latest's digest differs from the newest candidate
	DiscoveryAlways = "always" // every trigger deploys
)

// Config tunes the promotion chain.
type Config struct {
	// TargetVersion is the X.Y.Z candidates are minted for, or "auto".
	TargetVersion string
	// Discovery selects the acceptance no-op criterion.
	Discovery string
	// Workload is the process shape deployed to every environment.
	Workload deploy.Workload
}

// Coordinator owns the stage graph and the per-environment workload slots.
type Coordinator struct {
	registry Registry
	deployer Deployer
	suite    Suite
	journal  Journal
	envs     map[string]Environment
	config   Config
	locks    *envLocks
	logger   *slog.Logger
}

// New wires a coordinator. The journal may be nil; recording then becomes
// a no-op.
func New(reg Registry, dep Deployer, st Suite, journal Journal, envs []Environment, config Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Environment, len(envs))
	for _, e := range envs {
		m[e.Name] = e
	}
	return &Coordinator{
		registry: reg,
		deployer: dep,
		suite:    st,
		journal:  journal,
		envs:     m,
		config:   config,
		locks:    newEnvLocks(),
		logger:   logger.With("component", "promoter"),
	}
}

// =============================================================================
// Acceptance
// =============================================================================

// RunAcceptance deploys the newest latest artifact to the acceptance
// environment, runs the external suite, and on success mints the next
// release candidate tag. Without force, a trigger that finds no
// qualifying new artifact is a no-op, not a failure.
func (c *Coordinator) RunAcceptance(ctx context.Context, force bool) (promotion.StageResult, error) {
	env, err := c.environment(EnvAcceptance)
	if err != nil {
		return promotion.StageResult{}, err
	}
	release, err := c.acquire(env.Name)
	if err != nil {
		return promotion.StageResult{}, err
	}
	defer release()

	tags, err := c.registry.Tags(ctx)
	if err != nil {
		return promotion.StageResult{}, err
	}
	target, err := version.TargetRelease(c.config.TargetVersion, tags)
	if err != nil {
		return promotion.StageResult{}, err
	}

	latestDigest, err := c.registry.Digest(ctx, version.Latest)
	if err != nil {
		if errors.Is(err, registry.ErrTagNotFound) {
			return promotion.StageResult{}, fmt.Errorf("%w: no artifact published under %s", ErrNothingToPromote, version.Latest)
		}
		return promotion.StageResult{}, err
	}
	latestRef := c.registry.DigestRef(latestDigest)

	run := promotion.NewRun(promotion.StageAcceptance, env.Name)
	run.ArtifactRef = string(latestRef)

	if !force && c.config.Discovery != DiscoveryAlways {
		if prev, ok := c.newestCandidateDigest(ctx, target, tags); ok && prev == latestDigest {
			run.Skip(fmt.Sprintf("latest (%s) already promoted, nothing new to run", latestDigest))
			c.recordStart(ctx, run)
			c.record(ctx, run)
			c.logger.Info("acceptance skipped, no new artifact", "digest", latestDigest)
			return run.Result(), nil
		}
	}

	c.recordStart(ctx, run)
	if err := run.Transition(promotion.StatusAcceptanceRunning); err != nil {
		return promotion.StageResult{}, err
	}

	candidate := version.NextRC(target, tags)
	outcome := c.deploy(ctx, env, latestRef, candidate.Tag().String())
	if !outcome.Success {
		return c.fail(ctx, run, outcome)
	}

	suiteOut, err := c.suite.Run(ctx, suite.Target{
		URL:      c.workloadURL(env),
		Artifact: string(latestRef),
		Version:  candidate.Tag().String(),
	})
	if err != nil {
		c.logger.Error("acceptance suite failed", "error", err)
		return c.failWith(ctx, run, string(suiteOut))
	}

	if err := c.registry.Retag(ctx, latestRef, candidate.Tag().String()); err != nil {
		c.logger.Error("failed to mint candidate tag", "tag", candidate.Tag(), "error", err)
		return c.failWith(ctx, run, err.Error())
	}

	run.ProducedTag = candidate.Tag().String()
	if err := run.Transition(promotion.StatusAcceptancePassed); err != nil {
		return promotion.StageResult{}, err
	}
	c.record(ctx, run)
	c.logger.Info("acceptance passed", "minted", run.ProducedTag, "artifact", run.ArtifactRef)
	return run.Result(), nil
}

// newestCandidateDigest resolves the digest behind the most recent
// candidate minted for the target version. No candidate yet means every
// latest artifact qualifies.
func (c *Coordinator) newestCandidateDigest(ctx context.Context, target *semver.Version, tags []string) (string, bool) {
	var newest version.RC
	for _, t := range tags {
		rc, err := version.ParseRC(version.Tag(t))
		if err != nil || !rc.Release.Equal(target) {
			continue
		}
		if rc.N > newest.N {
			newest = rc
		}
	}
	if newest.N == 0 {
		return "", false
	}
	digest, err := c.registry.Digest(ctx, newest.Tag().String())
	if err != nil {
		c.logger.Warn("failed to resolve newest candidate digest", "tag", newest.Tag(), "error", err)
		return "", false
	}
	return digest, true
}

// =============================================================================
// QA
// =============================================================================

// RunQA deploys the exact named candidate to the QA environment. The tag
// is never re-resolved against latest.
func (c *Coordinator) RunQA(ctx context.Context, tag string) (promotion.StageResult, error) {
	if _, err := version.ParseRC(version.Tag(tag)); err != nil {
		return promotion.StageResult{}, err
	}
	env, err := c.environment(EnvQA)
	if err != nil {
		return promotion.StageResult{}, err
	}
	release, err := c.acquire(env.Name)
	if err != nil {
		return promotion.StageResult{}, err
	}
	defer release()

	if err := c.requireTag(ctx, tag); err != nil {
		return promotion.StageResult{}, err
	}

	run := promotion.NewRun(promotion.StageQA, env.Name)
	run.ArtifactRef = string(c.registry.TagRef(tag))
	c.recordStart(ctx, run)
	if err := run.Transition(promotion.StatusQARunning); err != nil {
		return promotion.StageResult{}, err
	}

	outcome := c.deploy(ctx, env, c.registry.TagRef(tag), tag)
	if !outcome.Success {
		return c.fail(ctx, run, outcome)
	}

	run.ProducedTag = tag
	if err := run.Transition(promotion.StatusQAPassed); err != nil {
		return promotion.StageResult{}, err
	}
	c.record(ctx, run)
	c.logger.Info("qa passed", "tag", tag)
	return run.Result(), nil
}

// =============================================================================
// Sign-off
// =============================================================================

// SubmitSignoff records the human verdict for a candidate by minting its
// verdict tag. The tag is the durable sign-off record; a candidate can
// carry at most one verdict.
func (c *Coordinator) SubmitSignoff(ctx context.Context, tag string, pass bool) (promotion.StageResult, error) {
	if _, err := version.ParseRC(version.Tag(tag)); err != nil {
		return promotion.StageResult{}, err
	}
	if err := c.requireTag(ctx, tag); err != nil {
		return promotion.StageResult{}, err
	}

	tags, err := c.registry.Tags(ctx)
	if err != nil {
		return promotion.StageResult{}, err
	}
	if v := version.VerdictFor(version.Tag(tag), tags); v != version.VerdictNone {
		return promotion.StageResult{}, fmt.Errorf("%w: %s is already %s", ErrVerdictExists, tag, v)
	}

	run := promotion.NewRun(promotion.StageSignoff, "")
	run.ArtifactRef = string(c.registry.TagRef(tag))
	c.recordStart(ctx, run)
	if err := run.Transition(promotion.StatusSignoffPending); err != nil {
		return promotion.StageResult{}, err
	}

	verdictTag, err := version.QAVerdictOf(version.Tag(tag), pass)
	if err != nil {
		return promotion.StageResult{}, err
	}
	if err := c.registry.Retag(ctx, c.registry.TagRef(tag), verdictTag.String()); err != nil {
		run.Diagnostics = err.Error()
		c.record(ctx, run)
		return run.Result(), err
	}

	run.ProducedTag = verdictTag.String()
	if pass {
		if err := run.Transition(promotion.StatusSignoffGranted); err != nil {
			return promotion.StageResult{}, err
		}
		c.logger.Info("sign-off granted", "tag", tag, "minted", verdictTag)
	} else {
		run.Diagnostics = fmt.Sprintf("%v: %s", promotion.ErrSignoffDenied, tag)
		if err := run.Transition(promotion.StatusSignoffDenied); err != nil {
			return promotion.StageResult{}, err
		}
		c.logger.Info("sign-off denied", "tag", tag, "minted", verdictTag)
	}
	c.record(ctx, run)
	return run.Result(), nil
}

// =============================================================================
// Production
// =============================================================================

// RunProduction releases a signed-off candidate: mints the stable tag by
// stripping the candidate suffix, deploys it to production, and marks the
// chain released on health success. Production failures are terminal for
// the run and are never retried automatically; a manual re-trigger with
// the same candidate skips the already-minted stable tag and deploys
// again.
func (c *Coordinator) RunProduction(ctx context.Context, tag string) (promotion.StageResult, error) {
	rc, err := version.ParseRC(version.Tag(tag))
	if err != nil {
		return promotion.StageResult{}, err
	}
	env, err := c.environment(EnvProduction)
	if err != nil {
		return promotion.StageResult{}, err
	}
	release, err := c.acquire(env.Name)
	if err != nil {
		return promotion.StageResult{}, err
	}
	defer release()

	if err := c.requireTag(ctx, tag); err != nil {
		return promotion.StageResult{}, err
	}
	tags, err := c.registry.Tags(ctx)
	if err != nil {
		return promotion.StageResult{}, err
	}

	switch version.VerdictFor(version.Tag(tag), tags) {
	case version.VerdictGranted:
	case version.VerdictDenied:
		return promotion.StageResult{}, fmt.Errorf("%w: %s", promotion.ErrSignoffDenied, tag)
	default:
		return promotion.StageResult{}, fmt.Errorf("%w: %s has no recorded verdict", ErrSignoffRequired, tag)
	}

	stable, err := version.ReleaseOf(version.Tag(tag))
	if err != nil {
		return promotion.StageResult{}, err
	}
	// The stable tag may already exist from a run whose deploy failed
	// after the mint. Re-triggering with the same candidate skips the
	// mint and deploys again; a stable tag holding a different artifact
	// means the release belongs to another candidate.
	minted := version.IsReleased(rc.Release, tags)
	if minted {
		stableDigest, err := c.registry.Digest(ctx, stable.String())
		if err != nil {
			return promotion.StageResult{}, err
		}
		rcDigest, err := c.registry.Digest(ctx, tag)
		if err != nil {
			return promotion.StageResult{}, err
		}
		if stableDigest != rcDigest {
			return promotion.StageResult{}, fmt.Errorf("%w: %s", ErrAlreadyReleased, stable)
		}
		c.logger.Info("stable tag already minted for this candidate, re-triggering deploy", "tag", stable)
	}

	run := promotion.NewRun(promotion.StageProduction, env.Name)
	run.ArtifactRef = string(c.registry.TagRef(tag))
	c.recordStart(ctx, run)
	if err := run.Transition(promotion.StatusProductionRunning); err != nil {
		return promotion.StageResult{}, err
	}

	if !minted {
		if err := c.registry.Retag(ctx, c.registry.TagRef(tag), stable.String()); err != nil {
			c.logger.Error("failed to mint release tag", "tag", stable, "error", err)
			return c.failWith(ctx, run, err.Error())
		}
	}

	outcome := c.deploy(ctx, env, c.registry.TagRef(stable.String()), stable.String())
	if !outcome.Success {
		return c.fail(ctx, run, outcome)
	}

	run.ProducedTag = stable.String()
	if err := run.Transition(promotion.StatusReleased); err != nil {
		return promotion.StageResult{}, err
	}
	c.record(ctx, run)
	c.logger.Info("released", "tag", stable, "candidate", tag)
	return run.Result(), nil
}

// =============================================================================
// Status
// =============================================================================

// ChainStatus is the promotion chain state recovered from the registry.
type ChainStatus struct {
	Repository   string          `json:"repository"`
	LatestDigest string          `json:"latest_digest,omitempty"`
	Chain        version.Summary `json:"chain"`
}

// Status derives the chain state from the registry tag set alone.
func (c *Coordinator) Status(ctx context.Context) (ChainStatus, error) {
	tags, err := c.registry.Tags(ctx)
	if err != nil {
		return ChainStatus{}, err
	}
	summary, err := version.Summarize(c.config.TargetVersion, tags)
	if err != nil {
		return ChainStatus{}, err
	}

	status := ChainStatus{Chain: summary}
	if repo, err := c.registry.TagRef(version.Latest).Repository(); err == nil {
		status.Repository = repo
	}
	if digest, err := c.registry.Digest(ctx, version.Latest); err == nil {
		status.LatestDigest = digest
	}
	return status, nil
}

// =============================================================================
// Shared Steps
// =============================================================================

func (c *Coordinator) environment(name string) (Environment, error) {
	env, ok := c.envs[name]
	if !ok {
		return Environment{}, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	return env, nil
}

func (c *Coordinator) acquire(env string) (func(), error) {
	if !c.locks.TryAcquire(env) {
		return nil, fmt.Errorf("%w: %s", ErrEnvironmentBusy, env)
	}
	return func() { c.locks.Release(env) }, nil
}

// requireTag rejects stage triggers naming a candidate the registry does
// not hold.
func (c *Coordinator) requireTag(ctx context.Context, tag string) error {
	exists, err := c.registry.Exists(ctx, tag)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", registry.ErrTagNotFound, c.registry.TagRef(tag))
	}
	return nil
}

func (c *Coordinator) deploy(ctx context.Context, env Environment, ref artifact.Reference, versionLabel string) deploy.Outcome {
	cred, err := c.registry.Credential(ctx)
	if err != nil {
		return deploy.Failure(fmt.Errorf("%w: %v", deploy.ErrRegistryAuth, err), err.Error())
	}
	return c.deployer.Deploy(ctx, deploy.Request{
		Environment: env.Name,
		Artifact:    ref,
		Version:     versionLabel,
		Host:        env.Host,
		Registry:    cred,
	}, env.Transport)
}

func (c *Coordinator) workloadURL(env Environment) string {
	return "http://" + net.JoinHostPort(env.Host.Address, strconv.Itoa(c.config.Workload.Port))
}

func (c *Coordinator) fail(ctx context.Context, run *promotion.Run, outcome deploy.Outcome) (promotion.StageResult, error) {
	diagnostics := outcome.Diagnostics
	if diagnostics == "" {
		diagnostics = fmt.Sprintf("deployment failed at stage %q", outcome.FailureStage)
	} else {
		diagnostics = fmt.Sprintf("deployment failed at stage %q: %s", outcome.FailureStage, diagnostics)
	}
	return c.failWith(ctx, run, diagnostics)
}

func (c *Coordinator) failWith(ctx context.Context, run *promotion.Run, diagnostics string) (promotion.StageResult, error) {
	if err := run.Fail(diagnostics); err != nil {
		return promotion.StageResult{}, err
	}
	c.record(ctx, run)
	return run.Result(), nil
}

func (c *Coordinator) recordStart(ctx context.Context, run *promotion.Run) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordStart(ctx, run); err != nil {
		c.logger.Warn("failed to record run start", "run_id", run.ID, "error", err)
	}
}

func (c *Coordinator) record(ctx context.Context, run *promotion.Run) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordResult(ctx, run); err != nil {
		c.logger.Warn("failed to record run result", "run_id", run.ID, "error", err)
	}
}
