// Package version implements the tag grammar the promotion chain writes
// into the registry: latest -> vX.Y.Z-rc.N -> vX.Y.Z-rc.N-qa-success|failure
// -> vX.Y.Z. The registry tag set is the only durable promotion state, so
// everything here is derivable from a list of tag strings.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotReleaseCandidate = errors.New("not a release candidate tag")
	ErrMalformedTarget     = errors.New("malformed target version")
)

// =============================================================================
// Tags
// =============================================================================

// Latest is the mutable pointer tag the commit stage publishes under.
const Latest = "latest"

const (
	qaSuccessSuffix = "-qa-success"
	qaFailureSuffix = "-qa-failure"
)

// Tag is a version tag as written to the registry.
type Tag string

func (t Tag) String() string { return string(t) }

var (
	stablePattern = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)$`)
	rcPattern     = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)-rc\.([1-9]\d*)$`)
)

// IsStable reports whether the tag is an immutable release tag vX.Y.Z.
func IsStable(tag Tag) bool {
	return stablePattern.MatchString(string(tag))
}

// =============================================================================
// Release Candidates
// =============================================================================

// RC identifies one release candidate: the X.Y.Z it is a candidate for and
// its ordinal within that version.
type RC struct {
	Release *semver.Version
	N       int
}

// Tag renders the candidate as vX.Y.Z-rc.N.
func (r RC) Tag() Tag {
	return Tag(fmt.Sprintf("v%s-rc.%d", r.Release.String(), r.N))
}

// ParseRC parses a tag of the exact form vX.Y.Z-rc.N.
func ParseRC(tag Tag) (RC, error) {
	m := rcPattern.FindStringSubmatch(string(tag))
	if m == nil {
		return RC{}, fmt.Errorf("%w: %q", ErrNotReleaseCandidate, tag)
	}
	major, _ := strconv.ParseUint(m[1], 10, 64)
	minor, _ := strconv.ParseUint(m[2], 10, 64)
	patch, _ := strconv.ParseUint(m[3], 10, 64)
	n, _ := strconv.Atoi(m[4])
	return RC{Release: semver.New(major, minor, patch, "", ""), N: n}, nil
}

// NextRC returns the candidate that follows the existing tag set for the
// target version: N is one past the highest -rc.N already minted for the
// same X.Y.Z, starting at 1.
func NextRC(target *semver.Version, tags []string) RC {
	highest := 0
	for _, t := range tags {
		rc, err := ParseRC(Tag(t))
		if err != nil {
			continue
		}
		if rc.Release.Equal(target) && rc.N > highest {
			highest = rc.N
		}
	}
	return RC{Release: target, N: highest + 1}
}

// ReleaseOf strips the -rc.N suffix exactly, yielding the stable tag the
// candidate releases as.
func ReleaseOf(rc Tag) (Tag, error) {
	parsed, err := ParseRC(rc)
	if err != nil {
		return "", err
	}
	return Tag("v" + parsed.Release.String()), nil
}

// =============================================================================
// QA Verdicts
// =============================================================================

// Verdict is the recorded sign-off decision for one release candidate.
type Verdict string

const (
	VerdictNone    Verdict = ""
	VerdictGranted Verdict = "granted"
	VerdictDenied  Verdict = "denied"
)

// QAVerdictOf renders the verdict tag minted when a sign-off is recorded
// against a release candidate.
func QAVerdictOf(rc Tag, pass bool) (Tag, error) {
	if _, err := ParseRC(rc); err != nil {
		return "", err
	}
	if pass {
		return rc + qaSuccessSuffix, nil
	}
	return rc + qaFailureSuffix, nil
}

// ParseVerdictTag parses a tag of the form vX.Y.Z-rc.N-qa-success|failure.
func ParseVerdictTag(tag Tag) (RC, Verdict, error) {
	s := string(tag)
	switch {
	case strings.HasSuffix(s, qaSuccessSuffix):
		rc, err := ParseRC(Tag(strings.TrimSuffix(s, qaSuccessSuffix)))
		return rc, VerdictGranted, err
	case strings.HasSuffix(s, qaFailureSuffix):
		rc, err := ParseRC(Tag(strings.TrimSuffix(s, qaFailureSuffix)))
		return rc, VerdictDenied, err
	default:
		return RC{}, VerdictNone, fmt.Errorf("%w: %q", ErrNotReleaseCandidate, tag)
	}
}

// VerdictFor derives the sign-off record for a candidate from the tag set.
// A recorded failure dominates: a candidate carrying both verdict tags is
// denied.
func VerdictFor(rc Tag, tags []string) Verdict {
	verdict := VerdictNone
	for _, t := range tags {
		switch Tag(t) {
		case rc + qaFailureSuffix:
			return VerdictDenied
		case rc + qaSuccessSuffix:
			verdict = VerdictGranted
		}
	}
	return verdict
}

// =============================================================================
// Release Targeting
// =============================================================================

// HighestRelease returns the highest stable vX.Y.Z tag present.
func HighestRelease(tags []string) (*semver.Version, bool) {
	var highest *semver.Version
	for _, t := range tags {
		if !IsStable(Tag(t)) {
			continue
		}
		v, err := semver.NewVersion(t)
		if err != nil {
			continue
		}
		if highest == nil || v.GreaterThan(highest) {
			highest = v
		}
	}
	return highest, highest != nil
}

// IsReleased reports whether the stable tag for the version already exists.
// Stable tags are immutable; re-minting one is never allowed.
func IsReleased(v *semver.Version, tags []string) bool {
	for _, t := range tags {
		if Tag(t) == Tag("v"+v.String()) {
			return true
		}
	}
	return false
}

// TargetRelease decides which X.Y.Z the next candidates are minted for.
// An explicit "X.Y.Z" (or "vX.Y.Z") configuration wins; "auto" or empty
// derives the next patch above the highest released stable, and 1.0.0 when
// nothing has been released yet.
func TargetRelease(configured string, tags []string) (*semver.Version, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" && configured != "auto" {
		v, err := semver.StrictNewVersion(strings.TrimPrefix(configured, "v"))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrMalformedTarget, configured, err)
		}
		return v, nil
	}
	highest, ok := HighestRelease(tags)
	if !ok {
		return semver.New(1, 0, 0, "", ""), nil
	}
	next := highest.IncPatch()
	return &next, nil
}

// =============================================================================
// Chain Summary
// =============================================================================

// Candidate is one release candidate and its recorded verdict.
type Candidate struct {
	Tag      Tag     `json:"tag"`
	Verdict  Verdict `json:"verdict,omitempty"`
	Released bool    `json:"released,omitempty"`
}

// Summary is the promotion chain state recovered from the registry tag set.
type Summary struct {
	Target     Tag         `json:"target"`
	Candidates []Candidate `json:"candidates,omitempty"`
	Releases   []Tag       `json:"releases,omitempty"`
}

// Summarize recovers the promotion state from the tag set alone.
func Summarize(configuredTarget string, tags []string) (Summary, error) {
	target, err := TargetRelease(configuredTarget, tags)
	if err != nil {
		return Summary{}, err
	}

	var rcs []RC
	for _, t := range tags {
		if rc, err := ParseRC(Tag(t)); err == nil {
			rcs = append(rcs, rc)
		}
	}
	sort.Slice(rcs, func(i, j int) bool {
		if rcs[i].Release.Equal(rcs[j].Release) {
			return rcs[i].N < rcs[j].N
		}
		return rcs[i].Release.LessThan(rcs[j].Release)
	})

	s := Summary{Target: Tag("v" + target.String())}
	for _, rc := range rcs {
		s.Candidates = append(s.Candidates, Candidate{
			Tag:      rc.Tag(),
			Verdict:  VerdictFor(rc.Tag(), tags),
			Released: IsReleased(rc.Release, tags),
		})
	}

	var releases []*semver.Version
	for _, t := range tags {
		if IsStable(Tag(t)) {
			if v, err := semver.NewVersion(t); err == nil {
				releases = append(releases, v)
			}
		}
	}
	sort.Sort(semver.Collection(releases))
	for _, v := range releases {
		s.Releases = append(s.Releases, Tag("v"+v.String()))
	}
	return s, nil
}
