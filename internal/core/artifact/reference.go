// Package artifact resolves raw artifact identifiers into canonical
// container image references.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidReference is returned when a payload cannot be resolved
	// into a usable image reference. Deployments abort on it before any
	// remote side effect occurs.
	ErrInvalidReference = errors.New("invalid artifact reference")
)

// =============================================================================
// Reference
// =============================================================================

// Reference identifies one immutable container image:
// <registry-host>/<namespace>/<repository>:<tag> or the digest-qualified
// form <repository>@sha256:<hex>. It is never empty once resolved.
type Reference string

// Parts is the decomposition of a Reference. Exactly one of Tag or Digest
// is set.
type Parts struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// Resolve turns a raw textual payload into a canonical Reference. The
// payload may be a bare reference, a JSON-quoted string, or a JSON array
// containing exactly one reference; array and quote decoration is stripped
// and surrounding whitespace trimmed.
//
// Empty payloads, the literal null sentinel, arrays that do not contain
// exactly one element, and payloads that resolve to an empty string all
// fail with ErrInvalidReference.
func Resolve(raw string) (Reference, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "null" {
		return "", fmt.Errorf("%w: empty payload", ErrInvalidReference)
	}

	switch {
	case strings.HasPrefix(s, "["):
		var items []string
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return "", fmt.Errorf("%w: malformed array payload: %v", ErrInvalidReference, err)
		}
		if len(items) != 1 {
			return "", fmt.Errorf("%w: expected exactly one reference, got %d", ErrInvalidReference, len(items))
		}
		s = strings.TrimSpace(items[0])
	case strings.HasPrefix(s, `"`):
		var item string
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			return "", fmt.Errorf("%w: malformed quoted payload: %v", ErrInvalidReference, err)
		}
		s = strings.TrimSpace(item)
	}

	if s == "" || s == "null" {
		return "", fmt.Errorf("%w: payload resolved to nothing", ErrInvalidReference)
	}

	if _, err := name.ParseReference(s); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	return Reference(s), nil
}

// Parts decomposes the reference into registry, repository and tag/digest.
func (r Reference) Parts() (Parts, error) {
	ref, err := name.ParseReference(string(r))
	if err != nil {
		return Parts{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	p := Parts{
		Registry:   ref.Context().RegistryStr(),
		Repository: ref.Context().RepositoryStr(),
	}
	switch v := ref.(type) {
	case name.Tag:
		p.Tag = v.TagStr()
	case name.Digest:
		p.Digest = v.DigestStr()
	}
	return p, nil
}

// Repository returns the reference without its tag or digest part.
func (r Reference) Repository() (string, error) {
	ref, err := name.ParseReference(string(r))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return ref.Context().Name(), nil
}

// WithTag returns a reference to the same repository under a different tag.
func (r Reference) WithTag(tag string) (Reference, error) {
	ref, err := name.ParseReference(string(r))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	tagged, err := name.NewTag(fmt.Sprintf("%s:%s", ref.Context().Name(), tag))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return Reference(tagged.Name()), nil
}

// WithDigest returns a digest-qualified reference to the same repository.
func (r Reference) WithDigest(digest string) (Reference, error) {
	ref, err := name.ParseReference(string(r))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	qualified, err := name.NewDigest(fmt.Sprintf("%s@%s", ref.Context().Name(), digest))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return Reference(qualified.Name()), nil
}
