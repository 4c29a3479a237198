package registry

import (
	"encoding/json"
	"strings"

	"github.com/opencontainers/go-digest"
	"go.trai.ch/zerr"
)

// Declarative description of a target's isolated build environment.
//
// Image names either a local OCI archive path or a registry reference. Setup
// commands run in order, each via "sh -c", when the environment is first
// built. The definition is data: changing it changes the environment digest
// and forces a rebuild, without touching orchestration code.
type Definition struct {
	Image string   `yaml:"image" json:"image"`
	Setup []string `yaml:"setup,omitempty" json:"setup,omitempty"`
}

// One platform for which a binary must be produced.
//
// Name is the unique registry key. It doubles as the environment cache key
// component and as the suffix embedded in the collected artifact filename.
type Target struct {
	Name        string     `yaml:"name"`
	Environment Definition `yaml:"environment"`
	Build       string     `yaml:"build"`
}

// Content digest of the definition.
//
// The definition is serialized to canonical JSON and hashed, so two
// definitions with the same image and setup commands always produce the
// same digest regardless of where they were declared.
func (d Definition) Digest() digest.Digest {
	b, err := json.Marshal(d)
	if err != nil {
		// Definition contains only strings and string slices; Marshal
		// cannot fail on it.
		panic(err)
	}
	return digest.Canonical.FromBytes(b)
}

// The ordered, immutable set of targets for one orchestration run.
type Registry struct {
	targets []Target
}

// Validates the declared targets and builds a registry from them.
//
// Declaration order is preserved. Every target must carry a name, a base
// image, and a build command, and names must be unique across the registry.
func New(targets []Target) (*Registry, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if !validName(t.Name) || t.Environment.Image == "" || t.Build == "" {
			return nil, zerr.With(ErrInvalidTarget, "target", t.Name)
		}
		if _, ok := seen[t.Name]; ok {
			return nil, zerr.With(ErrDuplicateTarget, "target", t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	return &Registry{targets: append([]Target(nil), targets...)}, nil
}

// Reports whether a target name is usable as an identifier.
//
// Target names flow into artifact filenames, clone directories, container
// IDs, and image tags, so anything resembling a path is rejected here,
// before any environment is built.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// Returns the targets in declaration order.
//
// The returned slice is a copy; the registry does not change after
// construction.
func (r *Registry) Targets() []Target {
	return append([]Target(nil), r.targets...)
}

// Returns the number of declared targets.
func (r *Registry) Len() int {
	return len(r.targets)
}
