package build

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"

	"github.com/crossforge/crossforge/internal/paths"
	"github.com/crossforge/crossforge/internal/registry"
	"github.com/crossforge/crossforge/internal/workspace"
)

// Controls an orchestration run.
type Options struct {
	Registry *registry.Registry // Targets to build, in declaration order.
	Artifact string             // Artifact filename, e.g. "app.bin".
	Output   string             // Destination directory for collected artifacts.
	Jobs     int                // Max concurrent target builds; values below 2 mean sequential.
}

// Executes the full orchestration run for every declared target.
//
// Each target runs its own pipeline: ensure environment, execute the build
// command against the workspace, verify and collect the artifact. A failing
// target never aborts its siblings; failures are recorded in the report and
// the remaining targets proceed. The fetched source tree is shared when
// builds run sequentially; with Jobs above one, each target builds in its
// own clone of the tree.
//
// The returned error is reserved for fatal conditions that prevent any
// target from building. Per-target outcomes, including failures, live in
// the report.
func Run(ctx context.Context, engine Engine, ws *workspace.Workspace, opts Options) (*Report, error) {
	artifact, err := parseArtifact(opts.Artifact)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
		return nil, zerr.Wrap(err, "failed to create output directory")
	}

	targets := opts.Registry.Targets()
	parallel := opts.Jobs > 1

	slog.Info("starting run",
		"targets", len(targets),
		"output", opts.Output,
		"jobs", max(opts.Jobs, 1),
	)

	r := &run{
		engine:   engine,
		ws:       ws,
		artifact: artifact,
		output:   opts.Output,
		parallel: parallel,
	}

	results := make([]Result, len(targets))

	g := new(errgroup.Group)
	g.SetLimit(max(opts.Jobs, 1))

	for i, target := range targets {
		g.Go(func() error {
			results[i] = r.buildTarget(ctx, target)
			return nil
		})
	}

	// Pipelines record failures instead of returning them.
	g.Wait()

	return &Report{Results: results}, nil
}

// Holds shared state for building all targets of a run.
type run struct {
	engine   Engine               // Environment provider.
	ws       *workspace.Workspace // Shared scratch area with the fetched source.
	artifact artifactName         // Artifact naming scheme.
	output   string               // Destination directory for collected artifacts.
	parallel bool                 // Whether targets build on independent source clones.
}

// Naming scheme for produced artifacts, split so the target name can be
// embedded between base and extension.
type artifactName struct {
	base string
	ext  string
}

// Checks that an artifact filename is usable as a naming scheme. Lets
// callers reject a bad declaration before any environment or workspace
// work starts.
func ValidateArtifact(name string) error {
	_, err := parseArtifact(name)
	return err
}

// Parses an artifact filename like "app.bin" into its naming scheme.
func parseArtifact(name string) (artifactName, error) {
	if name == "" || strings.ContainsRune(name, '/') {
		return artifactName{}, zerr.With(ErrInvalidArtifact, "artifact", name)
	}

	base, ext, found := cutLastDot(name)
	if !found {
		return artifactName{base: name}, nil
	}
	if base == "" || ext == "" {
		return artifactName{}, zerr.With(ErrInvalidArtifact, "artifact", name)
	}
	return artifactName{base: base, ext: ext}, nil
}

// Returns the artifact filename with the target name embedded, e.g.
// "app.alpine3.8.bin". Collision-free by construction since target names
// are unique across the registry.
func (a artifactName) forTarget(target string) string {
	if a.ext == "" {
		return a.base + "." + target
	}
	return a.base + "." + target + "." + a.ext
}

// Splits a filename at its last dot.
func cutLastDot(s string) (before, after string, found bool) {
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}
