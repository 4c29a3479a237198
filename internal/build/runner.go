package build

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.trai.ch/zerr"

	"github.com/crossforge/crossforge/internal/registry"
	"github.com/crossforge/crossforge/internal/runtime"
)

// Runs the full pipeline for a single target.
//
// The pipeline ensures the target's environment, executes the build command
// against the workspace tree, verifies that the expected artifact exists,
// and collects it into the output directory. Any failure is recorded in the
// result and isolated to this target.
func (r *run) buildTarget(ctx context.Context, target registry.Target) Result {
	start := time.Now()
	res := r.runPipeline(ctx, target)
	res.Target = target.Name
	res.Duration = time.Since(start)

	if res.Failed() {
		slog.Error("target failed", "target", target.Name, "error", res.Err)
	} else {
		slog.Info("target built", "target", target.Name, "artifact", res.Artifact, "duration", res.Duration)
	}

	return res
}

func (r *run) runPipeline(ctx context.Context, target registry.Target) Result {
	// A cancelled run stops scheduling work; targets that never started
	// are reported as cancelled, not silently dropped.
	if err := ctx.Err(); err != nil {
		return Result{Err: zerr.Wrap(err, ErrCancelled.Error())}
	}

	env, err := r.engine.EnsureEnvironment(ctx, target)
	if err != nil {
		return Result{Err: err}
	}

	tree, err := r.targetTree(target.Name)
	if err != nil {
		return Result{Err: err}
	}

	artifact := r.artifact.forTarget(target.Name)

	slog.Info("building target", "target", target.Name, "command", target.Build)

	exec, err := env.Execute(ctx, runtime.BuildSpec{
		ContainerID: "crossforge-" + r.ws.ID() + "-" + target.Name,
		Command:     target.Build,
		Workspace:   tree,
		Env: []string{
			"TARGET=" + target.Name,
			"ARTIFACT=" + artifact,
		},
	})
	if err != nil {
		return Result{Err: err}
	}

	if exec.ExitCode != 0 {
		return Result{
			Output: exec.Output,
			Err:    zerr.With(ErrBuildFailed, "exit_code", exec.ExitCode),
		}
	}

	// A zero exit is not proof the artifact exists; verify before
	// collecting.
	src := filepath.Join(tree, artifact)
	if _, err := os.Stat(src); err != nil {
		return Result{
			Output: exec.Output,
			Err:    zerr.With(ErrArtifactMissing, "artifact", artifact),
		}
	}

	// Collection only happens for a completed, verified build; a
	// cancelled target never ships a partial artifact.
	if err := ctx.Err(); err != nil {
		return Result{Output: exec.Output, Err: zerr.Wrap(err, ErrCancelled.Error())}
	}

	dest := filepath.Join(r.output, artifact)
	if err := collect(src, dest); err != nil {
		return Result{Output: exec.Output, Err: err}
	}

	return Result{Artifact: dest, Output: exec.Output}
}

// Returns the source tree a target builds against.
//
// Sequential runs share the fetched tree. Parallel runs give each target
// its own clone so concurrent build commands cannot observe each other's
// transient state.
func (r *run) targetTree(name string) (string, error) {
	if !r.parallel {
		return r.ws.Source(), nil
	}
	return r.ws.CloneFor(name)
}
