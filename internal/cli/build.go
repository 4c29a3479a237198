package cli

import (
	"context"
	"log/slog"

	"go.trai.ch/zerr"

	"github.com/crossforge/crossforge/internal/build"
	"github.com/crossforge/crossforge/internal/paths"
	"github.com/crossforge/crossforge/internal/registry"
	"github.com/crossforge/crossforge/internal/runtime"
	"github.com/crossforge/crossforge/internal/workspace"
)

var errTargetsFailed = zerr.New("one or more targets failed")

// Represents the 'crossforge build' command.
type BuildCmd struct {
	Config   string `short:"f" default:"crossforge.yaml" help:"Path to the target registry file." placeholder:"PATH"`
	Source   string `help:"Source location to build, overriding the registry file." placeholder:"PATH|URL"`
	Artifact string `help:"Artifact filename the build command produces, overriding the registry file." placeholder:"NAME"`
	Output   string `short:"o" help:"Directory collected artifacts are placed in." placeholder:"DIR"`
	Jobs     int    `short:"j" default:"1" help:"Number of targets to build concurrently."`
	Keep     bool   `help:"Keep the workspace on disk after the run, for debugging."`
}

// Executes the build command.
//
// Loads the target registry, connects to containerd, fetches the source
// into a fresh workspace, and runs the build pipeline for every declared
// target. The command fails if any target failed, after all targets have
// been attempted.
func (c *BuildCmd) Run(ctx context.Context) error {
	cfg, err := registry.Load(c.Config)
	if err != nil {
		return err
	}

	reg, err := registry.New(cfg.Targets)
	if err != nil {
		return err
	}

	source := c.Source
	if source == "" {
		source = cfg.Source
	}
	if source == "" {
		source = "."
	}

	artifact := c.Artifact
	if artifact == "" {
		artifact = cfg.Artifact
	}

	// A bad artifact declaration is a configuration defect; fail before
	// connecting to containerd or fetching any source.
	if err := build.ValidateArtifact(artifact); err != nil {
		return err
	}

	output := c.Output
	if output == "" {
		output = paths.DefaultOutput()
	}

	engine, err := runtime.New(RootCmd.Address, RootCmd.Namespace)
	if err != nil {
		return err
	}
	defer engine.Close()

	ws, err := workspace.Open(ctx, source)
	if err != nil {
		return err
	}
	defer ws.Close()

	if c.Keep {
		ws.Retain()
		slog.Info("workspace retained", "root", ws.Root())
	}

	report, err := build.Run(ctx, engineAdapter{engine}, ws, build.Options{
		Registry: reg,
		Artifact: artifact,
		Output:   output,
		Jobs:     c.Jobs,
	})
	if err != nil {
		return err
	}

	for _, res := range report.Failed() {
		// Captured build output is replayed so the failure is
		// diagnosable without rerunning.
		if res.Output != "" {
			slog.Error("build output", "target", res.Target, "output", res.Output)
		}
	}

	succeeded := report.Succeeded()
	slog.Info("run complete",
		"succeeded", len(succeeded),
		"failed", len(report.Failed()),
		"output", output,
	)

	if failed := report.Failed(); len(failed) > 0 {
		return zerr.With(errTargetsFailed, "failed", len(failed))
	}
	return nil
}

// Bridges the containerd-backed engine to the orchestrator's environment
// contract; needed because EnsureEnvironment returns a concrete type.
type engineAdapter struct {
	engine *runtime.Engine
}

func (a engineAdapter) EnsureEnvironment(ctx context.Context, target registry.Target) (build.Environment, error) {
	return a.engine.EnsureEnvironment(ctx, target)
}
