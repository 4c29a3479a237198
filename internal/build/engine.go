package build

import (
	"context"

	"github.com/crossforge/crossforge/internal/registry"
	"github.com/crossforge/crossforge/internal/runtime"
)

// Provides isolated build environments.
//
// The orchestrator depends only on this narrow contract: an environment can
// be ensured per target, and a command can be executed inside it. The
// containerd-backed engine in the runtime package is the production
// implementation; tests substitute their own.
type Engine interface {
	EnsureEnvironment(ctx context.Context, target registry.Target) (Environment, error)
}

// Executes build commands inside one target's isolated environment.
type Environment interface {
	Execute(ctx context.Context, spec runtime.BuildSpec) (*runtime.ExecResult, error)
}
