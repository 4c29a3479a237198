package workspace

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.trai.ch/zerr"

	"github.com/crossforge/crossforge/internal/paths"
)

// Directory name of the fetched source tree inside a workspace.
const sourceDir = "src"

// The ephemeral shared scratch area for one orchestration run.
//
// A workspace owns a uniquely named directory holding the fetched source
// tree. It is created once at run start and removed unconditionally at run
// end; nothing inside it outlives the run.
type Workspace struct {
	id   string // Short run identifier, embedded in container IDs.
	root string // Scratch directory, removed on Close.
	src  string // Fetched source tree inside root.
	keep bool   // Skip removal on Close (debugging only).
}

// Creates the scratch directory and fetches the project source into it.
//
// The source is fetched exactly once; all target builds share the resulting
// tree. A git URL is cloned shallowly (an optional "#ref" suffix selects a
// branch or tag); anything else must be a local directory and is copied.
// On fetch failure the scratch directory is removed before returning, so a
// failed Open never leaks.
func Open(ctx context.Context, source string) (*Workspace, error) {
	id := uuid.NewString()[:8]

	parent := paths.Workspaces()
	if err := os.MkdirAll(parent, paths.DefaultDirMode); err != nil {
		return nil, zerr.Wrap(err, ErrWorkspaceInit.Error())
	}

	root := filepath.Join(parent, "run-"+id)
	if err := os.Mkdir(root, paths.DefaultDirMode); err != nil {
		return nil, zerr.Wrap(err, ErrWorkspaceInit.Error())
	}

	src := filepath.Join(root, sourceDir)
	if err := fetch(ctx, source, src); err != nil {
		os.RemoveAll(root)
		return nil, zerr.Wrap(err, ErrWorkspaceInit.Error())
	}

	slog.Debug("workspace opened", "id", id, "root", root, "source", source)

	return &Workspace{id: id, root: root, src: src}, nil
}

// Returns the short run identifier.
func (w *Workspace) ID() string {
	return w.id
}

// Returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Returns the path of the shared source tree.
func (w *Workspace) Source() string {
	return w.src
}

// Creates an independent copy of the source tree for one target.
//
// Concurrent builds must not observe each other's transient build state, so
// each target gets its own tree when builds run in parallel. The copy lives
// inside the workspace root and is removed with it.
func (w *Workspace) CloneFor(name string) (string, error) {
	dest := filepath.Join(w.root, sourceDir+"-"+name)
	if err := copyTree(w.src, dest); err != nil {
		return "", zerr.Wrap(err, "failed to clone source tree")
	}
	return dest, nil
}

// Marks the workspace to be left on disk when closed.
func (w *Workspace) Retain() {
	w.keep = true
}

// Removes the scratch directory and everything beneath it.
//
// Close must run on every exit path of a run, including early failure and
// cancellation. Closing a retained workspace only logs its location.
func (w *Workspace) Close() error {
	if w.keep {
		slog.Info("workspace retained", "root", w.root)
		return nil
	}
	return os.RemoveAll(w.root)
}
