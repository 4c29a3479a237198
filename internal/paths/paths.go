package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "crossforge"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the parent directory for ephemeral build workspaces.
//
//	Linux:   $XDG_RUNTIME_DIR/crossforge or /run/user/<uid>/crossforge
//	macOS:   ~/Library/Caches/crossforge/run
//
// Workspaces are created beneath this directory for the duration of a run
// and removed when the run completes.
func Workspaces() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, toolName)
	}
	return filepath.Join(xdg.CacheHome, toolName, "run")
}

// Default path for collected build artifacts, relative to the working
// directory unless overridden on the command line.
func DefaultOutput() string {
	return "dist"
}
