package workspace

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"go.trai.ch/zerr"
)

// Fetches the project source from a location into dest.
//
// Git URLs are cloned; everything else is treated as a local directory and
// copied. The distinction is made from the location's shape, not by probing
// the network.
func fetch(ctx context.Context, source, dest string) error {
	if isGitSource(source) {
		return fetchGit(ctx, source, dest)
	}
	return fetchLocal(source, dest)
}

// Reports whether a source location names a git repository.
func isGitSource(source string) bool {
	if strings.HasPrefix(source, "git@") {
		return true
	}
	for _, scheme := range []string{"https://", "http://", "git://", "ssh://"} {
		if strings.HasPrefix(source, scheme) {
			return true
		}
	}
	return strings.HasSuffix(source, ".git")
}

// Clones a git repository shallowly into dest.
//
// A "#ref" suffix on the URL selects a branch or tag. The clone depth is 1:
// the orchestrator builds a snapshot, history is dead weight.
func fetchGit(ctx context.Context, source, dest string) error {
	url, ref, _ := strings.Cut(source, "#")

	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, dest)

	slog.Debug("cloning source", "url", url, "ref", ref)

	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return zerr.With(zerr.Wrap(err, ErrSourceFetch.Error()), "output", strings.TrimSpace(string(out)))
	}

	return nil
}

// Copies a local source directory into dest.
func fetchLocal(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return zerr.Wrap(err, ErrSourceFetch.Error())
	}
	if !info.IsDir() {
		return zerr.With(ErrSourceFetch, "source", source)
	}

	slog.Debug("copying source", "dir", source)

	if err := copyTree(source, dest); err != nil {
		return zerr.Wrap(err, ErrSourceFetch.Error())
	}
	return nil
}
