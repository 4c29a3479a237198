package workspace

import "errors"

var (
	ErrWorkspaceInit = errors.New("workspace initialization failed")
	ErrSourceFetch   = errors.New("source fetch failed")
)
