package registry

import "errors"

// Configuration errors are fatal: the registry is rejected before any
// environment is built or any source is fetched.
var (
	ErrDuplicateTarget = errors.New("duplicate target name")
	ErrInvalidTarget   = errors.New("invalid target declaration")
	ErrNoTargets       = errors.New("no targets declared")
)
