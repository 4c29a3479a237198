package build

import "errors"

var (
	ErrBuildFailed     = errors.New("build command failed")
	ErrArtifactMissing = errors.New("artifact missing after successful build")
	ErrCollection      = errors.New("artifact collection failed")
	ErrCancelled       = errors.New("build cancelled")
	ErrInvalidArtifact = errors.New("invalid artifact name")
)
