package runtime

import "errors"

var (
	ErrRuntime          = errors.New("container runtime operation failed")
	ErrEnvironmentBuild = errors.New("environment build failed")
	ErrEmptyArchive     = errors.New("archive contains no images")
	ErrMultipleImages   = errors.New("archive contains more than one image")
	ErrEmptyIndex       = errors.New("image index contains no manifests")
)
