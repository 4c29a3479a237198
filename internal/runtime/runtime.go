package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"go.trai.ch/zerr"

	"github.com/crossforge/crossforge/internal/registry"
)

const (

	// Default containerd socket address.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultNamespace = "crossforge"

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)),
	// allowing the orchestrator to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Manages the containerd client and provides the environment store.
type Engine struct {
	client *containerd.Client // Containerd client for managing containers and images.
}

// Creates an engine connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations, including the environment
// image store, to a single tenant. The engine must be closed when no longer
// needed.
func New(address, namespace string) (*Engine, error) {
	if address == "" {
		address = DefaultAddress
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, zerr.Wrap(err, ErrRuntime.Error())
	}
	return &Engine{client: client}, nil
}

// Closes the containerd client connection.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Idempotently builds the isolated execution environment for a target.
//
// The environment is an image in the containerd store, tagged with the
// target name and a digest of its definition. When a matching image already
// exists the build is skipped entirely; the stored image outlives the run,
// so later runs with an unchanged definition hit the cache too. Changing
// the definition changes the digest and forces a rebuild without touching
// the previous image.
func (e *Engine) EnsureEnvironment(ctx context.Context, target registry.Target) (*Environment, error) {
	tag := envTag(target.Name, target.Environment)
	platform := defaultPlatform()

	_, err := e.client.ImageService().Get(ctx, tag)
	if err == nil {
		slog.Debug("environment cache hit", "target", target.Name, "tag", tag)

		// The image record survives GC but its snapshots may not;
		// Unpack is a no-op when they are still present.
		if err := e.unpackImage(ctx, tag, platform); err != nil {
			return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
		}
		return &Environment{client: e.client, tag: tag, platform: platform}, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, zerr.Wrap(err, ErrRuntime.Error())
	}

	return e.buildEnvironment(ctx, target, tag, platform)
}

// Builds an environment image from a target's definition.
//
// The base image is imported or pulled, a scratch container is started from
// it, each setup command runs in order via the shell, and the resulting
// filesystem is committed to the store under the environment tag. The
// scratch container is destroyed whatever the outcome; a failed setup
// command leaves no environment image behind.
func (e *Engine) buildEnvironment(ctx context.Context, target registry.Target, tag, platform string) (*Environment, error) {
	slog.Info("building environment",
		"target", target.Name,
		"image", target.Environment.Image,
		"setup", len(target.Environment.Setup),
	)

	baseTag, err := e.ensureBaseImage(ctx, target.Environment.Image, platform)
	if err != nil {
		return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
	}

	c := &container{
		client:   e.client,
		id:       "crossforge-env-" + target.Name,
		platform: platform,
	}

	// Remove any stale scratch container from an interrupted build.
	c.remove(ctx)

	image, err := resolveImage(ctx, e.client, baseTag, platform)
	if err != nil {
		return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
	}

	ctr, err := c.create(ctx, image, nil)
	if err != nil {
		return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
	}
	defer c.destroy(ctx)

	if err := c.startTask(ctx, ctr); err != nil {
		return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
	}

	for _, cmd := range target.Environment.Setup {
		slog.Debug("setup", "target", target.Name, "command", cmd)

		exitCode, output, err := c.exec(ctx, cmd, nil, "")
		if err != nil {
			return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
		}
		if exitCode != 0 {
			return nil, zerr.With(zerr.With(ErrEnvironmentBuild, "exit_code", exitCode), "output", output)
		}
	}

	if err := c.stop(ctx); err != nil {
		return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
	}

	if err := c.commit(ctx, tag); err != nil {
		return nil, zerr.Wrap(err, ErrEnvironmentBuild.Error())
	}

	slog.Info("environment built", "target", target.Name, "tag", tag)

	return &Environment{client: e.client, tag: tag, platform: platform}, nil
}

// Makes a target's base image available in the store.
//
// A path that exists on disk is treated as a local OCI archive and
// imported; anything else is treated as a registry reference and pulled.
// Both are unpacked for the platform so containers can start from them.
func (e *Engine) ensureBaseImage(ctx context.Context, ref, platform string) (string, error) {
	if _, err := os.Stat(ref); err == nil {
		return e.importArchive(ctx, ref, platform)
	}

	if _, err := e.client.ImageService().Get(ctx, ref); err == nil {
		return ref, nil
	}

	slog.Debug("pulling base image", "ref", ref)

	if _, err := e.client.Pull(ctx, ref,
		containerd.WithPlatform(platform),
		containerd.WithPullSnapshotter(snapshotter),
		containerd.WithPullUnpack,
	); err != nil {
		return "", err
	}

	return ref, nil
}

// Imports an OCI archive into the content store and unpacks it.
//
// The archive must contain exactly one image. The image is tagged with a
// deterministic name derived from the path, so re-importing the same
// archive updates the existing record instead of accumulating duplicates.
func (e *Engine) importArchive(ctx context.Context, path, platform string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	imported, err := e.client.Import(ctx, fh)
	if err != nil {
		return "", err
	}

	// Import returns one record per image in the archive's index.json.
	// A multi-platform archive has a single entry (an OCI index that
	// internally references per-platform manifests). Multiple records
	// would mean multiple unrelated images, which we don't support.
	if len(imported) == 0 {
		return "", ErrEmptyArchive
	} else if len(imported) > 1 {
		return "", ErrMultipleImages
	}

	tag := importTag(path)
	if err := e.tagImage(ctx, imported[0], tag); err != nil {
		return "", err
	}

	if err := e.unpackImage(ctx, tag, platform); err != nil {
		return "", err
	}

	return tag, nil
}

// Tags an imported image under a deterministic name.
//
// Updates the tag if it already exists. Removes the source record when
// its name differs from the tag to avoid duplicates.
func (e *Engine) tagImage(ctx context.Context, source images.Image, tag string) error {
	is := e.client.ImageService()

	img := images.Image{
		Name:   tag,
		Target: source.Target,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target"); err != nil {
			return err
		}
	}

	if source.Name != tag {
		_ = is.Delete(ctx, source.Name)
	}

	return nil
}

// Unpacks the image layers for the target platform into the snapshotter.
func (e *Engine) unpackImage(ctx context.Context, tag, platform string) error {
	image, err := resolveImage(ctx, e.client, tag, platform)
	if err != nil {
		return err
	}

	return image.Unpack(ctx, snapshotter)
}

// Looks up a tagged image and selects the manifest for the given platform.
//
// Multi-platform images contain manifests for multiple architectures. This
// selects one, so that subsequent operations target the correct
// architecture.
func resolveImage(ctx context.Context, client *containerd.Client, tag, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	img, err := client.ImageService().Get(ctx, tag)
	if err != nil {
		return nil, err
	}

	return containerd.NewImageWithPlatform(client, img, platforms.Only(p)), nil
}

// Produces the environment image tag for a target.
//
// The tag embeds the target name and a truncated digest of the environment
// definition, so an edited definition maps to a fresh tag while an unchanged
// one keeps hitting the cached image.
func envTag(name string, def registry.Definition) string {
	return fmt.Sprintf("crossforge/env/%s:%s", name, def.Digest().Encoded()[:12])
}

// Produces a containerd image tag from an archive path.
//
// The path is hashed to produce a tag that is always valid for OCI
// references regardless of which characters the path contains.
func importTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
