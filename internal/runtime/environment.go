package runtime

import (
	"context"
	"log/slog"
	"os"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"go.trai.ch/zerr"
)

// Path at which a target's workspace tree is mounted inside the build
// container. The build command runs with this as its working directory.
const WorkspaceMount = "/workspace"

// A built, reusable isolated execution environment.
//
// An environment is a handle to a committed image in the containerd store.
// It is immutable: every build starts a fresh container from the image, so
// repeated executions observe identical environment state.
type Environment struct {
	client   *containerd.Client // Containerd client for container operations.
	tag      string             // Environment image tag in the store.
	platform string             // OCI platform (e.g., "linux/amd64").
}

// Returns the environment's image tag.
func (env *Environment) Tag() string {
	return env.tag
}

// Describes one build command execution inside an environment.
type BuildSpec struct {
	ContainerID string   // Unique container ID for this execution.
	Command     string   // Build command, run via "sh -c".
	Workspace   string   // Host path of the workspace tree to mount.
	Env         []string // Extra environment variables (KEY=value).
}

// Output of a build command execution.
type ExecResult struct {
	ExitCode int    // Exit code of the build command.
	Output   string // Interleaved stdout and stderr.
}

// Runs a build command inside a fresh container from this environment.
//
// The workspace tree is bind-mounted read-write at [WorkspaceMount] and the
// command runs there as the invoking user, not root, so produced artifacts
// are owned by an identity the caller can reach. The container is destroyed
// when the execution finishes; only the workspace carries state out. A
// non-zero exit code is reported in the result, not as an error.
func (env *Environment) Execute(ctx context.Context, spec BuildSpec) (*ExecResult, error) {
	c := &container{
		client:   env.client,
		id:       spec.ContainerID,
		platform: env.platform,
	}

	// Remove any stale container from an interrupted run with this ID.
	c.remove(ctx)

	image, err := resolveImage(ctx, env.client, env.tag, env.platform)
	if err != nil {
		return nil, zerr.Wrap(err, ErrRuntime.Error())
	}

	mounts := []specs.Mount{{
		Destination: WorkspaceMount,
		Type:        "bind",
		Source:      spec.Workspace,
		Options:     []string{"rbind", "rw"},
	}}

	ctr, err := c.create(ctx, image, mounts)
	if err != nil {
		return nil, zerr.Wrap(err, ErrRuntime.Error())
	}
	defer c.destroy(ctx)

	if err := c.startTask(ctx, ctr); err != nil {
		return nil, zerr.Wrap(err, ErrRuntime.Error())
	}

	exitCode, output, err := c.exec(ctx, spec.Command, spec.Env, WorkspaceMount)
	if err != nil {
		return nil, err
	}

	return &ExecResult{ExitCode: exitCode, Output: output}, nil
}

// A running container backed by containerd.
type container struct {
	client   *containerd.Client // Containerd client for managing the container.
	id       string             // Containerd container ID.
	platform string             // OCI platform (e.g., "linux/amd64").
}

// Creates the containerd container with the standard build configuration.
//
// The container shares the host network (package installs during setup need
// DNS and outbound connectivity) and runs an idle task so commands can be
// attached to it. Workspace mounts, when present, run the container process
// as the invoking user with the mount as its working directory.
func (c *container) create(ctx context.Context, image containerd.Image, mounts []specs.Mount) (containerd.Container, error) {
	opts := []oci.SpecOpts{
		oci.WithDefaultSpecForPlatform(c.platform),
		oci.WithImageConfig(image),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostResolvconf,
		oci.WithProcessArgs("sleep", "infinity"),
	}

	if len(mounts) > 0 {
		opts = append(opts,
			oci.WithMounts(mounts),
			oci.WithProcessCwd(WorkspaceMount),
			oci.WithUIDGID(uint32(os.Getuid()), uint32(os.Getgid())),
		)
	}

	return c.client.NewContainer(ctx, c.id,
		containerd.WithImage(image),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithNewSnapshot(c.id, image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(opts...),
	)
}

// Starts the container's long-running task with no attached IO.
func (c *container) startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Stops the container's task.
//
// The running task is killed and deleted. The container metadata and
// snapshot are preserved so the filesystem can still be committed. Stopping
// an already-stopped container is not an error.
func (c *container) stop(ctx context.Context) error {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return err
	}

	task.Kill(ctx, syscall.SIGKILL)
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return err
	}

	return nil
}

// Removes the container and its resources.
//
// The task is killed and the container is removed from containerd along
// with its snapshot. After destruction the handle is invalid.
func (c *container) destroy(ctx context.Context) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("failed to load container for destruction", "id", c.id, "error", err)
		}
		return
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to delete container during destruction", "id", c.id, "error", err)
	}
}

// Removes an existing container with this ID, if one exists.
//
// Any running task is killed and the container is deleted along with its
// snapshot. This is a no-op when no container with the ID is found.
func (c *container) remove(ctx context.Context) {
	existing, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return
	}
	if task, err := existing.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}
	existing.Delete(ctx, containerd.WithSnapshotCleanup)
}
