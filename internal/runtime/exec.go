package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"go.trai.ch/zerr"
)

// Shell used to run setup and build commands.
const defaultShell = "/bin/sh"

// Sequence counter for generating unique exec process identifiers.
var execSeq uint64

// Returns a unique exec process identifier.
func nextExecID() string {
	return fmt.Sprintf("exec-%d", atomic.AddUint64(&execSeq, 1))
}

// Runs a command inside the container and captures its output.
//
// The command is passed to the shell as a single argument via "sh -c
// command". Environment variables and working directory override the
// container's OCI spec for this execution only. Stdout and stderr are
// interleaved into a single capture, the way a terminal would show them.
// A non-zero exit code is not treated as an error; the caller decides.
func (c *container) exec(ctx context.Context, command string, env []string, workdir string) (int, string, error) {
	pspec, err := c.buildProcessSpec(ctx, env, workdir, defaultShell, "-c", command)
	if err != nil {
		return 0, "", zerr.Wrap(err, ErrRuntime.Error())
	}

	// The stdout and stderr FIFOs are copied by separate goroutines, so
	// the shared capture must serialize their writes.
	var out lockedBuffer
	exitCode, err := c.execProcess(ctx, pspec, &out, &out)
	if err != nil {
		return 0, "", err
	}
	return exitCode, out.String(), nil
}

// An io.Writer safe for concurrent use by multiple stream copiers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Builds an OCI process spec for running a command inside the container.
//
// A process spec defines everything needed to start a process: the command
// and arguments, environment variables, working directory, and terminal
// mode. The base values are copied from the container's own OCI spec, then
// env and workdir are overridden if provided.
func (c *container) buildProcessSpec(ctx context.Context, env []string, workdir string, args ...string) (*specs.Process, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, err
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return nil, err
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = args

	if len(env) > 0 {
		pspec.Env = mergeEnv(pspec.Env, env)
	}
	if workdir != "" {
		pspec.Cwd = workdir
	}

	return &pspec, nil
}

// Merges override env vars on top of a base env slice.
func mergeEnv(base, overrides []string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}
	for _, entry := range overrides {
		if k, v, ok := strings.Cut(entry, "="); ok {
			merged[k] = v
		}
	}

	result := make([]string, 0, len(merged))
	for k, v := range merged {
		result = append(result, k+"="+v)
	}
	return result
}

// Starts a process inside the container's running task, waits for it to
// exit, and returns the exit code.
//
// The process is attached to the task as an additional exec, not as the
// primary process. This requires the task to already be running (started
// during container creation). Nil streams are replaced with io.Discard.
// The process is always deleted before returning. A non-zero exit code is
// not treated as an error; the caller decides how to handle it.
func (c *container) execProcess(ctx context.Context, pspec *specs.Process, stdout, stderr io.Writer) (int, error) {
	task, err := c.loadTask(ctx)
	if err != nil {
		return 0, err
	}

	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	process, err := task.Exec(ctx, nextExecID(), pspec, cio.NewCreator(
		cio.WithStreams(nil, stdout, stderr),
	))
	if err != nil {
		return 0, zerr.Wrap(err, ErrRuntime.Error())
	}

	statusC, err := process.Wait(ctx)
	if err != nil {
		process.Delete(ctx)
		return 0, zerr.Wrap(err, ErrRuntime.Error())
	}

	if err := process.Start(ctx); err != nil {
		process.Delete(ctx)
		return 0, zerr.Wrap(err, ErrRuntime.Error())
	}

	exitStatus := <-statusC
	process.Delete(ctx)

	code, _, err := exitStatus.Result()
	if err != nil {
		return 0, zerr.Wrap(err, ErrRuntime.Error())
	}

	return int(code), nil
}

// Loads the container's running task.
func (c *container) loadTask(ctx context.Context) (containerd.Task, error) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, zerr.Wrap(err, ErrRuntime.Error())
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil, zerr.Wrap(err, ErrRuntime.Error())
	}

	return task, nil
}
