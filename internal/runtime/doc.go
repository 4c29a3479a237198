// Package runtime manages build environments backed by containerd.
//
// An [Engine] connects to a containerd daemon and maintains the environment
// store: one committed image per target, tagged with the target name and a
// digest of its environment definition. [Engine.EnsureEnvironment] builds
// the image on first use (base image import or pull, setup commands, commit)
// and reuses it on every later call with an unchanged definition, across
// runs as well as within one.
//
// An [Environment] is a handle to such an image. Each
// [Environment.Execute] starts a fresh container from it with the target's
// workspace tree bind-mounted read-write, runs the build command there as
// the invoking user, captures the output, and destroys the container. The
// environment image itself is never mutated.
//
// Example usage:
//
//	eng, err := runtime.New(runtime.DefaultAddress, runtime.DefaultNamespace)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	env, err := eng.EnsureEnvironment(ctx, target)
//	if err != nil {
//	    return err
//	}
//
//	result, err := env.Execute(ctx, runtime.BuildSpec{
//	    ContainerID: "crossforge-a1b2c3d4-alpine3.8",
//	    Command:     target.Build,
//	    Workspace:   ws.Source(),
//	})
package runtime
