// Package build orchestrates one multi-target binary build run.
//
// A run takes the declared target registry, an opened workspace holding the
// fetched source, and an environment engine. Every target gets its own
// pipeline: ensure the target's isolated environment, execute its build
// command against the source tree, verify the expected artifact appeared,
// and collect it into the output directory under a name that embeds the
// target (e.g. "app.alpine3.8.bin").
//
// Target pipelines are independent. One target's failure, whether in
// environment build, build command, or artifact verification, is recorded
// and the remaining targets proceed; the final [Report] carries one result
// per target and decides the process exit status. Pipelines run
// sequentially by default and concurrently up to a configured bound, in
// which case each target builds on its own clone of the source tree.
//
// Example usage:
//
//	report, err := build.Run(ctx, engine, ws, build.Options{
//	    Registry: reg,
//	    Artifact: "app.bin",
//	    Output:   "dist",
//	    Jobs:     2,
//	})
//	if err != nil {
//	    return err
//	}
//	for _, failed := range report.Failed() {
//	    slog.Error("build failed", "target", failed.Target)
//	}
package build
