package build

import "time"

// Outcome of one target's pipeline.
//
// Exactly one of Artifact and Err is meaningful: a collected artifact path
// on success, the failure on any other outcome. Output carries the build
// command's captured stdout and stderr when the command ran at all.
type Result struct {
	Target   string        // Target name.
	Artifact string        // Destination path of the collected artifact.
	Output   string        // Captured build output.
	Err      error         // Failure, nil on success.
	Duration time.Duration // Wall-clock time spent on the target.
}

// Reports whether the target failed.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Outcome of a whole orchestration run, one result per declared target, in
// declaration order.
type Report struct {
	Results []Result
}

// Returns the results of targets that failed.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Returns the results of targets whose artifact was collected.
func (r *Report) Succeeded() []Result {
	var ok []Result
	for _, res := range r.Results {
		if !res.Failed() {
			ok = append(ok, res)
		}
	}
	return ok
}
