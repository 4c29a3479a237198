package build

import "testing"

func TestReportPartition(t *testing.T) {
	report := &Report{Results: []Result{
		{Target: "ubuntu16.04", Artifact: "dist/app.ubuntu16.04.bin"},
		{Target: "alpine3.8", Err: ErrBuildFailed},
		{Target: "debian9", Artifact: "dist/app.debian9.bin"},
	}}

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Target != "alpine3.8" {
		t.Fatalf("Failed() = %v", failed)
	}

	ok := report.Succeeded()
	if len(ok) != 2 || ok[0].Target != "ubuntu16.04" || ok[1].Target != "debian9" {
		t.Fatalf("Succeeded() = %v", ok)
	}
}
