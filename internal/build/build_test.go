package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/adrg/xdg"

	"github.com/crossforge/crossforge/internal/registry"
	"github.com/crossforge/crossforge/internal/runtime"
	"github.com/crossforge/crossforge/internal/workspace"
)

// Points workspace allocation at a private temp dir for the duration of
// the test.
func redirectWorkspaces(t *testing.T) {
	t.Helper()

	prev, had := os.LookupEnv("XDG_RUNTIME_DIR")
	os.Setenv("XDG_RUNTIME_DIR", t.TempDir())
	xdg.Reload()

	t.Cleanup(func() {
		if had {
			os.Setenv("XDG_RUNTIME_DIR", prev)
		} else {
			os.Unsetenv("XDG_RUNTIME_DIR")
		}
		xdg.Reload()
	})
}

// Test double for the environment engine. The default behavior builds every
// environment and has every build command write its expected artifact and
// exit zero; individual tests override behavior per target.
type fakeEngine struct {
	mu sync.Mutex

	// EnsureEnvironment calls per target.
	ensured map[string]int

	// Targets whose environment build must fail.
	failEnsure map[string]bool

	// Optional build behavior override.
	execute func(target string, spec runtime.BuildSpec) (*runtime.ExecResult, error)

	// Workspace tree each target was executed against.
	workspaces map[string]string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		ensured:    make(map[string]int),
		failEnsure: make(map[string]bool),
		workspaces: make(map[string]string),
	}
}

func (f *fakeEngine) EnsureEnvironment(ctx context.Context, target registry.Target) (Environment, error) {
	f.mu.Lock()
	f.ensured[target.Name]++
	fail := f.failEnsure[target.Name]
	f.mu.Unlock()

	if fail {
		return nil, runtime.ErrEnvironmentBuild
	}
	return &fakeEnv{engine: f, target: target.Name}, nil
}

type fakeEnv struct {
	engine *fakeEngine
	target string
}

func (e *fakeEnv) Execute(ctx context.Context, spec runtime.BuildSpec) (*runtime.ExecResult, error) {
	e.engine.mu.Lock()
	e.engine.workspaces[e.target] = spec.Workspace
	custom := e.engine.execute
	e.engine.mu.Unlock()

	if custom != nil {
		return custom(e.target, spec)
	}
	return writeArtifact(spec)
}

// Default build behavior: produce the expected artifact and exit zero.
func writeArtifact(spec runtime.BuildSpec) (*runtime.ExecResult, error) {
	name := envValue(spec.Env, "ARTIFACT")
	if err := os.WriteFile(filepath.Join(spec.Workspace, name), []byte("binary"), 0755); err != nil {
		return nil, err
	}
	return &runtime.ExecResult{ExitCode: 0, Output: "ok\n"}, nil
}

func envValue(env []string, key string) string {
	for _, entry := range env {
		if len(entry) > len(key) && entry[:len(key)] == key && entry[len(key)] == '=' {
			return entry[len(key)+1:]
		}
	}
	return ""
}

func testTargets() []registry.Target {
	return []registry.Target{
		{
			Name:        "ubuntu16.04",
			Environment: registry.Definition{Image: "images/ubuntu16.04.tar"},
			Build:       "make clean all",
		},
		{
			Name:        "alpine3.8",
			Environment: registry.Definition{Image: "images/alpine3.8.tar"},
			Build:       "make static",
		},
	}
}

func testRun(t *testing.T, engine Engine, jobs int) (*Report, string) {
	t.Helper()
	redirectWorkspaces(t)

	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "main.c"), []byte("int main(void){return 0;}\n"), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	ws, err := workspace.Open(context.Background(), src)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	reg, err := registry.New(testTargets())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	output := t.TempDir()
	report, err := Run(context.Background(), engine, ws, Options{
		Registry: reg,
		Artifact: "app.bin",
		Output:   output,
		Jobs:     jobs,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	return report, output
}

func outputEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRunAllTargetsSucceed(t *testing.T) {
	engine := newFakeEngine()
	report, output := testRun(t, engine, 1)

	if failed := report.Failed(); len(failed) != 0 {
		t.Fatalf("failed targets: %v", failed)
	}

	got := outputEntries(t, output)
	want := []string{"app.alpine3.8.bin", "app.ubuntu16.04.bin"}
	if len(got) != len(want) {
		t.Fatalf("output dir = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("output dir = %v, want %v", got, want)
		}
	}

	if report.Results[0].Target != "ubuntu16.04" || report.Results[1].Target != "alpine3.8" {
		t.Fatalf("results out of declaration order: %v", report.Results)
	}

	for target, n := range engine.ensured {
		if n != 1 {
			t.Fatalf("environment for %s ensured %d times, want 1", target, n)
		}
	}
}

func TestRunBuildFailureIsIsolated(t *testing.T) {
	engine := newFakeEngine()
	engine.execute = func(target string, spec runtime.BuildSpec) (*runtime.ExecResult, error) {
		if target == "alpine3.8" {
			return &runtime.ExecResult{ExitCode: 2, Output: "cc: internal error\n"}, nil
		}
		return writeArtifact(spec)
	}

	report, output := testRun(t, engine, 1)

	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("failed = %v, want exactly alpine3.8", failed)
	}
	if failed[0].Target != "alpine3.8" {
		t.Fatalf("failed target = %q, want alpine3.8", failed[0].Target)
	}
	if !errors.Is(failed[0].Err, ErrBuildFailed) {
		t.Fatalf("err = %v, want ErrBuildFailed", failed[0].Err)
	}
	if failed[0].Output != "cc: internal error\n" {
		t.Fatalf("captured output = %q", failed[0].Output)
	}

	got := outputEntries(t, output)
	if len(got) != 1 || got[0] != "app.ubuntu16.04.bin" {
		t.Fatalf("output dir = %v, want only app.ubuntu16.04.bin", got)
	}
}

func TestRunArtifactMissing(t *testing.T) {
	engine := newFakeEngine()
	engine.execute = func(target string, spec runtime.BuildSpec) (*runtime.ExecResult, error) {
		// Exit zero without producing the artifact; success reported
		// by the command is not trusted.
		return &runtime.ExecResult{ExitCode: 0, Output: "done\n"}, nil
	}

	report, output := testRun(t, engine, 1)

	if len(report.Failed()) != 2 {
		t.Fatalf("failed = %v, want both targets", report.Failed())
	}
	for _, res := range report.Results {
		if !errors.Is(res.Err, ErrArtifactMissing) {
			t.Fatalf("err = %v, want ErrArtifactMissing", res.Err)
		}
	}

	if got := outputEntries(t, output); len(got) != 0 {
		t.Fatalf("output dir = %v, want empty", got)
	}
}

func TestRunEnvironmentFailureIsIsolated(t *testing.T) {
	engine := newFakeEngine()
	engine.failEnsure["ubuntu16.04"] = true

	report, output := testRun(t, engine, 1)

	failed := report.Failed()
	if len(failed) != 1 || failed[0].Target != "ubuntu16.04" {
		t.Fatalf("failed = %v, want exactly ubuntu16.04", failed)
	}
	if !errors.Is(failed[0].Err, runtime.ErrEnvironmentBuild) {
		t.Fatalf("err = %v, want ErrEnvironmentBuild", failed[0].Err)
	}

	got := outputEntries(t, output)
	if len(got) != 1 || got[0] != "app.alpine3.8.bin" {
		t.Fatalf("output dir = %v, want only app.alpine3.8.bin", got)
	}
}

func TestRunParallelUsesIndependentTrees(t *testing.T) {
	engine := newFakeEngine()
	report, _ := testRun(t, engine, 2)

	if failed := report.Failed(); len(failed) != 0 {
		t.Fatalf("failed targets: %v", failed)
	}

	a := engine.workspaces["ubuntu16.04"]
	b := engine.workspaces["alpine3.8"]
	if a == "" || b == "" {
		t.Fatalf("workspace trees not recorded: %q, %q", a, b)
	}
	if a == b {
		t.Fatal("concurrent targets shared a source tree")
	}
}

func TestRunSequentialSharesTree(t *testing.T) {
	engine := newFakeEngine()
	report, _ := testRun(t, engine, 1)

	if failed := report.Failed(); len(failed) != 0 {
		t.Fatalf("failed targets: %v", failed)
	}
	if engine.workspaces["ubuntu16.04"] != engine.workspaces["alpine3.8"] {
		t.Fatal("sequential targets did not share the source tree")
	}
}

func TestRunCancelled(t *testing.T) {
	engine := newFakeEngine()
	redirectWorkspaces(t)

	src := t.TempDir()
	ws, err := workspace.Open(context.Background(), src)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	reg, err := registry.New(testTargets())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	output := t.TempDir()
	report, err := Run(ctx, engine, ws, Options{
		Registry: reg,
		Artifact: "app.bin",
		Output:   output,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Failed()) != 2 {
		t.Fatalf("failed = %v, want both targets cancelled", report.Failed())
	}
	if got := outputEntries(t, output); len(got) != 0 {
		t.Fatalf("output dir = %v, want no artifacts from a cancelled run", got)
	}
}

func TestRunInvalidArtifact(t *testing.T) {
	engine := newFakeEngine()
	redirectWorkspaces(t)

	src := t.TempDir()
	ws, err := workspace.Open(context.Background(), src)
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	reg, err := registry.New(testTargets())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	_, err = Run(context.Background(), engine, ws, Options{
		Registry: reg,
		Artifact: "",
		Output:   t.TempDir(),
	})
	if !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("err = %v, want ErrInvalidArtifact", err)
	}
}

func TestParseArtifact(t *testing.T) {
	tests := []struct {
		in      string
		base    string
		ext     string
		wantErr bool
	}{
		{in: "app.bin", base: "app", ext: "bin"},
		{in: "app", base: "app"},
		{in: "my-tool.exe", base: "my-tool", ext: "exe"},
		{in: "", wantErr: true},
		{in: ".bin", wantErr: true},
		{in: "app.", wantErr: true},
		{in: "dir/app.bin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseArtifact(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseArtifact(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArtifact(%q): %v", tt.in, err)
			}
			if got.base != tt.base || got.ext != tt.ext {
				t.Fatalf("parseArtifact(%q) = {%q %q}, want {%q %q}", tt.in, got.base, got.ext, tt.base, tt.ext)
			}
		})
	}
}

func TestValidateArtifact(t *testing.T) {
	if err := ValidateArtifact("app.bin"); err != nil {
		t.Fatalf("ValidateArtifact(app.bin): %v", err)
	}
	if err := ValidateArtifact("dir/app.bin"); !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("err = %v, want ErrInvalidArtifact", err)
	}
}

func TestArtifactForTarget(t *testing.T) {
	a := artifactName{base: "app", ext: "bin"}
	if got := a.forTarget("alpine3.8"); got != "app.alpine3.8.bin" {
		t.Fatalf("forTarget = %q, want app.alpine3.8.bin", got)
	}

	noExt := artifactName{base: "app"}
	if got := noExt.forTarget("ubuntu16.04"); got != "app.ubuntu16.04" {
		t.Fatalf("forTarget = %q, want app.ubuntu16.04", got)
	}
}
