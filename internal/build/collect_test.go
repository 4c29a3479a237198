package build

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectPreservesMode(t *testing.T) {
	src := filepath.Join(t.TempDir(), "app.bin")
	if err := os.WriteFile(src, []byte("binary"), 0755); err != nil {
		t.Fatalf("write source: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "app.alpine3.8.bin")
	if err := collect(src, dest); err != nil {
		t.Fatalf("collect: %v", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("stat dest: %v", err)
	}
	if info.Mode().Perm() != 0755 {
		t.Fatalf("dest mode = %o, want 755", info.Mode().Perm())
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if string(got) != "binary" {
		t.Fatalf("dest content = %q", got)
	}
}

func TestCollectMissingSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "app.bin")
	if err := collect(filepath.Join(t.TempDir(), "nope"), dest); err == nil {
		t.Fatal("collect of a missing source succeeded")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("destination file left behind after failed collect")
	}
}
