package runtime

import (
	"sort"
	"strings"
	"sync"
	"testing"
)

func TestMergeEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides []string
		want      []string
	}{
		{
			name:      "override existing key",
			base:      []string{"A=1", "B=2"},
			overrides: []string{"A=override"},
			want:      []string{"A=override", "B=2"},
		},
		{
			name:      "add new key",
			base:      []string{"A=1"},
			overrides: []string{"B=2"},
			want:      []string{"A=1", "B=2"},
		},
		{
			name:      "empty base",
			base:      nil,
			overrides: []string{"TARGET=alpine3.8"},
			want:      []string{"TARGET=alpine3.8"},
		},
		{
			name:      "empty overrides",
			base:      []string{"A=1"},
			overrides: nil,
			want:      []string{"A=1"},
		},
		{
			name:      "value with equals sign",
			base:      []string{"CMD=foo=bar"},
			overrides: nil,
			want:      []string{"CMD=foo=bar"},
		},
		{
			name:      "malformed entries skipped",
			base:      []string{"NOEQUALS", "A=1"},
			overrides: []string{"ALSO_BAD", "B=2"},
			want:      []string{"A=1", "B=2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeEnv(tt.base, tt.overrides)
			sort.Strings(got)
			sort.Strings(tt.want)

			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d\ngot:  %v\nwant: %v", len(got), len(tt.want), got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// The stdout and stderr FIFO copiers write into the same capture from
// separate goroutines; every write must arrive intact.
func TestLockedBufferConcurrentWrites(t *testing.T) {
	var out lockedBuffer
	var wg sync.WaitGroup

	const writes = 200
	for _, line := range []string{"o\n", "e\n"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range writes {
				out.Write([]byte(line))
			}
		}()
	}
	wg.Wait()

	got := out.String()
	if len(got) != 2*2*writes {
		t.Fatalf("captured %d bytes, want %d", len(got), 2*2*writes)
	}
	if o := strings.Count(got, "o\n"); o != writes {
		t.Fatalf("stdout lines = %d, want %d", o, writes)
	}
	if e := strings.Count(got, "e\n"); e != writes {
		t.Fatalf("stderr lines = %d, want %d", e, writes)
	}
}

func TestNextExecID(t *testing.T) {
	a := nextExecID()
	b := nextExecID()
	if a == b {
		t.Fatalf("consecutive exec IDs collide: %q", a)
	}
}
