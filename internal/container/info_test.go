package container

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStore(t *testing.T) {
	s := newStore(t.TempDir())

	want := &info{
		ID:        "abc123",
		PID:       os.Getpid(),
		Status:    running,
		Root:      "/srv/root",
		Command:   []string{"sleep", "10"},
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := s.save(want); err != nil {
		t.Fatalf("save() error = %v", err)
	}

	got, err := s.load("abc123")
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}

	pid, err := s.resolvePID("abc123")
	if err != nil || pid != os.Getpid() {
		t.Errorf("resolvePID(id) = %d, %v", pid, err)
	}
	pid, err = s.resolvePID("4242")
	if err != nil || pid != 4242 {
		t.Errorf("resolvePID(pid) = %d, %v", pid, err)
	}
	if _, err := s.resolvePID("missing"); err == nil {
		t.Error("resolvePID() found a missing run")
	}

	if err := s.remove("abc123"); err != nil {
		t.Fatalf("remove() error = %v", err)
	}
	if _, err := s.load("abc123"); err == nil {
		t.Error("load() succeeded after remove()")
	}
}

func TestStoreList(t *testing.T) {
	s := newStore(t.TempDir())

	runs := []*info{
		{ID: "aaaaaa", PID: os.Getpid(), Status: running, Command: []string{"make", "-j8"}},
		{ID: "bbbbbb", PID: 1 << 30, Status: exited, ExitStatus: 2, Command: []string{strings.Repeat("x", 40)}},
	}
	for _, r := range runs {
		if err := s.save(r); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		showAll bool
		want    []string
		notWant []string
	}{
		{name: "running only", want: []string{"aaaaaa", "make -j8"}, notWant: []string{"bbbbbb"}},
		{name: "all", showAll: true, want: []string{"aaaaaa", "bbbbbb", strings.Repeat("x", 27) + "..."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := s.list(&buf, tt.showAll); err != nil {
				t.Fatalf("list() error = %v", err)
			}

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output lacks %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output contains %q:\n%s", w, out)
				}
			}
		})
	}

	// A running record whose process is gone shows as exited
	stale := &info{ID: "cccccc", PID: 1 << 30, Status: running}
	if err := s.save(stale); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := s.list(&buf, false); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "cccccc") {
		t.Errorf("stale run listed as running:\n%s", buf.String())
	}
}
