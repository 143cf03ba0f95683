package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/peterbourgon/ff/v3/fftest"
)

func TestRunFlags(t *testing.T) {
	tests := []struct {
		name   string
		config string
		env    map[string]string
		args   []string
		want   map[string]string
	}{
		{
			name: "defaults",
			args: []string{"-root", "/srv/root", "true"},
			want: map[string]string{
				"root":    "/srv/root",
				"w":       "/",
				"ns":      "pid,uts,ipc",
				"pid1":    "wait",
				"timeout": "0s",
			},
		},
		{
			name:   "config file",
			config: "root: /srv/root\nns: pid,net\npid1: wait-all\ntimeout: 90s\n",
			args:   []string{"true"},
			want: map[string]string{
				"root":    "/srv/root",
				"w":       "/",
				"ns":      "pid,net",
				"pid1":    "wait-all",
				"timeout": "1m30s",
			},
		},
		{
			name:   "flag overrides config",
			config: "root: /srv/root\npid1: wait-all\n",
			args:   []string{"-pid1", "exec", "true"},
			want: map[string]string{
				"root":    "/srv/root",
				"w":       "/",
				"ns":      "pid,uts,ipc",
				"pid1":    "exec",
				"timeout": "0s",
			},
		},
		{
			name: "environment",
			env:  map[string]string{"TINYCAGE_ROOT": "/env/root", "TINYCAGE_W": "/tmp"},
			args: []string{"true"},
			want: map[string]string{
				"root":    "/env/root",
				"w":       "/tmp",
				"ns":      "pid,uts,ipc",
				"pid1":    "wait",
				"timeout": "0s",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			args := tt.args
			if tt.config != "" {
				path := fftest.TempFile(t, tt.config)
				args = append([]string{"-config", path}, args...)
			}

			cmd := newRunCmd(&globals{})
			if err := cmd.Parse(args); err != nil {
				t.Fatalf("Parse() error: %v", err)
			}

			got := make(map[string]string)
			for name := range tt.want {
				got[name] = cmd.FlagSet.Lookup(name).Value.String()
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("flags mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"true"}, cmd.FlagSet.Args()); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExitStatus(t *testing.T) {
	if got := exitStatus(137).Error(); got != "exit status 137" {
		t.Errorf("Error() = %q, want %q", got, "exit status 137")
	}
}
