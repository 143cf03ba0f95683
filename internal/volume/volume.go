package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lutaod/tinycage/internal/mount"
)

// Volume represents a bind mount from host into the new root.
type Volume struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Volumes is a slice of Volume that implements flag.Value interface.
type Volumes []Volume

func (v *Volumes) String() string {
	return fmt.Sprintf("%v", *v)
}

// Set parses SRC:DST or SRC:DST:ro.
func (v *Volumes) Set(value string) error {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("expect /host:/container[:ro]")
	}

	vol := Volume{
		Source: parts[0],
		Target: parts[1],
	}
	if len(parts) == 3 {
		if parts[2] != "ro" {
			return fmt.Errorf("unknown volume option %q", parts[2])
		}
		vol.ReadOnly = true
	}

	if !filepath.IsAbs(vol.Source) || !filepath.IsAbs(vol.Target) {
		return fmt.Errorf("volume paths must be absolute: %s", value)
	}
	// The target is joined below the new root and must stay there.
	if escapes(vol.Target) {
		return fmt.Errorf("volume target must not contain '..': %s", value)
	}

	*v = append(*v, vol)
	return nil
}

func escapes(path string) bool {
	for _, elem := range strings.Split(path, "/") {
		if elem == ".." {
			return true
		}
	}

	return false
}

// Prepare creates host source directories that do not exist yet.
func (v Volumes) Prepare() error {
	for _, vol := range v {
		if _, err := os.Stat(vol.Source); os.IsNotExist(err) {
			if err := os.MkdirAll(vol.Source, 0755); err != nil {
				return fmt.Errorf("failed to create volume source %s: %w", vol.Source, err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to check volume source %s: %w", vol.Source, err)
		}
	}

	return nil
}

// Mounts returns the bind mounts of the volumes below root, creating each
// target directory first.
func (v Volumes) Mounts(root string) []mount.Spec {
	specs := make([]mount.Spec, 0, len(v))
	for _, vol := range v {
		target := filepath.Join(root, vol.Target)
		specs = append(specs, mount.WithMkdir(mount.Bind(vol.Source, target, vol.ReadOnly)))
	}

	return specs
}
