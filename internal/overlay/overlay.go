package overlay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lutaod/tinycage/internal/mount"
)

// DefaultRoot is the directory holding per-run overlay state.
const DefaultRoot = "/var/lib/tinycage"

const (
	overlayDir = "overlay"
	upperDir   = "upper"
	workDir    = "work"
	mergedDir  = "merged"
)

// Layout is a writable overlay on top of read-only lower directories. The
// overlay itself is mounted inside the new mount namespace, so it
// disappears with it; only the directories remain on the host.
type Layout struct {
	// Lower lists the lower directories, topmost first.
	Lower []string
	// Dir holds the upper, work and merged directories.
	Dir string
}

// New returns the layout of run id below root.
func New(root, id string, lower []string) *Layout {
	return &Layout{
		Lower: lower,
		Dir:   filepath.Join(root, overlayDir, id),
	}
}

// Merged returns the directory the overlay is mounted on.
func (l *Layout) Merged() string {
	return filepath.Join(l.Dir, mergedDir)
}

// Prepare creates the overlay directories on the host.
func (l *Layout) Prepare() error {
	if len(l.Lower) == 0 {
		return fmt.Errorf("overlay needs at least one lower directory")
	}

	for _, lower := range l.Lower {
		if _, err := os.Stat(lower); err != nil {
			return fmt.Errorf("failed to check lower directory %s: %w", lower, err)
		}
	}

	for _, dir := range []string{upperDir, workDir, mergedDir} {
		path := filepath.Join(l.Dir, dir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create overlay directory %s: %w", path, err)
		}
	}

	return nil
}

// Mount returns the overlay mount of the layout.
func (l *Layout) Mount() mount.Spec {
	return mount.Overlay(
		l.Lower,
		filepath.Join(l.Dir, upperDir),
		filepath.Join(l.Dir, workDir),
		l.Merged(),
	)
}

// Cleanup removes all overlay state of the layout. It refuses to run while
// anything is still mounted below the layout directory.
func (l *Layout) Cleanup() error {
	mounted, err := mount.Submounts(l.Dir)
	if err != nil {
		return err
	}
	if len(mounted) > 0 {
		return fmt.Errorf("failed to remove overlay directory: %s is still mounted", mounted[0])
	}

	if err := os.RemoveAll(l.Dir); err != nil {
		return fmt.Errorf("failed to remove overlay directory: %w", err)
	}

	return nil
}
