package container

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	infoFile = "info.json"
	runDir   = "run"

	maxPrintCmdLength       = 30
	truncatedPrintCmdLength = maxPrintCmdLength - 3 // Reserve space for "..."
)

// status represents the runtime state of a run.
type status string

const (
	running status = "running"
	exited  status = "exited"
)

// info stores relevant information of a run.
type info struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	Status     status    `json:"status"`
	Root       string    `json:"root"`
	Command    []string  `json:"command"`
	CreatedAt  time.Time `json:"createdAt"`
	ExitStatus int       `json:"exitStatus"`
}

// store keeps run records below a state directory.
type store struct {
	dir string
}

func newStore(stateDir string) *store {
	return &store{dir: filepath.Join(stateDir, runDir)}
}

// save persists run information to disk.
func (s *store) save(info *info) error {
	dir := filepath.Join(s.dir, info.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal run info: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, infoFile), data, 0644); err != nil {
		return fmt.Errorf("failed to save run info: %w", err)
	}

	return nil
}

// load retrieves run information of given ID from disk.
func (s *store) load(id string) (*info, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id, infoFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read run info: %w", err)
	}

	var info info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run info: %w", err)
	}

	return &info, nil
}

// remove deletes run information from disk.
func (s *store) remove(id string) error {
	if err := os.RemoveAll(filepath.Join(s.dir, id)); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	return nil
}

// list prints runs, only running ones unless showAll is set. A run whose
// process is gone is reported as exited.
func (s *store) list(w io.Writer, showAll bool) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read run directory: %w", err)
	}

	fmt.Fprintf(w, "%-8s %-8s %-8s %-6s %-20s %s\n",
		"ID", "STATUS", "PID", "EXIT", "CREATED", "COMMAND")

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, err := s.load(entry.Name())
		if err != nil {
			logrus.Warnf("failed to load run info for %s: %v", entry.Name(), err)
			continue
		}

		if info.Status == running && !alive(info.PID) {
			info.Status = exited
		}
		if !showAll && info.Status != running {
			continue
		}

		exit := "-"
		if info.Status == exited {
			exit = strconv.Itoa(info.ExitStatus)
		}

		cmd := strings.Join(info.Command, " ")
		if len(cmd) > maxPrintCmdLength {
			cmd = cmd[:truncatedPrintCmdLength] + "..."
		}

		fmt.Fprintf(w, "%-8s %-8s %-8d %-6s %-20s %s\n",
			info.ID, info.Status, info.PID, exit,
			info.CreatedAt.Format("2006-01-02 15:04:05"), cmd)
	}

	return nil
}

// resolvePID returns the pid of target, which is either a pid or the ID of
// a running run.
func (s *store) resolvePID(target string) (int, error) {
	if pid, err := strconv.Atoi(target); err == nil {
		return pid, nil
	}

	info, err := s.load(target)
	if err != nil {
		return 0, fmt.Errorf("error loading run %s: %w", target, err)
	}
	if info.Status != running || !alive(info.PID) {
		return 0, fmt.Errorf("run %s is not running", target)
	}

	return info.PID, nil
}

func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
