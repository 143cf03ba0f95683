// Package pid1 supervises the target process when the launcher runs as the
// first process of a new pid namespace.
package pid1

import "fmt"

// Mode selects how the init process treats the target command.
type Mode int

const (
	// Exec replaces the init process with the target.
	Exec Mode = iota
	// Wait runs the target as a child and exits once that child is gone,
	// ignoring any orphans still running.
	Wait
	// WaitAll runs the target as a child and exits only when no
	// descendants remain.
	WaitAll
)

var modeNames = map[Mode]string{
	Exec:    "exec",
	Wait:    "wait",
	WaitAll: "wait-all",
}

// ParseMode returns the Mode named by s.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}

	return Exec, fmt.Errorf("invalid pid1 mode %q (expected exec, wait or wait-all)", s)
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Set implements flag.Value.
func (m *Mode) Set(s string) error {
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}

	*m = parsed
	return nil
}
