package container

import (
	"fmt"
	"strings"
)

// Envs implements flag.Value for collecting environment variables.
type Envs []string

func (s *Envs) String() string {
	return strings.Join(*s, ",")
}

func (s *Envs) Set(value string) error {
	if key, _, ok := strings.Cut(value, "="); !ok || key == "" {
		return fmt.Errorf("expect KEY=VALUE, got %q", value)
	}

	*s = append(*s, value)
	return nil
}
