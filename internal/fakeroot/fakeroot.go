// Package fakeroot decides how intercepted libc calls behave inside an
// unprivileged build sandbox: identity queries report root, privileged
// filesystem calls succeed without effect and chroot is handed back to the
// trusted tinycage binary.
package fakeroot

import (
	"os"
	"path"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Environment variables read by the shim.
const (
	// EnvExe is the real path of the trusted binary to re-invoke.
	EnvExe = "TINYCAGE_EXE"
	// EnvTrace enables tracing of every faked call when non-empty.
	EnvTrace = "TINYCAGE_FAKE_TRACE"
	// EnvPreload is the dynamic loader preload variable.
	EnvPreload = "LD_PRELOAD"
)

// TrustedName is the base name of the binary that sees its real uid.
const TrustedName = "tinycage"

// Backend performs the operations the shim cannot fake.
type Backend interface {
	// Execve calls the original libc execve.
	Execve(path string, argv, env []string) error
	// RealUID returns the uid reported by the kernel.
	RealUID() int
	// ExecFn returns the path the current process was executed as.
	ExecFn() string
}

// Shim holds the decisions for one process.
type Shim struct {
	backend Backend
	exe     string
	library string
	log     *logrus.Logger
	getpid  func() int
}

// Options configures a Shim.
type Options struct {
	// Exe is the trusted binary. Without it chroot execs fail with ENOENT.
	Exe string
	// Library is the path of the shim itself, re-injected into the
	// trusted binary's children.
	Library string
	// Trace logs every faked call.
	Trace bool
}

// New returns a Shim using backend.
func New(backend Backend, opts Options) *Shim {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if opts.Trace {
		logger.SetLevel(logrus.DebugLevel)
	}

	return &Shim{
		backend: backend,
		exe:     opts.Exe,
		library: opts.Library,
		log:     logger,
		getpid:  os.Getpid,
	}
}

// logger tags entries with the current pid, which changes when a traced
// process forks after the shim was loaded.
func (s *Shim) logger() *logrus.Entry {
	return s.log.WithField("pid", s.getpid())
}

// FromEnv builds Options from the process environment. library is the
// loaded path of the shim, empty when unknown.
func FromEnv(library string) Options {
	return Options{
		Exe:     os.Getenv(EnvExe),
		Library: library,
		Trace:   os.Getenv(EnvTrace) != "",
	}
}

// Getuid returns 0 except for the trusted binary itself.
func (s *Shim) Getuid() int {
	if path.Base(s.backend.ExecFn()) == TrustedName {
		return s.backend.RealUID()
	}

	return 0
}

// Geteuid returns 0.
func (s *Shim) Geteuid() int { return 0 }

// Getgid returns 0.
func (s *Shim) Getgid() int { return 0 }

// Getegid returns 0.
func (s *Shim) Getegid() int { return 0 }

// Fake is called instead of a privileged call and always reports success.
func (s *Shim) Fake(call string) int {
	s.logger().Debugf("faked %s", call)
	return 0
}

// Execve runs path, redirecting chroot to the trusted binary. It only
// returns on failure.
func (s *Shim) Execve(file string, argv, env []string) error {
	if p, args, e, ok := s.Rewrite(file, argv, env); ok {
		if p == "" {
			s.logger().Warnf("cannot redirect %s: %s is not set", file, EnvExe)
			return syscall.ENOENT
		}
		s.logger().Debugf("redirecting %s to %s", file, p)
		return s.backend.Execve(p, args, e)
	}

	return s.backend.Execve(file, argv, env)
}

// Rewrite returns the invocation of the trusted binary replacing a chroot
// exec, and false for any other file.
func (s *Shim) Rewrite(file string, argv, env []string) (string, []string, []string, bool) {
	if path.Base(file) != "chroot" {
		return "", nil, nil, false
	}

	args := []string{TrustedName, "_chroot", "--writeable"}
	if s.library != "" {
		args = append(args, "--inventory", "--environ="+EnvPreload+"="+s.library)
	}
	if len(argv) > 1 {
		args = append(args, argv[1:]...)
	}

	return s.exe, args, withoutPreload(env), true
}

func withoutPreload(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, EnvPreload+"=") {
			continue
		}
		out = append(out, kv)
	}

	return out
}
