package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/peterbourgon/ff/v3/ffyaml"
	"github.com/sirupsen/logrus"

	"github.com/lutaod/tinycage/internal/container"
	"github.com/lutaod/tinycage/internal/launch"
	"github.com/lutaod/tinycage/internal/overlay"
	"github.com/lutaod/tinycage/internal/pid1"
)

const (
	appName   = "tinycage"
	envPrefix = "TINYCAGE"
	debugEnv  = envPrefix + "_DEBUG"
)

func init() {
	// The helper changes per-thread state (signal mask, credentials) and
	// must do so on the thread that finally executes the target
	if len(os.Args) > 1 && os.Args[1] == launch.InitCommand {
		runtime.GOMAXPROCS(1)
		runtime.LockOSThread()
	}
}

// exitStatus carries the status of a supervised command up to main.
type exitStatus int

func (e exitStatus) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func main() {
	logrus.SetOutput(os.Stderr)
	if os.Getenv(debugEnv) != "" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// Handle "_init" argument, which signals that current process is the
	// helper started by launch.Launch inside the new namespaces
	if len(os.Args) > 1 && os.Args[1] == launch.InitCommand {
		launch.Init()
		return
	}

	err := newRootCmd().ParseAndRun(context.Background(), os.Args[1:])

	var status exitStatus
	switch {
	case errors.As(err, &status):
		os.Exit(int(status))
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case err != nil:
		logrus.Fatal(err)
	}
}

// globals holds the flags of the root command.
type globals struct {
	debug    bool
	stateDir string
}

// apply is called by every subcommand before it runs. The debug switch is
// exported through the environment so helper processes log the same way.
func (g *globals) apply() {
	if g.debug {
		logrus.SetLevel(logrus.DebugLevel)
		os.Setenv(debugEnv, "1")
	}
}

func options(extra ...ff.Option) []ff.Option {
	return append([]ff.Option{ff.WithEnvVarPrefix(envPrefix)}, extra...)
}

func newRootCmd() *ffcli.Command {
	g := &globals{}

	// Definitions related to root command
	rootFlagSet := flag.NewFlagSet(appName, flag.ExitOnError)

	rootFlagSet.BoolVar(&g.debug, "debug", false, "Enable debug logging")

	rootFlagSet.StringVar(&g.stateDir, "state", overlay.DefaultRoot, "Directory for run records and overlays")

	return &ffcli.Command{
		Name:       appName,
		ShortHelp:  "tinycage runs commands in namespace sandboxes",
		ShortUsage: "tinycage [-debug] [-state DIR] COMMAND",
		FlagSet:    rootFlagSet,
		Options:    options(),
		Subcommands: []*ffcli.Command{
			newRunCmd(g),
			newLsCmd(g),
			newEnterCmd(g),
			newChrootCmd(g),
		},
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return flag.ErrHelp
			}

			return fmt.Errorf("'%s' is not a tinycage command.\nSee 'tinycage --help'", args[0])
		},
	}
}

func newRunCmd(g *globals) *ffcli.Command {
	// Definitions related to run command
	runFlagSet := flag.NewFlagSet("run", flag.ExitOnError)

	opts := &container.Options{PID1: pid1.Wait}

	runFlagSet.String("config", "", "YAML file with run flags")

	runFlagSet.StringVar(&opts.Root, "root", "", "Root directory of the sandbox (required)")

	runFlagSet.StringVar(&opts.Workdir, "w", "/", "Working directory inside the root")

	runFlagSet.Var(&opts.Volumes, "v", "Bind mount a volume (e.g., /host:/container[:ro])")

	runFlagSet.Var(&opts.Envs, "e", "Set environment variables")

	uid := runFlagSet.Int("u", -1, "Run as this uid inside the sandbox")

	namespaces := runFlagSet.String("ns", "pid,uts,ipc", "Namespaces to create besides mount (mount,uts,ipc,pid,net,user)")

	runFlagSet.Var(&opts.PID1, "pid1", "PID 1 behaviour: exec, wait or wait-all (wait modes need pid in -ns)")

	runFlagSet.BoolVar(&opts.Overlay, "overlay", false, "Write to an overlay instead of the root itself")

	runFlagSet.BoolVar(&opts.AutoRemove, "rm", false, "Remove the run record and overlay when the command exits")

	runFlagSet.StringVar(&opts.LogPath, "log", "", "Append the command's output to this file")

	runFlagSet.BoolVar(&opts.NullStdin, "null-stdin", false, "Attach stdin to /dev/null")

	runFlagSet.BoolVar(&opts.Tmp, "tmp", false, "Mount an empty tmpfs on /tmp")

	runFlagSet.BoolVar(&opts.KeepSigmask, "keep-sigmask", false, "Keep the signal mask and dispositions of the helper")

	runFlagSet.DurationVar(&opts.Timeout, "timeout", 0, "Stop the command after this long")

	runFlagSet.StringVar(&opts.TimeoutSignal, "timeout-signal", "SIGKILL", "Signal sent when the timeout expires")

	return &ffcli.Command{
		Name:       "run",
		ShortHelp:  "Run a command in a new sandbox",
		ShortUsage: "tinycage run -root DIR [-ns LIST] [-pid1 MODE] [-u UID] [-v SRC:DST[:ro]]... [-e KEY=VALUE]... COMMAND",
		FlagSet:    runFlagSet,
		Options: options(
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ffyaml.Parser),
		),
		Exec: func(ctx context.Context, args []string) error {
			g.apply()

			if len(args) == 0 {
				return fmt.Errorf("'tinycage run' requires at least 1 argument")
			}
			if opts.Root == "" {
				return fmt.Errorf("'tinycage run' requires -root")
			}

			flags, err := container.ParseNamespaces(*namespaces)
			if err != nil {
				return err
			}
			opts.Namespaces = flags

			if *uid >= 0 {
				opts.User = uid
			}
			opts.StateDir = g.stateDir

			status, err := container.Run(opts, args)
			if err != nil {
				return err
			}

			return exitStatus(status)
		},
	}
}

func newLsCmd(g *globals) *ffcli.Command {
	// Definitions related to ls command
	lsFlagSet := flag.NewFlagSet("ls", flag.ExitOnError)

	showAll := lsFlagSet.Bool("a", false, "Show all runs (default shows just running)")

	return &ffcli.Command{
		Name:       "ls",
		ShortUsage: "tinycage ls [-a]",
		ShortHelp:  "List runs",
		FlagSet:    lsFlagSet,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) error {
			g.apply()

			return container.List(g.stateDir, *showAll)
		},
	}
}

func newEnterCmd(g *globals) *ffcli.Command {
	// Definitions related to enter command
	enterFlagSet := flag.NewFlagSet("enter", flag.ExitOnError)

	return &ffcli.Command{
		Name:       "enter",
		ShortUsage: "tinycage enter PID|RUN -- COMMAND",
		ShortHelp:  "Run a command in the namespaces of a running process",
		FlagSet:    enterFlagSet,
		Options:    options(),
		Exec: func(ctx context.Context, args []string) error {
			g.apply()

			command := args
			if len(command) > 1 && command[1] == "--" {
				command = append(command[:1:1], command[2:]...)
			}
			if len(command) < 2 {
				return fmt.Errorf("'tinycage enter' requires a target and a command")
			}

			status, err := container.Enter(g.stateDir, command[0], command[1:])
			if err != nil {
				return err
			}

			return exitStatus(status)
		},
	}
}

func newChrootCmd(g *globals) *ffcli.Command {
	// Definitions related to _chroot command, invoked by the fakeroot shim
	chrootFlagSet := flag.NewFlagSet("_chroot", flag.ExitOnError)

	opts := &container.ChrootOptions{}

	chrootFlagSet.BoolVar(&opts.Writeable, "writeable", false, "Leave the root writable")

	chrootFlagSet.BoolVar(&opts.Inventory, "inventory", false, "Expose the tinycage installation inside the root")

	chrootFlagSet.Var(&opts.Environ, "environ", "Add an environment variable")

	return &ffcli.Command{
		Name:       "_chroot",
		ShortUsage: "tinycage _chroot [--writeable] [--inventory] [--environ=KEY=VALUE]... ROOT [COMMAND...]",
		ShortHelp:  "Change root for a sandboxed build (used by libfakeroot)",
		FlagSet:    chrootFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			g.apply()

			status, err := container.Chroot(opts, args)
			if err != nil {
				return err
			}

			return exitStatus(status)
		},
	}
}
