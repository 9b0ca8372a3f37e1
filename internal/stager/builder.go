package stager

import (
	"context"
	"io"
	"os"
	"os/exec"
	"runtime"
	"slices"
	"time"

	"github.com/maruel/assetstage/internal/errors"
)

// Builder produces the front-end build output.
type Builder interface {
	Build(ctx context.Context) error
}

// ShellBuilder runs a command line through the platform shell.
type ShellBuilder struct {
	// Dir is the working directory, the front-end project root.
	Dir string
	// Command is passed verbatim to the shell.
	Command string
	// Env is appended to the current process environment.
	Env map[string]string
	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Build runs the command and waits for it to exit.
func (b *ShellBuilder) Build(ctx context.Context) error {
	name, args := shellArgs(b.Command)
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: the command is the project's build configuration
	cmd.Dir = b.Dir
	cmd.Stdout = b.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = b.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.WaitDelay = 5 * time.Second
	if len(b.Env) != 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(b.Env))
		for k := range b.Env {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+b.Env[k])
		}
	}
	if err := cmd.Run(); err != nil {
		return errors.BuildFailed(b.Command, err).WithDetail("dir", b.Dir)
	}
	return nil
}

func (b *ShellBuilder) String() string {
	return b.Command
}

func shellArgs(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}
