// Package spawn decides how an external tool is invoked on the host
// platform and supervises the resulting child process.
package spawn

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
)

// Invocation is a resolved command line: the program to run and its
// arguments.
type Invocation struct {
	Name string
	Args []string
}

// Build resolves how to invoke the configured tool path on this host.
// Python scripts are run through an interpreter; bare command names on
// Windows go through the shell so PATHEXT resolution applies.
func Build(toolPath string, args ...string) Invocation {
	return buildFor(runtime.GOOS, toolPath, args)
}

func buildFor(goos, toolPath string, args []string) Invocation {
	if strings.EqualFold(filepath.Ext(toolPath), ".py") {
		interpreter := "python3"
		if goos == "windows" {
			interpreter = "python"
		}
		return Invocation{Name: interpreter, Args: append([]string{toolPath}, args...)}
	}

	if goos == "windows" && !strings.ContainsAny(toolPath, `/\`) {
		return Invocation{Name: "cmd", Args: append([]string{"/C", toolPath}, args...)}
	}

	return Invocation{Name: toolPath, Args: args}
}

// Fallback builds the secondary shell-quoted invocation attempted after a
// non-zero exit of the direct form.
func Fallback(toolPath string, args ...string) Invocation {
	return fallbackFor(runtime.GOOS, toolPath, args)
}

func fallbackFor(goos, toolPath string, args []string) Invocation {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(toolPath))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	line := strings.Join(parts, " ")

	if goos == "windows" {
		return Invocation{Name: "cmd", Args: []string{"/C", line}}
	}
	return Invocation{Name: "sh", Args: []string{"-c", line}}
}

// shellQuote single-quotes an argument for POSIX sh. Arguments without
// shell-special characters pass through unquoted to keep logs readable.
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'`$&|;<>()*?[]#~%{}\\") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Command builds an exec.Cmd for the invocation bound to ctx. Context
// cancellation — a stop or a per-invocation deadline — delivers SIGTERM and
// escalates to SIGKILL after KillGrace, the same sequence Handle.Terminate
// uses.
func (inv Invocation) Command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = KillGrace
	return cmd
}

// String renders the invocation for debug logging.
func (inv Invocation) String() string {
	return inv.Name + " " + strings.Join(inv.Args, " ")
}
