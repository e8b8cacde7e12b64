package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/netoneko/meow/internal/llm"
)

// Shell defaults.
const (
	DefaultShellTimeout   = 30 * time.Second
	DefaultShellOutputCap = 1 << 20
	DefaultPollInterval   = 50 * time.Millisecond
)

// DefaultSearchPath is searched for executables named without a slash.
var DefaultSearchPath = []string{
	"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin",
}

// Terminal executes commands with deny checks and hard resource bounds.
type Terminal struct {
	Guard          *PathGuard
	SearchPath     []string
	Denied         []string
	Timeout        time.Duration
	OutputCap      int
	PollInterval   time.Duration
	AllowExecution bool
}

// ExecResult carries merged output and status code.
type ExecResult struct {
	Output   string
	ExitCode int
}

// Exec tokenizes and runs a command line in the sandboxed working directory.
// Output beyond OutputCap and runs beyond Timeout kill the child and fail
// with KindResourceExceeded; cancellation of ctx kills it with
// KindCancelled. Exec never returns before the child is reaped.
func (t *Terminal) Exec(ctx context.Context, line string) (ExecResult, error) {
	if !t.AllowExecution {
		return ExecResult{}, llm.Errorf(llm.KindAccessDenied, "exec", "execution disabled by configuration")
	}
	argv, err := Tokenize(line)
	if err != nil {
		return ExecResult{}, err
	}
	if len(argv) == 0 {
		return ExecResult{}, llm.Errorf(llm.KindParseError, "exec", "command is required")
	}
	if err := t.validateCommand(argv[0]); err != nil {
		return ExecResult{}, err
	}
	path, err := t.lookPath(argv[0])
	if err != nil {
		return ExecResult{}, err
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	capBytes := t.OutputCap
	if capBytes <= 0 {
		capBytes = DefaultShellOutputCap
	}
	poll := t.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	proc, err := startProcess(path, argv[1:], t.Guard.Cwd())
	if err != nil {
		return ExecResult{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	defer proc.Close()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)

	var out []byte
	for {
		out = proc.drain(out)
		if len(out) > capBytes {
			return ExecResult{}, llm.Errorf(llm.KindResourceExceeded, "exec", "output exceeded %d bytes; process killed", capBytes)
		}
		if proc.hasExited() {
			out = proc.settle(out, poll)
			if len(out) > capBytes {
				return ExecResult{}, llm.Errorf(llm.KindResourceExceeded, "exec", "output exceeded %d bytes", capBytes)
			}
			return ExecResult{Output: string(out), ExitCode: proc.exitCode()}, nil
		}
		if time.Now().After(deadline) {
			return ExecResult{}, llm.Errorf(llm.KindResourceExceeded, "exec", "timed out after %s; process killed", timeout)
		}

		select {
		case <-ctx.Done():
			return ExecResult{}, llm.NewError(llm.KindCancelled, "exec", ctx.Err())
		case <-ticker.C:
		case <-proc.exited:
		}
	}
}

// lookPath resolves a program name. Names containing a slash go through the
// path guard; bare names are looked up in SearchPath.
func (t *Terminal) lookPath(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		resolved, err := t.Guard.Resolve(name)
		if err != nil {
			return "", err
		}
		if !isExecutable(resolved) {
			return "", fmt.Errorf("%s is not an executable file", resolved)
		}
		return resolved, nil
	}
	dirs := t.SearchPath
	if len(dirs) == 0 {
		dirs = DefaultSearchPath
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("command %q not found in %s", name, strings.Join(dirs, ":"))
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}

func (t *Terminal) validateCommand(cmd string) error {
	base := strings.ToLower(filepath.Base(cmd))
	for _, deny := range t.Denied {
		if base == strings.ToLower(deny) {
			return llm.Errorf(llm.KindAccessDenied, "exec", "command %q is denied", cmd)
		}
	}
	return nil
}
