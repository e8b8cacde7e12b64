package tools

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/config"
)

// Sandbox holds the configured tool instances sharing one path guard.
type Sandbox struct {
	Guard    *PathGuard
	FS       *Filesystem
	Terminal *Terminal
	Git      *GitTool
	Fetch    *Fetcher
	Overflow *Overflow
}

var defaultNetworkDenied = []string{
	"curl", "wget", "ping", "nc", "netcat", "telnet", "ssh", "scp", "sftp",
}

// Options adjusts sandbox construction beyond configuration.
type Options struct {
	// ChangeProcessDir makes Cd also change the process working directory.
	ChangeProcessDir bool
}

// NewSandbox builds tools respecting sandbox and tools configuration.
func NewSandbox(sandboxCfg config.SandboxConfig, toolsCfg config.ToolsConfig, opts Options) (*Sandbox, error) {
	guard, err := NewPathGuard(sandboxCfg.Root, sandboxCfg.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("build path guard: %w", err)
	}
	guard.chdirProcess = opts.ChangeProcessDir

	spillDir, err := overflowDir(guard, sandboxCfg.TempDir)
	if err != nil {
		return nil, err
	}

	var denied []string
	if !toolsCfg.AllowNetwork {
		denied = append(denied, defaultNetworkDenied...)
	}

	term := &Terminal{
		Guard:          guard,
		SearchPath:     toolsCfg.SearchPath,
		Denied:         dedupeStrings(denied),
		Timeout:        toolsCfg.ShellTimeout,
		OutputCap:      toolsCfg.ShellOutputCap,
		PollInterval:   toolsCfg.ShellPollInterval,
		AllowExecution: toolsCfg.AllowExec,
	}

	// Git shares the shell limits but has its own switch.
	gitTerm := *term
	gitTerm.AllowExecution = toolsCfg.AllowGit

	sb := &Sandbox{
		Guard:    guard,
		FS:       NewFilesystem(guard, toolsCfg.AllowFileWrite, toolsCfg.FileSizeCap),
		Terminal: term,
		Git:      &GitTool{Terminal: &gitTerm, AllowExec: toolsCfg.AllowGit},
		Overflow: NewOverflow(spillDir, toolsCfg.OverflowThreshold, toolsCfg.OverflowPreview),
	}
	if toolsCfg.AllowNetwork {
		sb.Fetch = NewFetcher(toolsCfg.FetchSizeCap, nil)
	}
	return sb, nil
}

// Registry returns a registry over the sandbox tools.
func (s *Sandbox) Registry() *Registry {
	return NewRegistry(s.FS, s.Terminal, s.Git, s.Fetch)
}

// Dispatcher returns a dispatcher over the sandbox tools.
func (s *Sandbox) Dispatcher(logger *zap.Logger) *Dispatcher {
	return NewDispatcher(s.Registry(), s.Guard, s.Overflow, logger)
}

// overflowDir picks the spill directory. It must be reachable through the
// guard so FileRead can re-read spilled output. When unset it is
// <os.TempDir()>/meow-output if that lies under the root, otherwise
// <root>/.meow-output.
func overflowDir(guard *PathGuard, configured string) (string, error) {
	if configured != "" {
		dir, err := guard.Resolve(configured)
		if err != nil {
			return "", fmt.Errorf("temp dir: %w", err)
		}
		return dir, nil
	}
	if dir, err := guard.Resolve(filepath.Join(os.TempDir(), "meow-output")); err == nil {
		return dir, nil
	}
	return filepath.Join(guard.Root(), ".meow-output"), nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
