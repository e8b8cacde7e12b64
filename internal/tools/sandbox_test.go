package tools

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/llm"
)

func testToolsConfig() config.ToolsConfig {
	return config.ToolsConfig{
		AllowExec:      true,
		AllowGit:       true,
		AllowFileWrite: true,
		AllowNetwork:   true,
		ShellTimeout:   5 * time.Second,
	}
}

func TestSandboxRespectsAllowExec(t *testing.T) {
	dir := t.TempDir()
	sb, err := NewSandbox(config.SandboxConfig{Root: dir}, testToolsConfig(), Options{})
	if err != nil {
		t.Fatalf("sandbox build: %v", err)
	}
	if sb.Terminal == nil || !sb.Terminal.AllowExecution {
		t.Fatalf("expected terminal exec enabled")
	}
	if sb.Guard.Root() != dir || sb.Guard.Cwd() != dir {
		t.Fatalf("expected guard rooted at %s, got %s (cwd %s)", dir, sb.Guard.Root(), sb.Guard.Cwd())
	}
}

func TestSandboxDisablesExecWhenConfigFalse(t *testing.T) {
	cfg := testToolsConfig()
	cfg.AllowExec = false
	sb, err := NewSandbox(config.SandboxConfig{Root: t.TempDir()}, cfg, Options{})
	if err != nil {
		t.Fatalf("sandbox build: %v", err)
	}
	if sb.Terminal.AllowExecution {
		t.Fatalf("expected terminal exec disabled")
	}
	if !sb.Git.Terminal.AllowExecution {
		t.Fatalf("git should keep its own switch")
	}
	if _, ok := sb.Registry().Schema(ToolShell); ok {
		t.Fatalf("shell schema should be hidden when exec is disabled")
	}
}

func TestSandboxAddsNetworkDeniesWhenDisabled(t *testing.T) {
	cfg := testToolsConfig()
	cfg.AllowNetwork = false
	sb, err := NewSandbox(config.SandboxConfig{Root: t.TempDir()}, cfg, Options{})
	if err != nil {
		t.Fatalf("sandbox build: %v", err)
	}
	if sb.Fetch != nil {
		t.Fatalf("expected HttpGet to be disabled")
	}
	found := false
	for _, d := range sb.Terminal.Denied {
		if d == "curl" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected curl to be denied when network disabled")
	}
}

func TestSandboxRejectsWorkingDirOutsideRoot(t *testing.T) {
	root := t.TempDir()
	_, err := NewSandbox(config.SandboxConfig{Root: root, WorkingDir: "/"}, testToolsConfig(), Options{})
	if err == nil {
		t.Fatalf("expected working dir outside root to fail")
	}
}

func TestSandboxRejectsTempDirOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "meow-output")
	_, err := NewSandbox(config.SandboxConfig{Root: root, TempDir: outside}, testToolsConfig(), Options{})
	if llm.KindOf(err) != llm.KindAccessDenied {
		t.Fatalf("expected temp dir outside root to be denied, got %v", err)
	}
}

func TestSandboxDefaultTempDirUnderFilesystemRoot(t *testing.T) {
	sb, err := NewSandbox(config.SandboxConfig{Root: "/"}, testToolsConfig(), Options{})
	requireNoError(t, err)
	if sb.Overflow.Dir != filepath.Join(os.TempDir(), "meow-output") {
		t.Fatalf("unexpected overflow dir %s", sb.Overflow.Dir)
	}
}
