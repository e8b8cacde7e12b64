package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/netoneko/meow/internal/llm"
)

func TestPathGuardResolve(t *testing.T) {
	root := t.TempDir()
	g, err := NewPathGuard(root, root)
	requireNoError(t, err)

	if _, err := g.Resolve("../etc/passwd"); llm.KindOf(err) != llm.KindAccessDenied {
		t.Fatalf("expected access denied, got %v", err)
	}

	got, err := g.Resolve("./sub/../file.txt")
	requireNoError(t, err)
	if got != filepath.Join(root, "file.txt") {
		t.Fatalf("unexpected resolution %s", got)
	}

	if _, err := g.Resolve("/etc/passwd"); llm.KindOf(err) != llm.KindAccessDenied {
		t.Fatalf("expected absolute path outside root to be denied, got %v", err)
	}

	got, err = g.Resolve(root)
	requireNoError(t, err)
	if got != root {
		t.Fatalf("root itself should resolve, got %s", got)
	}
}

func TestPathGuardRejectsSiblingPrefix(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "box")
	requireNoError(t, os.Mkdir(root, 0o755))
	g, err := NewPathGuard(root, root)
	requireNoError(t, err)

	if _, err := g.Resolve(root + "2/file"); err == nil {
		t.Fatalf("expected sibling directory sharing a prefix to be denied")
	}
}

func TestPathGuardDefaultsToFilesystemRoot(t *testing.T) {
	g, err := NewPathGuard("", "/")
	requireNoError(t, err)
	if g.Root() != "/" {
		t.Fatalf("expected / root, got %s", g.Root())
	}
	got, err := g.Resolve("../../etc")
	requireNoError(t, err)
	if got != "/etc" {
		t.Fatalf("expected /etc, got %s", got)
	}
}

func TestPathGuardChdir(t *testing.T) {
	root := t.TempDir()
	requireNoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	requireNoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))
	g, err := NewPathGuard(root, root)
	requireNoError(t, err)

	got, err := g.Chdir("a/b")
	requireNoError(t, err)
	if got != filepath.Join(root, "a", "b") || g.Cwd() != got {
		t.Fatalf("unexpected cwd %s", g.Cwd())
	}

	resolved, err := g.Resolve("../../f.txt")
	requireNoError(t, err)
	if resolved != filepath.Join(root, "f.txt") {
		t.Fatalf("relative resolution should use cwd, got %s", resolved)
	}

	if _, err := g.Chdir("../../.."); llm.KindOf(err) != llm.KindAccessDenied {
		t.Fatalf("expected chdir above root to be denied, got %v", err)
	}
	if _, err := g.Chdir("../../f.txt"); err == nil {
		t.Fatalf("expected chdir into a file to fail")
	}
}
