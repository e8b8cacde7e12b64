package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/netoneko/meow/internal/llm"
)

// PathGuard keeps every filesystem operation inside a root directory. The
// working directory is always the root or nested under it. Containment is
// checked lexically; symlinks are not resolved.
type PathGuard struct {
	root string
	cwd  string

	// chdirProcess mirrors Cd into the process working directory.
	chdirProcess bool
}

// NewPathGuard constructs a guard. An empty root means the filesystem root;
// an empty cwd means the process working directory when it lies inside root,
// otherwise root itself.
func NewPathGuard(root, cwd string) (*PathGuard, error) {
	if root == "" {
		root = string(filepath.Separator)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	g := &PathGuard{root: filepath.Clean(absRoot), cwd: filepath.Clean(absRoot)}

	if cwd == "" {
		if wd, err := os.Getwd(); err == nil && g.contains(wd) {
			g.cwd = filepath.Clean(wd)
		}
		return g, nil
	}
	resolved, err := g.Resolve(cwd)
	if err != nil {
		return nil, fmt.Errorf("working dir: %w", err)
	}
	g.cwd = resolved
	return g, nil
}

// Root returns the sandbox root.
func (g *PathGuard) Root() string { return g.root }

// Cwd returns the sandboxed working directory.
func (g *PathGuard) Cwd() string { return g.cwd }

// Resolve joins relative paths onto the working directory, normalizes the
// result and denies anything outside the root.
func (g *PathGuard) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", llm.Errorf(llm.KindParseError, "resolve", "path is required")
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.cwd, abs)
	}
	abs = filepath.Clean(abs)
	if !g.contains(abs) {
		return "", llm.Errorf(llm.KindAccessDenied, "resolve", "path %q escapes sandbox root %s", p, g.root)
	}
	return abs, nil
}

// Chdir moves the working directory. The target must be an existing
// directory inside the root.
func (g *PathGuard) Chdir(p string) (string, error) {
	resolved, err := g.Resolve(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", resolved)
	}
	if g.chdirProcess {
		if err := os.Chdir(resolved); err != nil {
			return "", err
		}
	}
	g.cwd = resolved
	return resolved, nil
}

func (g *PathGuard) contains(abs string) bool {
	if abs == g.root {
		return true
	}
	prefix := g.root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(abs, prefix)
}
