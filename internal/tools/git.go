package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/netoneko/meow/internal/llm"
)

// GitTool assembles version-control and issue-tracker command lines and
// runs them through the Terminal, inheriting its resource bounds.
type GitTool struct {
	Terminal  *Terminal
	AllowExec bool
}

// ErrForcePush is returned for any push request carrying a force flag.
var ErrForcePush = llm.Errorf(llm.KindAccessDenied, "git push", "force push is not allowed")

func (g *GitTool) Status(ctx context.Context) (ExecResult, error) {
	return g.run(ctx, "git", "status", "--short", "--branch")
}

// Diff shows unstaged changes, or staged ones when staged is set.
func (g *GitTool) Diff(ctx context.Context, path string, staged bool) (ExecResult, error) {
	args := []string{"diff"}
	if staged {
		args = append(args, "--cached")
	}
	if path != "" {
		args = append(args, "--", path)
	}
	return g.run(ctx, "git", args...)
}

func (g *GitTool) Log(ctx context.Context, limit int) (ExecResult, error) {
	if limit <= 0 {
		limit = 20
	}
	return g.run(ctx, "git", "log", "--oneline", "-n", strconv.Itoa(limit))
}

func (g *GitTool) Add(ctx context.Context, paths []string) (ExecResult, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return g.run(ctx, "git", append([]string{"add", "--"}, paths...)...)
}

func (g *GitTool) Commit(ctx context.Context, message string) (ExecResult, error) {
	if strings.TrimSpace(message) == "" {
		return ExecResult{}, llm.Errorf(llm.KindParseError, "git commit", "message is required")
	}
	return g.run(ctx, "git", "commit", "-m", message)
}

// Push pushes to a remote. Force pushes are always rejected, whatever the
// flag's value and however it is smuggled in.
func (g *GitTool) Push(ctx context.Context, remote, branch string, force bool) (ExecResult, error) {
	if force {
		return ExecResult{}, ErrForcePush
	}
	for _, v := range []string{remote, branch} {
		if strings.HasPrefix(v, "+") || strings.Contains(v, "--force") || v == "-f" {
			return ExecResult{}, ErrForcePush
		}
	}
	args, err := refArgs("push", remote, branch)
	if err != nil {
		return ExecResult{}, err
	}
	return g.run(ctx, "git", args...)
}

func (g *GitTool) Pull(ctx context.Context, remote, branch string) (ExecResult, error) {
	args, err := refArgs("pull", remote, branch)
	if err != nil {
		return ExecResult{}, err
	}
	return g.run(ctx, "git", append([]string{"pull", "--ff-only"}, args[1:]...)...)
}

// Branch lists branches, or creates one when name is set.
func (g *GitTool) Branch(ctx context.Context, name string) (ExecResult, error) {
	if name == "" {
		return g.run(ctx, "git", "branch", "--list")
	}
	if err := plainRef("branch", name); err != nil {
		return ExecResult{}, err
	}
	return g.run(ctx, "git", "branch", name)
}

func (g *GitTool) Checkout(ctx context.Context, ref string, create bool) (ExecResult, error) {
	if err := plainRef("ref", ref); err != nil {
		return ExecResult{}, err
	}
	if create {
		return g.run(ctx, "git", "checkout", "-b", ref)
	}
	return g.run(ctx, "git", "checkout", ref)
}

// IssueList lists issues via the GitHub CLI.
func (g *GitTool) IssueList(ctx context.Context, state string, limit int) (ExecResult, error) {
	switch state {
	case "":
		state = "open"
	case "open", "closed", "all":
	default:
		return ExecResult{}, llm.Errorf(llm.KindParseError, "issue list", "state must be open, closed or all")
	}
	if limit <= 0 {
		limit = 30
	}
	return g.run(ctx, "gh", "issue", "list", "--state", state, "--limit", strconv.Itoa(limit))
}

func (g *GitTool) IssueView(ctx context.Context, number int) (ExecResult, error) {
	if number <= 0 {
		return ExecResult{}, llm.Errorf(llm.KindParseError, "issue view", "number must be positive")
	}
	return g.run(ctx, "gh", "issue", "view", strconv.Itoa(number))
}

func (g *GitTool) IssueCreate(ctx context.Context, title, body string) (ExecResult, error) {
	if strings.TrimSpace(title) == "" {
		return ExecResult{}, llm.Errorf(llm.KindParseError, "issue create", "title is required")
	}
	return g.run(ctx, "gh", "issue", "create", "--title", title, "--body", body)
}

func refArgs(verb, remote, branch string) ([]string, error) {
	args := []string{verb}
	if remote == "" && branch != "" {
		remote = "origin"
	}
	for _, v := range []string{remote, branch} {
		if v == "" {
			continue
		}
		if err := plainRef(verb, v); err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// plainRef rejects values that would be parsed as options.
func plainRef(what, v string) error {
	if strings.TrimSpace(v) == "" {
		return llm.Errorf(llm.KindParseError, what, "value is required")
	}
	if strings.HasPrefix(v, "-") {
		return llm.Errorf(llm.KindAccessDenied, what, "%q looks like an option", v)
	}
	return nil
}

func (g *GitTool) run(ctx context.Context, name string, args ...string) (ExecResult, error) {
	if !g.AllowExec || g.Terminal == nil {
		return ExecResult{}, llm.Errorf(llm.KindAccessDenied, name, "%s operations disabled", name)
	}
	line := commandLine(name, args...)
	res, err := g.Terminal.Exec(ctx, line)
	if err != nil {
		return res, fmt.Errorf("%s: %w", line, err)
	}
	return res, nil
}
