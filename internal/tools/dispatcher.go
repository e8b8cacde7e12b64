package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/jsonscan"
	"github.com/netoneko/meow/internal/llm"
)

// Recorder receives tool telemetry.
type Recorder interface {
	RecordToolCall(tool string, success bool, d time.Duration)
}

type handler func(ctx context.Context, args gjson.Result) (Result, error)

// Dispatcher routes tool calls by name to the sandboxed implementations.
// It is used by one turn at a time.
type Dispatcher struct {
	reg      *Registry
	guard    *PathGuard
	overflow *Overflow
	logger   *zap.Logger
	metrics  Recorder
	handlers map[string]handler
}

// NewDispatcher wires a dispatcher over reg. guard backs Cd and Pwd.
func NewDispatcher(reg *Registry, guard *PathGuard, overflow *Overflow, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if overflow == nil {
		overflow = NewOverflow("", 0, -1)
	}
	d := &Dispatcher{reg: reg, guard: guard, overflow: overflow, logger: logger}
	d.handlers = map[string]handler{
		ToolFileRead:    d.fileRead,
		ToolFileWrite:   d.fileWrite,
		ToolFileAppend:  d.fileAppend,
		ToolFileExists:  d.fileExists,
		ToolListDir:     d.listDir,
		ToolFileCopy:    d.fileCopy,
		ToolFileMove:    d.fileMove,
		ToolFileRename:  d.fileMove,
		ToolCd:          d.cd,
		ToolPwd:         d.pwd,
		ToolSearch:      d.search,
		ToolHTTPGet:     d.httpGet,
		ToolShell:       d.shell,
		ToolGitStatus:   d.git(func(ctx context.Context, _ gjson.Result) (ExecResult, error) { return d.reg.Git.Status(ctx) }),
		ToolGitDiff:     d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.Diff(ctx, a.Get("path").String(), a.Get("staged").Bool()) }),
		ToolGitLog:      d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.Log(ctx, int(a.Get("limit").Int())) }),
		ToolGitAdd:      d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.Add(ctx, stringList(a.Get("paths"))) }),
		ToolGitCommit:   d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.Commit(ctx, a.Get("message").String()) }),
		ToolGitPush:     d.git(d.gitPush),
		ToolGitPull:     d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.Pull(ctx, a.Get("remote").String(), a.Get("branch").String()) }),
		ToolGitBranch:   d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.Branch(ctx, a.Get("name").String()) }),
		ToolGitCheckout: d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.Checkout(ctx, a.Get("ref").String(), a.Get("create").Bool()) }),
		ToolIssueList:   d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.IssueList(ctx, a.Get("state").String(), int(a.Get("limit").Int())) }),
		ToolIssueView:   d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.IssueView(ctx, int(a.Get("number").Int())) }),
		ToolIssueCreate: d.git(func(ctx context.Context, a gjson.Result) (ExecResult, error) { return d.reg.Git.IssueCreate(ctx, a.Get("title").String(), a.Get("body").String()) }),
	}
	return d
}

// SetRecorder attaches a telemetry recorder.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.metrics = r
}

// Registry returns the underlying tool registry.
func (d *Dispatcher) Registry() *Registry {
	return d.reg
}

// Guard returns the sandbox path guard.
func (d *Dispatcher) Guard() *PathGuard {
	return d.guard
}

// Known reports whether name is a dispatchable tool.
func (d *Dispatcher) Known(name string) bool {
	_, ok := d.handlers[name]
	return ok
}

// Dispatch runs tool name with JSON object arguments. The boolean is false
// when name is not a tool this dispatcher knows.
func (d *Dispatcher) Dispatch(ctx context.Context, name, argsJSON string) (Result, bool) {
	h, ok := d.handlers[name]
	if !ok {
		return Result{}, false
	}

	start := time.Now()
	res := d.invoke(ctx, h, name, argsJSON)

	if out, path, err := d.overflow.Apply(name, res.Output); err != nil {
		d.logger.Warn("overflow spill failed", zap.String("tool", name), zap.Error(err))
	} else {
		res.Output, res.OverflowPath = out, path
	}

	elapsed := time.Since(start)
	d.logger.Debug("tool dispatched",
		zap.String("tool", name),
		zap.Bool("success", res.Success),
		zap.String("kind", string(res.Kind)),
		zap.Duration("duration", elapsed),
		zap.String("overflow", res.OverflowPath),
	)
	if d.metrics != nil {
		d.metrics.RecordToolCall(name, res.Success, elapsed)
	}
	return res, true
}

func (d *Dispatcher) invoke(ctx context.Context, h handler, name, argsJSON string) Result {
	if _, enabled := d.reg.Schema(name); !enabled {
		return failResultf(llm.KindAccessDenied, "tool %s is disabled by configuration", name)
	}
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	if !gjson.Valid(argsJSON) {
		return failResultf(llm.KindParseError, "malformed arguments for %s: not valid JSON", name)
	}
	args := gjson.Parse(argsJSON)
	if !args.IsObject() {
		return failResultf(llm.KindParseError, "arguments for %s must be a JSON object", name)
	}
	fields, _ := args.Value().(map[string]interface{})
	if err := ValidateCall(d.reg, name, fields); err != nil {
		return failResult(err)
	}

	res, err := h(ctx, args)
	if err != nil {
		return failResult(err)
	}
	return res
}

// DispatchEnvelope parses a {"command":{"tool":...,"args":{...}}} envelope
// and dispatches it. It returns the tool name (best effort for malformed
// envelopes), the result and whether the tool is known. Malformed envelopes
// yield a ParseError result.
func (d *Dispatcher) DispatchEnvelope(ctx context.Context, raw string) (string, Result, bool) {
	if !gjson.Valid(raw) {
		name, _ := jsonscan.StringField(raw, "tool")
		return name, failResultf(llm.KindParseError, "malformed tool call: not valid JSON"), true
	}
	cmd := gjson.Get(raw, "command")
	name := cmd.Get("tool").String()
	if !cmd.IsObject() || name == "" {
		return name, failResultf(llm.KindParseError, `malformed tool call: expected {"command":{"tool":"<Name>","args":{...}}}`), true
	}
	res, known := d.Dispatch(ctx, name, cmd.Get("args").Raw)
	return name, res, known
}

func (d *Dispatcher) fileRead(_ context.Context, a gjson.Result) (Result, error) {
	out, err := d.reg.FS.ReadFile(a.Get("path").String())
	if err != nil {
		return Result{}, err
	}
	return okResult(out), nil
}

func (d *Dispatcher) fileWrite(_ context.Context, a gjson.Result) (Result, error) {
	path, content := a.Get("path").String(), a.Get("content").String()
	if err := d.reg.FS.WriteFile(path, content); err != nil {
		return Result{}, err
	}
	return okResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

func (d *Dispatcher) fileAppend(_ context.Context, a gjson.Result) (Result, error) {
	path, content := a.Get("path").String(), a.Get("content").String()
	if err := d.reg.FS.AppendFile(path, content); err != nil {
		return Result{}, err
	}
	return okResult(fmt.Sprintf("appended %d bytes to %s", len(content), path)), nil
}

func (d *Dispatcher) fileExists(_ context.Context, a gjson.Result) (Result, error) {
	ok, err := d.reg.FS.Exists(a.Get("path").String())
	if err != nil {
		return Result{}, err
	}
	return okResult(strconv.FormatBool(ok)), nil
}

func (d *Dispatcher) listDir(_ context.Context, a gjson.Result) (Result, error) {
	names, err := d.reg.FS.ListDir(a.Get("path").String())
	if err != nil {
		return Result{}, err
	}
	if len(names) == 0 {
		return okResult("(empty directory)"), nil
	}
	return okResult(strings.Join(names, "\n")), nil
}

func (d *Dispatcher) fileCopy(_ context.Context, a gjson.Result) (Result, error) {
	src, dst := a.Get("src").String(), a.Get("dst").String()
	n, err := d.reg.FS.CopyFile(src, dst)
	if err != nil {
		return Result{}, err
	}
	return okResult(fmt.Sprintf("copied %s to %s (%d bytes)", src, dst, n)), nil
}

func (d *Dispatcher) fileMove(_ context.Context, a gjson.Result) (Result, error) {
	src, dst := a.Get("src").String(), a.Get("dst").String()
	n, err := d.reg.FS.MoveFile(src, dst)
	if err != nil {
		return Result{}, err
	}
	return okResult(fmt.Sprintf("copied %s to %s (%d bytes); the source was left in place, remove it with Shell if needed", src, dst, n)), nil
}

func (d *Dispatcher) cd(_ context.Context, a gjson.Result) (Result, error) {
	dir, err := d.guard.Chdir(a.Get("path").String())
	if err != nil {
		return Result{}, err
	}
	return okResult(dir), nil
}

func (d *Dispatcher) pwd(context.Context, gjson.Result) (Result, error) {
	return okResult(d.guard.Cwd()), nil
}

func (d *Dispatcher) search(_ context.Context, a gjson.Result) (Result, error) {
	results, err := d.reg.FS.Search(a.Get("path").String(), a.Get("pattern").String(), 50)
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return okResult("no matches"), nil
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.String())
	}
	return okResult(strings.Join(lines, "\n")), nil
}

func (d *Dispatcher) httpGet(ctx context.Context, a gjson.Result) (Result, error) {
	body, err := d.reg.Fetch.Get(ctx, a.Get("url").String())
	if err != nil {
		return Result{}, err
	}
	return okResult(body), nil
}

func (d *Dispatcher) shell(ctx context.Context, a gjson.Result) (Result, error) {
	res, err := d.reg.Terminal.Exec(ctx, a.Get("cmd").String())
	if err != nil {
		return Result{}, err
	}
	return execResult(res), nil
}

func (d *Dispatcher) gitPush(ctx context.Context, a gjson.Result) (ExecResult, error) {
	// Any force key is rejected, whatever its value.
	if a.Get("force").Exists() {
		return ExecResult{}, ErrForcePush
	}
	return d.reg.Git.Push(ctx, a.Get("remote").String(), a.Get("branch").String(), false)
}

func (d *Dispatcher) git(fn func(context.Context, gjson.Result) (ExecResult, error)) handler {
	return func(ctx context.Context, a gjson.Result) (Result, error) {
		res, err := fn(ctx, a)
		if err != nil {
			return Result{}, err
		}
		return execResult(res), nil
	}
}

func execResult(res ExecResult) Result {
	out := strings.TrimRight(res.Output, "\n")
	if res.ExitCode != 0 {
		return Result{Output: fmt.Sprintf("%s\n[exit code %d]", out, res.ExitCode)}
	}
	if out == "" {
		out = "(no output)"
	}
	return okResult(out)
}

func stringList(v gjson.Result) []string {
	if v.IsArray() {
		var out []string
		for _, item := range v.Array() {
			out = append(out, item.String())
		}
		return out
	}
	if s := v.String(); s != "" {
		return []string{s}
	}
	return nil
}
