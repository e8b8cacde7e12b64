package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/llm"
)

type toolRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *toolRecorder) RecordToolCall(tool string, success bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "failed"
	if success {
		status = "ok"
	}
	r.calls = append(r.calls, tool+":"+status)
}

func newTestDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	root := t.TempDir()
	cfg := testToolsConfig()
	cfg.OverflowThreshold = 256
	cfg.OverflowPreview = 32
	sb, err := NewSandbox(config.SandboxConfig{Root: root, TempDir: filepath.Join(root, ".overflow")}, cfg, Options{})
	requireNoError(t, err)
	return sb.Dispatcher(nil), root
}

func TestDispatchUnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if _, ok := d.Dispatch(context.Background(), "Teleport", `{}`); ok {
		t.Fatalf("unknown tool should not be dispatched")
	}
	if _, ok := d.Dispatch(context.Background(), ToolCompactContext, `{"summary":"x"}`); ok {
		t.Fatalf("compaction is not handled by the dispatcher")
	}
}

func TestDispatchFileRoundTrip(t *testing.T) {
	d, root := newTestDispatcher(t)
	rec := &toolRecorder{}
	d.SetRecorder(rec)
	ctx := context.Background()

	res, ok := d.Dispatch(ctx, ToolFileWrite, `{"path":"notes/a.txt","content":"line one\n"}`)
	if !ok || !res.Success {
		t.Fatalf("write failed: %+v", res)
	}
	res, _ = d.Dispatch(ctx, ToolFileAppend, `{"path":"notes/a.txt","content":"line two\n"}`)
	if !res.Success {
		t.Fatalf("append failed: %+v", res)
	}
	res, _ = d.Dispatch(ctx, ToolFileRead, `{"path":"notes/a.txt"}`)
	if res.Output != "line one\nline two\n" {
		t.Fatalf("unexpected read %q", res.Output)
	}
	res, _ = d.Dispatch(ctx, ToolFileExists, `{"path":"notes/missing"}`)
	if res.Output != "false" {
		t.Fatalf("expected false, got %q", res.Output)
	}
	res, _ = d.Dispatch(ctx, ToolListDir, `{}`)
	if res.Output != "notes/" {
		t.Fatalf("unexpected listing %q", res.Output)
	}
	res, _ = d.Dispatch(ctx, ToolFileRename, `{"src":"notes/a.txt","dst":"b.txt"}`)
	if !res.Success || !strings.Contains(res.Output, "left in place") {
		t.Fatalf("rename should copy and say so: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(root, "notes", "a.txt")); err != nil {
		t.Fatalf("rename must keep the source: %v", err)
	}
	if len(rec.calls) != 6 {
		t.Fatalf("expected 6 recorded calls, got %v", rec.calls)
	}
}

func TestDispatchDeniesEscape(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res, ok := d.Dispatch(context.Background(), ToolFileRead, `{"path":"../../etc/passwd"}`)
	if !ok || res.Success || res.Kind != llm.KindAccessDenied {
		t.Fatalf("expected access denied, got %+v", res)
	}
}

func TestDispatchCdAndPwd(t *testing.T) {
	d, root := newTestDispatcher(t)
	ctx := context.Background()
	requireNoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

	res, _ := d.Dispatch(ctx, ToolCd, `{"path":"sub"}`)
	if !res.Success {
		t.Fatalf("cd failed: %+v", res)
	}
	res, _ = d.Dispatch(ctx, ToolPwd, ``)
	if res.Output != filepath.Join(root, "sub") {
		t.Fatalf("unexpected pwd %q", res.Output)
	}
	res, _ = d.Dispatch(ctx, ToolCd, `{"path":"../.."}`)
	if res.Success || res.Kind != llm.KindAccessDenied {
		t.Fatalf("cd above root should be denied: %+v", res)
	}
}

func TestDispatchShell(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	res, _ := d.Dispatch(ctx, ToolShell, `{"cmd":"echo hi"}`)
	if !res.Success || res.Output != "hi" {
		t.Fatalf("unexpected shell result %+v", res)
	}
	res, _ = d.Dispatch(ctx, ToolShell, `{"cmd":"sh -c 'exit 2'"}`)
	if res.Success || !strings.Contains(res.Output, "[exit code 2]") {
		t.Fatalf("non-zero exit should fail: %+v", res)
	}
}

func TestDispatchOverflow(t *testing.T) {
	d, root := newTestDispatcher(t)
	content := strings.Repeat("abcdefgh", 100)
	requireNoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(content), 0o644))

	res, _ := d.Dispatch(context.Background(), ToolFileRead, `{"path":"big.txt"}`)
	if !res.Success || res.OverflowPath == "" {
		t.Fatalf("expected overflow: %+v", res)
	}
	if !strings.HasPrefix(res.OverflowPath, filepath.Join(root, ".overflow")) {
		t.Fatalf("overflow file should live in the temp dir, got %s", res.OverflowPath)
	}
	data, err := os.ReadFile(res.OverflowPath)
	requireNoError(t, err)
	if string(data) != content {
		t.Fatalf("overflow file content mismatch")
	}
}

func TestDispatchArgumentErrors(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	res, _ := d.Dispatch(ctx, ToolFileRead, `{"path":`)
	if res.Kind != llm.KindParseError {
		t.Fatalf("expected parse error for bad JSON, got %+v", res)
	}
	res, _ = d.Dispatch(ctx, ToolFileRead, `["x"]`)
	if res.Kind != llm.KindParseError {
		t.Fatalf("expected parse error for non-object args, got %+v", res)
	}
	res, _ = d.Dispatch(ctx, ToolFileRead, `{}`)
	if res.Kind != llm.KindParseError {
		t.Fatalf("expected parse error for missing path, got %+v", res)
	}
}

func TestDispatchGitPushForceAlwaysRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	for _, args := range []string{`{"force":true}`, `{"force":false}`, `{"force":"no","branch":"main"}`} {
		res, ok := d.Dispatch(context.Background(), ToolGitPush, args)
		if !ok || res.Success || res.Kind != llm.KindAccessDenied {
			t.Fatalf("force push %s should be rejected: %+v", args, res)
		}
	}
}

func TestDispatchDisabledTool(t *testing.T) {
	root := t.TempDir()
	cfg := testToolsConfig()
	cfg.AllowFileWrite = false
	sb, err := NewSandbox(config.SandboxConfig{Root: root}, cfg, Options{})
	requireNoError(t, err)
	d := sb.Dispatcher(nil)

	res, ok := d.Dispatch(context.Background(), ToolFileWrite, `{"path":"a","content":"b"}`)
	if !ok || res.Success || res.Kind != llm.KindAccessDenied {
		t.Fatalf("expected disabled tool failure, got %+v", res)
	}
}

func TestDispatchEnvelope(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	name, res, ok := d.DispatchEnvelope(ctx, `{"command":{"tool":"Pwd","args":{}}}`)
	if name != ToolPwd || !ok || !res.Success {
		t.Fatalf("unexpected envelope result %s %+v %v", name, res, ok)
	}

	name, res, ok = d.DispatchEnvelope(ctx, `{"command":{"tool":"Shell","args":{"cmd":}}}`)
	if name != ToolShell || !ok || res.Kind != llm.KindParseError {
		t.Fatalf("malformed envelope should fail with parse error: %s %+v", name, res)
	}

	_, res, _ = d.DispatchEnvelope(ctx, `{"command":"ls","tool":""}`)
	if res.Kind != llm.KindParseError {
		t.Fatalf("expected parse error for envelope without tool, got %+v", res)
	}

	name, _, ok = d.DispatchEnvelope(ctx, `{"command":{"tool":"Teleport"}}`)
	if name != "Teleport" || ok {
		t.Fatalf("unknown envelope tool should report not ok")
	}
}

func TestDispatchOverflowReadableUnderNarrowRoot(t *testing.T) {
	root := t.TempDir()
	cfg := testToolsConfig()
	cfg.OverflowThreshold = 256
	cfg.OverflowPreview = 32
	sb, err := NewSandbox(config.SandboxConfig{Root: root}, cfg, Options{})
	requireNoError(t, err)
	d := sb.Dispatcher(nil)
	ctx := context.Background()

	content := strings.Repeat("0123456789", 4<<10)
	requireNoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(content), 0o644))

	res, _ := d.Dispatch(ctx, ToolFileRead, `{"path":"big.txt"}`)
	if !res.Success || res.OverflowPath == "" {
		t.Fatalf("expected overflow: %+v", res)
	}
	if !strings.HasPrefix(res.OverflowPath, filepath.Join(root, ".meow-output")) {
		t.Fatalf("overflow file should default under the sandbox root, got %s", res.OverflowPath)
	}

	again, _ := d.Dispatch(ctx, ToolFileRead, `{"path":"`+res.OverflowPath+`"}`)
	if !again.Success {
		t.Fatalf("spilled output should be readable through FileRead: %+v", again)
	}
	if !strings.HasPrefix(again.Output, "0123456789") {
		t.Fatalf("unexpected re-read output: %q", again.Output[:32])
	}
}
