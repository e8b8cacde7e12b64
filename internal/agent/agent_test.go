package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/llm"
	llmmock "github.com/netoneko/meow/internal/llm/mock"
	"github.com/netoneko/meow/internal/llm/stream"
	"github.com/netoneko/meow/internal/tools"
)

type turnRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (r *turnRecorder) RecordTurn(reason string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func newTestAgent(t *testing.T, s *llmmock.Streamer, cfg config.AgentConfig) (*Agent, string) {
	t.Helper()
	dir := t.TempDir()
	sb, err := tools.NewSandbox(
		config.SandboxConfig{Root: dir, TempDir: filepath.Join(dir, ".overflow")},
		config.ToolsConfig{AllowExec: true, AllowFileWrite: true, ShellTimeout: 5 * time.Second},
		tools.Options{},
	)
	require.NoError(t, err)

	reg := llm.NewRegistry()
	reg.RegisterProvider(llm.Provider{Name: "local", Dialect: llm.DialectOllama, BaseURL: "http://127.0.0.1:11434", Model: "m"}, true)
	reg.RegisterProvider(llm.Provider{Name: "cloud", Dialect: llm.DialectOpenAI, BaseURL: "https://example.com/v1", Model: "big"}, false)

	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 20
	}
	return New(s, sb.Dispatcher(nil), reg, cfg, nil), dir
}

func call(tool, args string) string {
	return "```json\n{\"command\":{\"tool\":\"" + tool + "\",\"args\":" + args + "}}\n```"
}

func roles(msgs []llm.ChatMessage) []llm.Role {
	out := make([]llm.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestRunTurnPlainAnswer(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{llmmock.Complete("Hello there.")}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	rec := &turnRecorder{}
	a.SetRecorder(rec)

	sess, err := a.Session("")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	var deltas []string
	sess.Hooks.OnDelta = func(d string) { deltas = append(deltas, d) }

	res, err := a.RunTurn(context.Background(), sess, "hi")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, ReasonComplete, res.Reason)
	require.Equal(t, "Hello there.", res.Text)
	require.Equal(t, 1, res.Iterations)
	require.Equal(t, []string{"Hello there."}, deltas)
	require.Equal(t, []string{ReasonComplete}, rec.reasons)

	msgs := sess.History().Messages()
	require.Equal(t, []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant}, roles(msgs))
	require.Contains(t, msgs[0].Content, tools.ToolFileRead)
	require.Contains(t, msgs[0].Content, tools.ToolCompactContext)

	req := s.Requests[0]
	require.Equal(t, "m", req.Model)
	require.Equal(t, "local", req.Provider.Name)
	require.False(t, req.Continuation)
}

func TestRunTurnRejectsEmptyInput(t *testing.T) {
	a, _ := newTestAgent(t, &llmmock.Streamer{}, config.AgentConfig{})
	sess, err := a.Session("s")
	require.NoError(t, err)
	_, err = a.RunTurn(context.Background(), sess, "  ")
	require.Error(t, err)
	require.Equal(t, 1, sess.History().Len())
}

func TestRunTurnDispatchesToolCalls(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete("Writing the file.\n" + call(tools.ToolFileWrite, `{"path":"a.txt","content":"meow"}`) +
			"\nThen reading it.\n" + call(tools.ToolFileRead, `{"path":"a.txt"}`)),
		llmmock.Complete("The file says meow."),
	}}
	a, dir := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("tools")
	require.NoError(t, err)

	var events []ToolEvent
	sess.Hooks.OnTool = func(ev ToolEvent) { events = append(events, ev) }

	res, err := a.RunTurn(context.Background(), sess, "write and read a.txt")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Iterations)
	require.Equal(t, 2, res.ToolCalls)

	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "meow", string(data))

	require.Len(t, events, 2)
	require.Equal(t, tools.ToolFileWrite, events[0].Tool)
	require.True(t, events[1].Result.Success)

	// The second request sees both calls and their results in order.
	msgs := s.Requests[1].Messages
	require.Equal(t, []llm.Role{
		llm.RoleSystem, llm.RoleUser,
		llm.RoleAssistant, llm.RoleUser,
		llm.RoleAssistant, llm.RoleUser,
	}, roles(msgs))
	require.True(t, strings.HasPrefix(msgs[2].Content, "Writing the file."))
	require.True(t, strings.HasPrefix(msgs[3].Content, "[Tool Result] FileWrite (ok)\n"))
	require.True(t, strings.HasPrefix(msgs[4].Content, "Then reading it."))
	require.Equal(t, "[Tool Result] FileRead (ok)\nmeow", msgs[5].Content)
}

func TestRunTurnFeedsBackToolFailure(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete(call(tools.ToolFileRead, `{"path":"../../etc/passwd"}`)),
		llmmock.Complete("I cannot read that."),
	}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("deny")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "read passwd")
	require.NoError(t, err)
	require.True(t, res.Success)

	msgs := s.Requests[1].Messages
	require.True(t, strings.HasPrefix(msgs[len(msgs)-1].Content, "[Tool Result] FileRead (failed)\n"))
}

func TestRunTurnUnknownToolIsProse(t *testing.T) {
	text := "Use " + call("Teleport", `{}`) + " if you can."
	s := &llmmock.Streamer{Replies: []llmmock.Reply{llmmock.Complete(text)}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("unknown")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "go")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Zero(t, res.ToolCalls)
	require.Equal(t, text, res.Text)
}

func TestRunTurnContinuesPartialResponses(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Partial("Hel"),
		llmmock.Partial("lo, "),
		llmmock.Complete("world."),
	}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("partial")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "greet")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "Hello, world.", res.Text)
	require.Equal(t, 3, res.Iterations)

	require.False(t, s.Requests[0].Continuation)
	require.True(t, s.Requests[1].Continuation)
	require.True(t, s.Requests[2].Continuation)

	second := s.Requests[1].Messages
	require.Equal(t, "Hel", second[len(second)-2].Content)
	require.Equal(t, continuePrompt, second[len(second)-1].Content)

	// The chain collapses into one assistant message.
	msgs := sess.History().Messages()
	require.Equal(t, []llm.Role{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant}, roles(msgs))
	require.Equal(t, "Hello, world.", msgs[2].Content)
}

func TestRunTurnToolCallAcrossPartials(t *testing.T) {
	full := call(tools.ToolFileWrite, `{"path":"b.txt","content":"x"}`)
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Partial(full[:20]),
		llmmock.Complete(full[20:]),
		llmmock.Complete("Done."),
	}}
	a, dir := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("split")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "write b")
	require.NoError(t, err)
	require.Equal(t, 1, res.ToolCalls)
	require.FileExists(t, filepath.Join(dir, "b.txt"))
}

func TestRunTurnRejectsFabricatedResults(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete(call(tools.ToolFileWrite, `{"path":"c.txt","content":"x"}`) + "\n[Tool Result] FileWrite (ok)\nwritten"),
		llmmock.Complete("Sorry, nothing was written."),
	}}
	a, dir := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("fake")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "write c")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Zero(t, res.ToolCalls)
	require.NoFileExists(t, filepath.Join(dir, "c.txt"))

	msgs := s.Requests[1].Messages
	require.Equal(t, fabricatedPrompt, msgs[len(msgs)-1].Content)
}

func TestRunTurnMarkersInsideCallArgsAreNotFabricated(t *testing.T) {
	content := `[Tool Result] FileRead (ok)\nTool output: sample`
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete("Saving the transcript.\n" + call(tools.ToolFileWrite, `{"path":"log.txt","content":"`+content+`"}`)),
		llmmock.Complete("Saved."),
	}}
	a, dir := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("quoted-markers")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "save the transcript")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.ToolCalls)

	data, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	require.Equal(t, "[Tool Result] FileRead (ok)\nTool output: sample", string(data))
	for _, m := range s.Requests[1].Messages {
		require.NotEqual(t, fabricatedPrompt, m.Content)
	}
}

func TestRunTurnCompactsContext(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete("Answer one."),
		llmmock.Complete(call(tools.ToolCompactContext, `{"summary":"user asked twice"}`)),
	}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("compact")
	require.NoError(t, err)

	_, err = a.RunTurn(context.Background(), sess, "first")
	require.NoError(t, err)
	res, err := a.RunTurn(context.Background(), sess, "second")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, ReasonCompacted, res.Reason)

	msgs := sess.History().Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, a.SystemPrompt(), msgs[0].Content)
	require.Contains(t, msgs[1].Content, "user asked twice")
	require.Equal(t, llm.RoleAssistant, msgs[2].Role)
}

func TestRunTurnMalformedCompactIsFedBack(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete(call(tools.ToolCompactContext, `{"summary":""}`)),
		llmmock.Complete("ok"),
	}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("bad-compact")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "compact")
	require.NoError(t, err)
	require.Equal(t, ReasonComplete, res.Reason)
	msgs := s.Requests[1].Messages
	require.True(t, strings.HasPrefix(msgs[len(msgs)-1].Content, "[Tool Result] CompactContext (failed)\n"))
}

func TestRunTurnNudgesOnIntentWithoutCall(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete("Let me check the directory."),
		llmmock.Complete(call(tools.ToolListDir, `{}`)),
		llmmock.Complete("It is empty. Let me know if you need more."),
	}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("intent")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "what is here?")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 3, res.Iterations)
	require.Equal(t, 1, res.ToolCalls)

	msgs := s.Requests[1].Messages
	require.Equal(t, intentPrompt, msgs[len(msgs)-1].Content)
}

func TestRunTurnIntentAfterDispatchEnds(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{
		llmmock.Complete(call(tools.ToolPwd, `{}`)),
		llmmock.Complete("I'll now summarize: you are at the root."),
	}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("intent-after")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "where am I?")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, s.Calls())
}

func TestRunTurnStopsAtIterationLimit(t *testing.T) {
	var replies []llmmock.Reply
	for i := 0; i < 3; i++ {
		replies = append(replies, llmmock.Complete(call(tools.ToolPwd, `{}`)))
	}
	s := &llmmock.Streamer{Replies: replies}
	a, _ := newTestAgent(t, s, config.AgentConfig{MaxIterations: 3})
	rec := &turnRecorder{}
	a.SetRecorder(rec)
	sess, err := a.Session("loop")
	require.NoError(t, err)

	res, err := a.RunTurn(context.Background(), sess, "loop forever")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, ReasonMaxIterations, res.Reason)
	require.Equal(t, 3, res.Iterations)
	require.Equal(t, 3, s.Calls())
	require.Equal(t, []string{ReasonMaxIterations}, rec.reasons)
	require.Greater(t, sess.History().Len(), 2)
}

func TestRunTurnReturnsStreamErrors(t *testing.T) {
	streamErr := llm.Errorf(llm.KindConnectionFailed, "connect", "refused")
	s := &llmmock.Streamer{Replies: []llmmock.Reply{{Err: streamErr}}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	rec := &turnRecorder{}
	a.SetRecorder(rec)
	sess, err := a.Session("err")
	require.NoError(t, err)

	_, err = a.RunTurn(context.Background(), sess, "hi")
	require.ErrorIs(t, err, streamErr)
	require.Equal(t, []string{ReasonError}, rec.reasons)

	// The session stays usable.
	s.Replies = append(s.Replies, llmmock.Complete("back"))
	res, err := a.RunTurn(context.Background(), sess, "again")
	require.NoError(t, err)
	require.Equal(t, "back", res.Text)
}

func TestSessionCancelEndsTurn(t *testing.T) {
	started := make(chan struct{})
	s := &llmmock.Streamer{
		SendFn: func(ctx context.Context, req stream.Request) (llm.StreamOutcome, error) {
			close(started)
			<-ctx.Done()
			return llm.StreamOutcome{}, llm.NewError(llm.KindCancelled, "stream", ctx.Err())
		},
	}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("cancel")
	require.NoError(t, err)

	go func() {
		<-started
		sess.Cancel()
	}()

	_, err = a.RunTurn(context.Background(), sess, "long task")
	require.Error(t, err)
	require.Equal(t, llm.KindCancelled, llm.KindOf(err))
	require.Equal(t, 2, sess.History().Len())
}

func TestRunTurnCancelledBeforeStart(t *testing.T) {
	s := &llmmock.Streamer{}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("pre")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.RunTurn(ctx, sess, "hi")
	require.True(t, errors.Is(err, context.Canceled))
	require.Zero(t, s.Calls())
}

func TestSwitchProviderAndModel(t *testing.T) {
	s := &llmmock.Streamer{Replies: []llmmock.Reply{llmmock.Complete("a"), llmmock.Complete("b")}}
	a, _ := newTestAgent(t, s, config.AgentConfig{})
	sess, err := a.Session("switch")
	require.NoError(t, err)

	require.Error(t, a.SwitchProvider(sess, "missing"))
	require.NoError(t, a.SwitchProvider(sess, "cloud"))
	require.Equal(t, "big", sess.Model())
	_, err = a.RunTurn(context.Background(), sess, "one")
	require.NoError(t, err)

	sess.SetModel("small")
	_, err = a.RunTurn(context.Background(), sess, "two")
	require.NoError(t, err)

	require.Equal(t, "cloud", s.Requests[0].Provider.Name)
	require.Equal(t, "big", s.Requests[0].Model)
	require.Equal(t, "small", s.Requests[1].Model)
	require.Equal(t, []string{"cloud", "local"}, a.Providers())
}

func TestSessionsAreReused(t *testing.T) {
	a, _ := newTestAgent(t, &llmmock.Streamer{}, config.AgentConfig{})
	s1, err := a.Session("x")
	require.NoError(t, err)
	s2, err := a.Session("x")
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, 1, a.Sessions())

	a.CloseSession("x")
	require.Zero(t, a.Sessions())
}

func TestHistoryTrimmedBetweenIterations(t *testing.T) {
	var replies []llmmock.Reply
	for i := 0; i < 6; i++ {
		replies = append(replies, llmmock.Complete(call(tools.ToolPwd, `{}`)))
	}
	replies = append(replies, llmmock.Complete("done"))
	s := &llmmock.Streamer{Replies: replies}
	a, _ := newTestAgent(t, s, config.AgentConfig{HistoryCap: 5})
	sess, err := a.Session("trim")
	require.NoError(t, err)

	_, err = a.RunTurn(context.Background(), sess, "go")
	require.NoError(t, err)
	for _, req := range s.Requests {
		require.LessOrEqual(t, len(req.Messages), 5)
		require.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	}
}
