package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/config"
	"github.com/netoneko/meow/internal/history"
	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/llm/stream"
	"github.com/netoneko/meow/internal/toolcall"
	"github.com/netoneko/meow/internal/tools"
)

// Agent drives conversational turns: it streams model output, runs the tool
// calls it contains and feeds the results back until the model answers.
type Agent struct {
	streamer   Streamer
	dispatcher Dispatcher
	providers  *llm.Registry
	cfg        config.AgentConfig
	logger     *zap.Logger
	metrics    Recorder

	intent       phraseSet
	fake         phraseSet
	systemPrompt string

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a new Agent.
func New(streamer Streamer, dispatcher Dispatcher, providers *llm.Registry, cfg config.AgentConfig, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	return &Agent{
		streamer:     streamer,
		dispatcher:   dispatcher,
		providers:    providers,
		cfg:          cfg,
		logger:       logger,
		intent:       newPhraseSet(cfg.IntentPhrases, DefaultIntentPhrases),
		fake:         newPhraseSet(cfg.FakeResultPhrases, DefaultFakeResultPhrases),
		systemPrompt: BuildSystemPrompt(cfg, dispatcher.Registry().Schemas()),
		sessions:     make(map[string]*Session),
	}
}

// SetRecorder attaches turn telemetry.
func (a *Agent) SetRecorder(r Recorder) {
	a.metrics = r
}

// SystemPrompt returns the prompt every session starts with.
func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// Session returns the session with the given id, creating it on first use
// with the default provider. An empty id gets a fresh random one.
func (a *Agent) Session(id string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}
	if s, ok := a.sessions[id]; ok {
		return s, nil
	}
	p, err := a.providers.Resolve("")
	if err != nil {
		return nil, err
	}
	s := NewSession(id, a.systemPrompt, a.cfg.HistoryCap, p, "")
	a.sessions[id] = s
	return s, nil
}

// Lookup returns an existing session.
func (a *Agent) Lookup(id string) (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	return s, ok
}

// CloseSession cancels and forgets a session.
func (a *Agent) CloseSession(id string) {
	a.mu.Lock()
	s, ok := a.sessions[id]
	delete(a.sessions, id)
	a.mu.Unlock()
	if ok {
		s.Cancel()
	}
}

// Sessions returns the number of live sessions.
func (a *Agent) Sessions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// SwitchProvider points a session at another registered provider.
func (a *Agent) SwitchProvider(s *Session, name string) error {
	p, err := a.providers.Resolve(name)
	if err != nil {
		return err
	}
	s.SetProvider(p)
	return nil
}

// Providers lists the registered provider names.
func (a *Agent) Providers() []string {
	return a.providers.Names()
}

// RunTurn processes one user input to completion. Turns of one session are
// serialized. Stream failures, including cancellation, end the turn with an
// error; running out of iterations ends it with Success false.
func (a *Agent) RunTurn(ctx context.Context, s *Session, input string) (TurnResult, error) {
	if strings.TrimSpace(input) == "" {
		return TurnResult{}, fmt.Errorf("input is required")
	}
	s.turn.Lock()
	defer s.turn.Unlock()

	ctx, done := s.begin(ctx)
	defer done()

	t := &turn{agent: a, session: s, hist: s.history}
	t.hist.AppendUser(input)

	res, err := t.run(ctx)
	reason := res.Reason
	if err != nil {
		reason = ReasonError
		if llm.KindOf(err) == llm.KindCancelled {
			reason = ReasonCancelled
		}
	}
	if a.metrics != nil {
		a.metrics.RecordTurn(reason, res.Iterations)
	}
	fields := []zap.Field{
		zap.String("session", s.ID),
		zap.String("reason", reason),
		zap.Int("iterations", res.Iterations),
		zap.Int("tool_calls", res.ToolCalls),
		zap.Int("history", t.hist.Len()),
	}
	if err != nil {
		a.logger.Info("turn ended", append(fields, zap.Error(err))...)
		return res, err
	}
	a.logger.Info("turn ended", fields...)
	return res, nil
}

// turn is the state of one RunTurn call.
type turn struct {
	agent   *Agent
	session *Session
	hist    *history.Manager

	partials   []string
	dispatched int
}

func (t *turn) run(ctx context.Context) (TurnResult, error) {
	a := t.agent
	var res TurnResult

	for res.Iterations < a.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			t.collapsePartials()
			return res, llm.NewError(llm.KindCancelled, "turn", context.Cause(ctx))
		}
		res.Iterations++

		if len(t.partials) == 0 {
			if n := t.hist.Trim(); n > 0 {
				a.logger.Debug("history trimmed", zap.String("session", t.session.ID), zap.Int("removed", n))
			}
		}

		out, err := a.streamer.Send(ctx, stream.Request{
			Model:        t.session.Model(),
			Provider:     t.session.Provider(),
			Messages:     t.hist.Messages(),
			Continuation: len(t.partials) > 0,
			Hooks: stream.Hooks{
				OnStatus: t.session.Hooks.OnStatus,
				OnDelta:  t.session.Hooks.OnDelta,
			},
		})
		if err != nil {
			t.collapsePartials()
			if errors.Is(context.Cause(ctx), ErrTurnCancelled) && llm.KindOf(err) != llm.KindCancelled {
				err = llm.NewError(llm.KindCancelled, "turn", err)
			}
			return res, err
		}
		res.Stats = out.Stats

		if out.Partial() {
			t.partials = append(t.partials, out.Text)
			t.hist.AppendAssistant(out.Text)
			t.hist.AppendUser(continuePrompt)
			a.logger.Debug("partial response, continuing",
				zap.String("session", t.session.ID),
				zap.Int("fragments", len(t.partials)),
			)
			continue
		}

		text := out.Text
		if len(t.partials) > 0 {
			t.hist.DropTail(2 * len(t.partials))
			text = strings.Join(t.partials, "") + text
			t.partials = nil
		}

		// Tool call arguments may legitimately quote result markers.
		if prose, _ := toolcall.Extract(text); a.fake.contains(prose) {
			a.logger.Warn("model fabricated a tool result", zap.String("session", t.session.ID))
			t.hist.AppendAssistant(text)
			t.hist.AppendUser(fabricatedPrompt)
			continue
		}

		segs := toolcall.ExtractSegments(text)
		if summary, ok := compactRequest(segs); ok {
			t.hist.Compact(summary)
			res.Success, res.Reason, res.Text = true, ReasonCompacted, text
			return res, nil
		}

		calls, err := t.dispatchSegments(ctx, segs)
		res.ToolCalls += calls
		if err != nil {
			return res, err
		}
		if calls > 0 {
			continue
		}

		if t.dispatched == 0 && a.intent.atSentenceStart(text) {
			a.logger.Debug("intent without tool call", zap.String("session", t.session.ID))
			t.hist.AppendAssistant(text)
			t.hist.AppendUser(intentPrompt)
			continue
		}

		t.hist.AppendAssistant(text)
		res.Success, res.Reason, res.Text = true, ReasonComplete, text
		return res, nil
	}

	t.collapsePartials()
	res.Reason = ReasonMaxIterations
	a.logger.Warn("turn hit iteration limit",
		zap.String("session", t.session.ID),
		zap.Int("max_iterations", a.cfg.MaxIterations),
	)
	return res, nil
}

// dispatchSegments runs every call in order. Each call is preceded in history
// by the assistant prose that introduced it and followed by its result as a
// user message. Envelopes naming unknown tools stay part of the prose.
func (t *turn) dispatchSegments(ctx context.Context, segs []toolcall.Segment) (int, error) {
	calls := 0
	var pending strings.Builder
	for _, seg := range segs {
		pending.WriteString(seg.Prose)
		if seg.Call == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return calls, llm.NewError(llm.KindCancelled, "turn", context.Cause(ctx))
		}

		var (
			name  string
			res   tools.Result
			known bool
		)
		if toolName(seg.Call) == tools.ToolCompactContext {
			name, known = tools.ToolCompactContext, true
			res = tools.Result{Kind: llm.KindParseError, Output: `CompactContext needs {"command":{"tool":"CompactContext","args":{"summary":"..."}}} with a non-empty summary`}
		} else {
			name, res, known = t.agent.dispatcher.DispatchEnvelope(ctx, seg.Call)
		}
		if !known {
			pending.WriteString(seg.Call)
			continue
		}

		t.hist.AppendAssistant(assistantCall(pending.String(), seg.Call))
		pending.Reset()
		t.hist.AppendUser(formatToolResult(name, res))
		calls++
		t.dispatched++
		if t.session.Hooks.OnTool != nil {
			t.session.Hooks.OnTool(ToolEvent{Tool: name, Call: seg.Call, Result: res})
		}
	}
	if calls > 0 {
		if rest := strings.TrimSpace(pending.String()); rest != "" {
			t.hist.AppendAssistant(rest)
		}
	}
	return calls, nil
}

// collapsePartials folds an unfinished continuation chain into one assistant
// message so no dangling continue prompts remain in history.
func (t *turn) collapsePartials() {
	if len(t.partials) == 0 {
		return
	}
	t.hist.DropTail(2 * len(t.partials))
	t.hist.AppendAssistant(strings.Join(t.partials, ""))
	t.partials = nil
}

func assistantCall(prose, call string) string {
	prose = strings.TrimSpace(prose)
	if prose == "" {
		return call
	}
	return prose + "\n" + call
}

// compactRequest finds the first well-formed CompactContext call.
func compactRequest(segs []toolcall.Segment) (string, bool) {
	for _, seg := range segs {
		if seg.Call == "" || !gjson.Valid(seg.Call) {
			continue
		}
		cmd := gjson.Get(seg.Call, "command")
		if cmd.Get("tool").String() != tools.ToolCompactContext {
			continue
		}
		summary := cmd.Get("args.summary")
		if summary.Type == gjson.String && strings.TrimSpace(summary.String()) != "" {
			return strings.TrimSpace(summary.String()), true
		}
	}
	return "", false
}

func toolName(call string) string {
	if !gjson.Valid(call) {
		return ""
	}
	return gjson.Get(call, "command.tool").String()
}
