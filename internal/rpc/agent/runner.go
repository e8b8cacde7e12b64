package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/netoneko/meow/internal/agent"
	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/rpc"
)

// DefaultSessionTTL is how long an idle named session is kept.
const DefaultSessionTTL = 30 * time.Minute

// AgentRunner bridges the agent core to RPC events. Turns of one session
// run one at a time; a second request for a busy session waits.
//
// Sessions created for a request without a session id are closed when the
// turn ends. Named sessions are closed once idle for longer than TTL.
type AgentRunner struct {
	Agent  *agent.Agent
	Logger *zap.Logger
	TTL    time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionSlot
	now      func() time.Time
}

type sessionSlot struct {
	turn     sync.Mutex
	active   int
	lastUsed time.Time
}

// NewAgentRunner creates a runner over a.
func NewAgentRunner(a *agent.Agent, logger *zap.Logger) *AgentRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentRunner{
		Agent:    a,
		Logger:   logger,
		TTL:      DefaultSessionTTL,
		sessions: make(map[string]*sessionSlot),
		now:      time.Now,
	}
}

// Run executes one turn and streams its events. The channel is closed when
// the turn ends.
func (r *AgentRunner) Run(ctx context.Context, req rpc.RunTurnRequest) (<-chan rpc.Event, error) {
	if r.Agent == nil {
		return nil, errors.New("agent unavailable")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	oneShot := req.SessionID == ""
	if oneShot {
		req.SessionID = uuid.NewString()
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	r.evictIdle()
	slot := r.acquire(req.SessionID)
	sess, err := r.Agent.Session(req.SessionID)
	if err != nil {
		r.release(req.SessionID, slot, true)
		return nil, err
	}

	out := make(chan rpc.Event, 64)
	go func() {
		defer close(out)
		defer r.release(req.SessionID, slot, oneShot)

		slot.turn.Lock()
		defer slot.turn.Unlock()

		emit := func(ev rpc.Event) {
			ev.SessionID, ev.CorrelationID = req.SessionID, req.CorrelationID
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		fail := func(err error) {
			emit(rpc.Event{Type: rpc.EventError, Error: err.Error(), ErrorKind: string(llm.KindOf(err))})
		}

		if req.Provider != "" {
			if err := r.Agent.SwitchProvider(sess, req.Provider); err != nil {
				fail(err)
				return
			}
		}
		if req.Model != "" {
			sess.SetModel(req.Model)
		}

		sess.Hooks = agent.Hooks{
			OnStatus: func(phase string, elapsed time.Duration) {
				emit(rpc.Event{Type: rpc.EventStatus, Phase: phase, ElapsedMs: elapsed.Milliseconds()})
			},
			OnDelta: func(text string) {
				emit(rpc.Event{Type: rpc.EventDelta, Delta: text})
			},
			OnTool: func(ev agent.ToolEvent) {
				emit(rpc.Event{
					Type:         rpc.EventTool,
					ToolName:     ev.Tool,
					ToolSuccess:  ev.Result.Success,
					ToolOutput:   ev.Result.Output,
					OverflowPath: ev.Result.OverflowPath,
					ErrorKind:    string(ev.Result.Kind),
				})
			},
		}
		defer func() { sess.Hooks = agent.Hooks{} }()

		res, err := r.Agent.RunTurn(ctx, sess, req.Prompt)
		if err != nil {
			r.Logger.Debug("turn failed",
				zap.String("session", req.SessionID),
				zap.String("correlation", req.CorrelationID),
				zap.Error(err),
			)
			fail(err)
			return
		}
		if res.Text != "" {
			emit(rpc.Event{Type: rpc.EventMessage, Message: res.Text})
		}
		emit(rpc.Event{
			Type:       rpc.EventDone,
			Done:       true,
			Success:    res.Success,
			Reason:     res.Reason,
			Iterations: res.Iterations,
			ToolCalls:  res.ToolCalls,
			TTFTMs:     res.Stats.TimeToFirstToken.Milliseconds(),
			DurationMs: res.Stats.Duration.Milliseconds(),
			Bytes:      res.Stats.Bytes,
		})
	}()
	return out, nil
}

// Cancel aborts the running turn of a session.
func (r *AgentRunner) Cancel(sessionID string) error {
	sess, ok := r.Agent.Lookup(sessionID)
	if !ok {
		return fmt.Errorf("session %q not found", sessionID)
	}
	sess.Cancel()
	return nil
}

// Sessions returns the number of sessions the runner is tracking.
func (r *AgentRunner) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *AgentRunner) acquire(id string) *sessionSlot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == nil {
		r.sessions = make(map[string]*sessionSlot)
	}
	slot, ok := r.sessions[id]
	if !ok {
		slot = &sessionSlot{}
		r.sessions[id] = slot
	}
	slot.active++
	return slot
}

// release ends one request on a session. With closeIdle set the session is
// closed as soon as no other request holds it.
func (r *AgentRunner) release(id string, slot *sessionSlot, closeIdle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot.active--
	slot.lastUsed = r.clock()
	if closeIdle && slot.active == 0 && r.sessions[id] == slot {
		delete(r.sessions, id)
		r.Agent.CloseSession(id)
	}
}

// evictIdle closes named sessions unused for longer than TTL. Sessions are
// closed under the runner lock so a concurrent acquire sees either the old
// session or none.
func (r *AgentRunner) evictIdle() {
	if r.TTL <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	for id, slot := range r.sessions {
		if slot.active == 0 && now.Sub(slot.lastUsed) > r.TTL {
			delete(r.sessions, id)
			r.Agent.CloseSession(id)
			r.Logger.Debug("session expired", zap.String("session", id))
		}
	}
}

func (r *AgentRunner) clock() time.Time {
	if r.now == nil {
		return time.Now()
	}
	return r.now()
}
