package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/netoneko/meow/internal/history"
	"github.com/netoneko/meow/internal/llm"
)

// ErrTurnCancelled is the cancellation cause set by Session.Cancel.
var ErrTurnCancelled = errors.New("turn cancelled")

// Session is the per-conversation state: history, the active provider and
// model, and the cancel switch of the running turn. The history is owned by
// the agent loop; other layers may only read it or call Cancel.
type Session struct {
	ID    string
	Hooks Hooks

	history *history.Manager

	mu       sync.Mutex
	provider llm.Provider
	model    string
	cancel   context.CancelCauseFunc

	turn sync.Mutex // one active turn per session
}

// NewSession creates a session seeded with systemPrompt.
func NewSession(id, systemPrompt string, historyCap int, provider llm.Provider, model string) *Session {
	return &Session{
		ID:       id,
		history:  history.New(systemPrompt, historyCap),
		provider: provider,
		model:    model,
	}
}

// History exposes the conversation log.
func (s *Session) History() *history.Manager {
	return s.history
}

// SetProvider switches provider for subsequent turns; the model falls back
// to the provider default unless set explicitly afterwards.
func (s *Session) SetProvider(p llm.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
	s.model = ""
}

// SetModel overrides the model for subsequent turns.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// Provider returns the active provider.
func (s *Session) Provider() llm.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// Model returns the active model, defaulting to the provider's.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != "" {
		return s.model
	}
	return s.provider.Model
}

// Cancel aborts the running turn, if any. It is safe to call from any
// goroutine.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel(ErrTurnCancelled)
	}
}

// begin derives the turn context and registers its cancel function.
func (s *Session) begin(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return ctx, func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel(nil)
	}
}
