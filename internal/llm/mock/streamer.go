// Package mock provides a scripted stand-in for the streaming client.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/netoneko/meow/internal/llm"
	"github.com/netoneko/meow/internal/llm/stream"
)

// Reply is one scripted response.
type Reply struct {
	Text    string
	Partial bool
	Err     error
}

// Streamer replays Replies in order and records every request it receives.
type Streamer struct {
	mu       sync.Mutex
	Replies  []Reply
	SendFn   func(ctx context.Context, req stream.Request) (llm.StreamOutcome, error)
	Requests []stream.Request
}

// Complete is shorthand for a completed reply.
func Complete(text string) Reply {
	return Reply{Text: text}
}

// Partial is shorthand for a reply cut off before completion.
func Partial(text string) Reply {
	return Reply{Text: text, Partial: true}
}

func (s *Streamer) Send(ctx context.Context, req stream.Request) (llm.StreamOutcome, error) {
	s.mu.Lock()
	msgs := make([]llm.ChatMessage, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	s.Requests = append(s.Requests, req)
	idx := len(s.Requests) - 1
	s.mu.Unlock()

	if s.SendFn != nil {
		return s.SendFn(ctx, req)
	}
	if err := ctx.Err(); err != nil {
		return llm.StreamOutcome{}, llm.NewError(llm.KindCancelled, "stream", err)
	}
	if idx >= len(s.Replies) {
		return llm.StreamOutcome{}, fmt.Errorf("mock: no reply scripted for call %d", idx+1)
	}
	r := s.Replies[idx]
	if r.Err != nil {
		return llm.StreamOutcome{}, r.Err
	}
	if req.Hooks.OnDelta != nil && r.Text != "" {
		req.Hooks.OnDelta(r.Text)
	}
	return llm.StreamOutcome{Complete: !r.Partial, Text: r.Text}, nil
}

// Calls returns the number of requests seen so far.
func (s *Streamer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
