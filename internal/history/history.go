// Package history keeps the bounded conversation log sent to the model.
package history

import (
	"fmt"

	"github.com/netoneko/meow/internal/llm"
)

const (
	// DefaultCap is the maximum number of messages kept after Trim.
	DefaultCap = 10
	// MessageOverhead is the fixed per-message token cost.
	MessageOverhead = 4

	compactAck = "Understood. I have the summary of our previous conversation and will continue from there."
)

// EstimateTokens approximates token usage as ceil(len/4) over bytes.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// MessageTokens is the estimated cost of one message.
func MessageTokens(m llm.ChatMessage) int {
	return EstimateTokens(string(m.Role)) + EstimateTokens(m.Content) + MessageOverhead
}

// Manager owns the message log. Index 0 is always the system prompt.
// It is not safe for concurrent use.
type Manager struct {
	messages []llm.ChatMessage
	limit    int
}

// New creates a log seeded with the system prompt. A cap below 3 falls back
// to DefaultCap.
func New(systemPrompt string, limit int) *Manager {
	if limit < 3 {
		limit = DefaultCap
	}
	return &Manager{
		messages: []llm.ChatMessage{{Role: llm.RoleSystem, Content: systemPrompt}},
		limit:    limit,
	}
}

// Append adds messages to the end of the log.
func (m *Manager) Append(msgs ...llm.ChatMessage) {
	m.messages = append(m.messages, msgs...)
}

// AppendUser is shorthand for appending a user message.
func (m *Manager) AppendUser(content string) {
	m.Append(llm.ChatMessage{Role: llm.RoleUser, Content: content})
}

// AppendAssistant is shorthand for appending an assistant message.
func (m *Manager) AppendAssistant(content string) {
	m.Append(llm.ChatMessage{Role: llm.RoleAssistant, Content: content})
}

// Messages returns a copy of the log.
func (m *Manager) Messages() []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *Manager) Len() int {
	return len(m.messages)
}

func (m *Manager) Cap() int {
	return m.limit
}

// SystemPrompt returns the content of message 0.
func (m *Manager) SystemPrompt() string {
	return m.messages[0].Content
}

// TotalTokens sums the estimated cost of every message.
func (m *Manager) TotalTokens() int {
	total := 0
	for _, msg := range m.messages {
		total += MessageTokens(msg)
	}
	return total
}

// Trim removes the oldest messages after the system prompt until the log is
// within the cap. It returns the number of messages removed.
func (m *Manager) Trim() int {
	if len(m.messages) <= m.limit {
		return 0
	}
	drop := len(m.messages) - m.limit
	m.messages = append(m.messages[:1], m.messages[1+drop:]...)
	return drop
}

// Compact replaces the log with the system prompt, a user message carrying
// summary and a fixed acknowledgement.
func (m *Manager) Compact(summary string) {
	m.messages = []llm.ChatMessage{
		m.messages[0],
		{Role: llm.RoleUser, Content: fmt.Sprintf("Summary of the conversation so far:\n%s", summary)},
		{Role: llm.RoleAssistant, Content: compactAck},
	}
}

// DropTail removes up to n messages from the end, never the system prompt.
func (m *Manager) DropTail(n int) {
	if n > len(m.messages)-1 {
		n = len(m.messages) - 1
	}
	if n > 0 {
		m.messages = m.messages[:len(m.messages)-n]
	}
}

// Reset drops everything except the system prompt.
func (m *Manager) Reset() {
	m.messages = m.messages[:1:1]
}
