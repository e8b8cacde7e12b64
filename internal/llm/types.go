package llm

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Role is the message role used in chat exchanges.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage represents a single message exchanged with the model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Dialect identifies the wire format spoken by a provider.
type Dialect string

const (
	DialectOllama Dialect = "ollama"
	DialectOpenAI Dialect = "openai"
)

// ParseDialect maps configuration provider types onto a dialect.
func ParseDialect(typ string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "ollama":
		return DialectOllama, nil
	case "openai", "openrouter", "vllm", "lmstudio", "custom":
		return DialectOpenAI, nil
	default:
		return "", fmt.Errorf("unknown provider type %q", typ)
	}
}

// Provider describes an LLM backend endpoint. It is immutable for the
// duration of a request.
type Provider struct {
	Name      string
	BaseURL   string
	BasePath  string // optional custom path prefix for OpenAI-compatible gateways
	Dialect   Dialect
	APIKey    string
	Model     string // default model when the session does not pick one
	MaxTokens int
}

// Endpoint parses BaseURL and reports whether the connection must use TLS.
func (p Provider) Endpoint() (*url.URL, bool, error) {
	u, err := url.Parse(strings.TrimRight(p.BaseURL, "/"))
	if err != nil {
		return nil, false, fmt.Errorf("parse base url %q: %w", p.BaseURL, err)
	}
	switch u.Scheme {
	case "https":
		return u, true, nil
	case "http":
		return u, false, nil
	default:
		return nil, false, fmt.Errorf("unsupported scheme %q in base url %q", u.Scheme, p.BaseURL)
	}
}

// StreamStats carries user-facing telemetry for one streamed response.
type StreamStats struct {
	TimeToFirstToken time.Duration
	Duration         time.Duration
	Bytes            int
}

// StreamOutcome is the result of a streamed completion. When Complete is
// false the transport ended before the dialect's completion signal and Text
// is a prefix to be continued, not a final answer.
type StreamOutcome struct {
	Complete bool
	Text     string
	Stats    StreamStats
}

// Partial reports whether the outcome must be continued.
func (o StreamOutcome) Partial() bool {
	return !o.Complete
}

// WireRequest is a dialect-specific HTTP request ready to be written to a
// connection.
type WireRequest struct {
	Path   string
	Header http.Header
	Body   []byte
}

// Frame is the decoded content of one stream line.
type Frame struct {
	Content string
	Done    bool
	Err     string // in-stream error reported by the server
}
