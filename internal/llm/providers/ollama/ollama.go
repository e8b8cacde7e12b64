// Package ollama encodes chat requests for and decodes NDJSON stream lines
// from Ollama-style servers.
package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/netoneko/meow/internal/jsonscan"
	"github.com/netoneko/meow/internal/llm"
)

// ChatPath is the fixed streaming chat endpoint.
const ChatPath = "/api/chat"

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequest encodes a streaming chat request.
func BuildRequest(model string, msgs []llm.ChatMessage, maxTokens int) (llm.WireRequest, error) {
	if model == "" {
		return llm.WireRequest{}, fmt.Errorf("model is required")
	}

	body := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(msgs),
		Stream:   true,
		Options: map[string]interface{}{
			"num_predict": maxTokens,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.WireRequest{}, fmt.Errorf("marshal request: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/x-ndjson")
	return llm.WireRequest{Path: ChatPath, Header: header, Body: payload}, nil
}

// DecodeLine decodes one NDJSON line. Both message.content and a top-level
// content field are recognised; unknown fields are ignored.
func DecodeLine(line string) llm.Frame {
	line = strings.TrimSpace(line)
	if line == "" {
		return llm.Frame{}
	}
	if msg, ok := jsonscan.StringField(line, "error"); ok {
		return llm.Frame{Err: msg}
	}

	var f llm.Frame
	if content, ok := jsonscan.StringField(line, "content"); ok {
		f.Content = content
	}
	if done, ok := jsonscan.BoolField(line, "done"); ok && done {
		f.Done = true
	}
	return f
}

func toOllamaMessages(msgs []llm.ChatMessage) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollamaMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
