// Package openai encodes chat requests for and decodes Server-Sent-Events
// lines from OpenAI-compatible gateways.
package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/netoneko/meow/internal/jsonscan"
	"github.com/netoneko/meow/internal/llm"
)

const doneSentinel = "[DONE]"

type openAIChatRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Stream    bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPath returns the completions path for a provider. A base URL already
// ending in /v1 gets /chat/completions; otherwise a configured custom base
// path is used, falling back to /v1/chat/completions.
func ChatPath(basePath string, p llm.Provider) string {
	base := strings.TrimRight(basePath, "/")
	switch {
	case strings.HasSuffix(base, "/v1"):
		return base + "/chat/completions"
	case strings.Trim(p.BasePath, "/") != "":
		return base + "/" + strings.Trim(p.BasePath, "/") + "/chat/completions"
	default:
		return base + "/v1/chat/completions"
	}
}

// BuildRequest encodes a streaming chat completion request. basePath is the
// path component of the provider's base URL.
func BuildRequest(p llm.Provider, basePath, model string, msgs []llm.ChatMessage, maxTokens int) (llm.WireRequest, error) {
	if model == "" {
		return llm.WireRequest{}, fmt.Errorf("model is required")
	}

	body := openAIChatRequest{
		Model:     model,
		Messages:  toOpenAIMessages(msgs),
		MaxTokens: maxTokens,
		Stream:    true,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.WireRequest{}, fmt.Errorf("marshal request: %w", err)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")
	if p.APIKey != "" {
		header.Set("Authorization", "Bearer "+p.APIKey)
	}
	return llm.WireRequest{Path: ChatPath(basePath, p), Header: header, Body: payload}, nil
}

// DecodeLine decodes one SSE line. Only data: lines carry content; the
// [DONE] payload completes the stream.
func DecodeLine(line string) llm.Frame {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return llm.Frame{}
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	switch payload {
	case "":
		return llm.Frame{}
	case doneSentinel:
		return llm.Frame{Done: true}
	}

	if errObj, ok := jsonscan.ObjectField(payload, "error"); ok {
		msg, _ := jsonscan.StringField(errObj, "message")
		if msg == "" {
			msg = errObj
		}
		return llm.Frame{Err: msg}
	}

	delta, ok := jsonscan.ObjectField(payload, "delta")
	if !ok {
		return llm.Frame{}
	}
	content, _ := jsonscan.StringField(delta, "content")
	return llm.Frame{Content: content}
}

func toOpenAIMessages(msgs []llm.ChatMessage) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openAIMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
