package provider

import (
	"context"
	"time"
)

// Message is one conversation turn. Role is "user" or "assistant"; the
// system prompt travels separately in Request.System.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single prompt sent to a model.
type Request struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
}

// UserRequest builds the common single-turn request.
func UserRequest(model, system, user string, maxTokens int, temperature float64) Request {
	return Request{
		Model:       model,
		System:      system,
		Messages:    []Message{{Role: "user", Content: user}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the result of a non-streaming call.
type Completion struct {
	ID           string        `json:"id"`
	Model        string        `json:"model"`
	Text         string        `json:"text"`
	FinishReason string        `json:"finish_reason"`
	Usage        Usage         `json:"usage"`
	Duration     time.Duration `json:"-"`
}

// StreamChunk carries either a text delta or, at the end of a stream, the
// usage totals reported by the upstream.
type StreamChunk struct {
	Text         string
	FinishReason string
	Usage        *Usage
}

// Provider is implemented by each upstream LLM backend.
//
// Stream sends chunks to outputChan until the upstream finishes and then
// returns; it never closes outputChan. It returns ctx.Err() if the consumer
// goes away.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
	Stream(ctx context.Context, req Request, outputChan chan<- StreamChunk) error
}

// Send delivers chunk unless ctx is cancelled first.
func Send(ctx context.Context, outputChan chan<- StreamChunk, chunk StreamChunk) error {
	select {
	case outputChan <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Preview truncates an upstream body for error messages.
func Preview(body []byte) string {
	preview := string(body)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return preview
}

// Constants for provider names
const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)
