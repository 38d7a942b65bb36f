package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cheonkimoon/internal/provider"
)

const apiVersion = "2023-06-01"

type AnthropicProvider struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewAnthropicProvider(baseURL, apiKey string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &AnthropicProvider{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
	}
}

func (p *AnthropicProvider) Name() string { return provider.ProviderAnthropic }

// Anthropic structures
type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type AnthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	Content    []AnthropicContent `json:"content"`
	StopReason *string            `json:"stop_reason"`
	Usage      *Usage             `json:"usage,omitempty"`
}

type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Anthropic Streaming Events
type AnthropicEvent struct {
	Type    string             `json:"type"`
	Message *AnthropicResponse `json:"message,omitempty"`
	Delta   *AnthropicDelta    `json:"delta,omitempty"`
	Usage   *Usage             `json:"usage,omitempty"`
	Error   *AnthropicError    `json:"error,omitempty"`
}

type AnthropicDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type AnthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) buildRequest(req provider.Request, stream bool) AnthropicRequest {
	anthropicReq := AnthropicRequest{
		Model:     req.Model,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Messages:  []AnthropicMessage{},
		Stream:    stream,
	}
	if anthropicReq.MaxTokens <= 0 {
		anthropicReq.MaxTokens = 4096 // Anthropic requires max_tokens
	}
	if req.Temperature > 0 {
		t := req.Temperature
		anthropicReq.Temperature = &t
	}
	for _, msg := range req.Messages {
		anthropicReq.Messages = append(anthropicReq.Messages, AnthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	return anthropicReq
}

func (p *AnthropicProvider) post(ctx context.Context, body AnthropicRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	return p.HTTPClient.Do(httpReq)
}

func (p *AnthropicProvider) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	start := time.Now()

	resp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var anthroResp AnthropicResponse
	if err := json.Unmarshal(bodyBytes, &anthroResp); err != nil {
		return nil, fmt.Errorf("failed to decode anthropic response: %v. Response body: %s", err, provider.Preview(bodyBytes))
	}

	var sb strings.Builder
	for _, block := range anthroResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	completion := &provider.Completion{
		ID:           anthroResp.ID,
		Model:        req.Model,
		Text:         sb.String(),
		FinishReason: "stop",
		Duration:     time.Since(start),
	}
	if anthroResp.StopReason != nil {
		completion.FinishReason = *anthroResp.StopReason
	}
	if anthroResp.Usage != nil {
		completion.Usage = provider.Usage{InputTokens: anthroResp.Usage.InputTokens, OutputTokens: anthroResp.Usage.OutputTokens}
	}
	return completion, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req provider.Request, outputChan chan<- provider.StreamChunk) error {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic stream error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var usage provider.Usage
	stopReason := ""

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		dataStr := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event AnthropicEvent
		if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if err := provider.Send(ctx, outputChan, provider.StreamChunk{Text: event.Delta.Text}); err != nil {
					return err
				}
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		case "error":
			if event.Error != nil {
				return fmt.Errorf("anthropic stream error: %s - %s", event.Error.Type, event.Error.Message)
			}
			return fmt.Errorf("anthropic stream error: %s", dataStr)
		case "message_stop":
			return provider.Send(ctx, outputChan, provider.StreamChunk{FinishReason: stopReason, Usage: &usage})
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("anthropic stream read: %w", err)
	}
	return provider.Send(ctx, outputChan, provider.StreamChunk{FinishReason: stopReason, Usage: &usage})
}
