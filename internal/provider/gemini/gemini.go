package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cheonkimoon/internal/provider"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, baseURL, apiKey string) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(baseURL, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return provider.ProviderGemini }

// toContents maps our roles onto Gemini's user/model roles.
func toContents(msgs []provider.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		var role genai.Role = genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

func buildConfig(req provider.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	return cfg
}

// responseText concatenates the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// finishReason normalises Gemini's STOP/MAX_TOKENS to lower case.
func finishReason(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	return strings.ToLower(string(resp.Candidates[0].FinishReason))
}

func usageOf(resp *genai.GenerateContentResponse) (provider.Usage, bool) {
	if resp == nil || resp.UsageMetadata == nil {
		return provider.Usage{}, false
	}
	return provider.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}, true
}

func (p *GeminiProvider) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	start := time.Now()

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, toContents(req.Messages), buildConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	completion := &provider.Completion{
		ID:           resp.ResponseID,
		Model:        req.Model,
		Text:         responseText(resp),
		FinishReason: finishReason(resp),
		Duration:     time.Since(start),
	}
	if u, ok := usageOf(resp); ok {
		completion.Usage = u
	}
	return completion, nil
}

func (p *GeminiProvider) Stream(ctx context.Context, req provider.Request, outputChan chan<- provider.StreamChunk) error {
	final := provider.StreamChunk{Usage: &provider.Usage{}}

	for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, toContents(req.Messages), buildConfig(req)) {
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("gemini stream error: %w", err)
		}
		if u, ok := usageOf(resp); ok {
			*final.Usage = u
		}
		if fr := finishReason(resp); fr != "" {
			final.FinishReason = fr
		}
		if text := responseText(resp); text != "" {
			if err := provider.Send(ctx, outputChan, provider.StreamChunk{Text: text}); err != nil {
				return err
			}
		}
	}
	return provider.Send(ctx, outputChan, final)
}
