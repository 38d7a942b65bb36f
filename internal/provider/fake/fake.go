// Package fake is an in-memory provider.Provider for tests.
package fake

import (
	"context"
	"strings"
	"sync"

	"cheonkimoon/internal/provider"
)

type Provider struct {
	Chunks []string
	Usage  provider.Usage
	Err    error
	// Block makes Stream and Complete wait for ctx cancellation.
	Block bool

	mu       sync.Mutex
	requests []provider.Request
}

func (p *Provider) Name() string { return "fake" }

func (p *Provider) Requests() []provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Request(nil), p.requests...)
}

func (p *Provider) track(req provider.Request) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
}

func (p *Provider) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	p.track(req)
	if p.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return &provider.Completion{
		Model:        req.Model,
		Text:         strings.Join(p.Chunks, ""),
		FinishReason: "stop",
		Usage:        p.Usage,
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req provider.Request, outputChan chan<- provider.StreamChunk) error {
	p.track(req)
	for _, c := range p.Chunks {
		if err := provider.Send(ctx, outputChan, provider.StreamChunk{Text: c}); err != nil {
			return err
		}
	}
	if p.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.Err != nil {
		return p.Err
	}
	usage := p.Usage
	return provider.Send(ctx, outputChan, provider.StreamChunk{FinishReason: "stop", Usage: &usage})
}
