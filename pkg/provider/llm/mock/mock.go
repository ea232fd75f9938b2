// Package mock provides a hand-written mock implementation of
// [llm.Provider] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/chimebot/chime/pkg/provider/llm"
)

// Compile-time assertion that Provider satisfies llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider is a scriptable llm.Provider. Responses are consumed in order;
// once the scripted responses are exhausted the last one repeats. The
// zero value returns an empty completion.
//
// All methods are safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls, in order.
	Responses []llm.CompletionResponse

	// Errs are returned by successive Complete calls, in order. A nil
	// entry means the corresponding call succeeds.
	Errs []error

	// Requests records every request passed to Complete or
	// StreamCompletion, in call order.
	Requests []llm.CompletionRequest

	calls int
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	i := p.calls
	p.calls++

	if i < len(p.Errs) && p.Errs[i] != nil {
		return nil, p.Errs[i]
	}

	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	if i >= len(p.Responses) {
		i = len(p.Responses) - 1
	}
	resp := p.Responses[i]
	return &resp, nil
}

// StreamCompletion implements llm.Provider by emitting the scripted
// completion as a single chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: resp.Content}
	ch <- llm.Chunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// Calls returns the number of Complete/StreamCompletion invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
