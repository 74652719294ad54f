// Package llmtest provides an in-memory llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/joseph-ayodele/docflow/internal/llm"
)

// Fake answers each call with Respond, recording every request.
type Fake struct {
	ProviderName string
	Respond      func(ctx context.Context, call int, req llm.Request) (string, error)

	mu       sync.Mutex
	requests []llm.Request
}

var _ llm.Provider = (*Fake)(nil)

// Static returns a Fake that always answers content.
func Static(name, content string) *Fake {
	return &Fake{ProviderName: name, Respond: func(context.Context, int, llm.Request) (string, error) {
		return content, nil
	}}
}

// Failing returns a Fake that always fails with err.
func Failing(name string, err error) *Fake {
	return &Fake{ProviderName: name, Respond: func(context.Context, int, llm.Request) (string, error) {
		return "", err
	}}
}

func (f *Fake) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

func (f *Fake) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := f.Respond(ctx, call, req)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Content: content, Provider: f.Name(), Model: "fake-model", TokensUsed: len(content) / 4}, nil
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

// Calls reports how many requests were made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
