package llm

import (
	"context"
	"time"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Image is an inline image attached to a vision request.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one text or vision completion.
type Request struct {
	System      string
	Prompt      string
	Images      []Image
	JSON        bool // ask for a JSON object response
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Response is the raw completion text plus accounting.
type Response struct {
	Content    string
	Provider   string
	Model      string
	TokensUsed int
}

// Provider is the LLM text/vision port.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// WithTimeout applies req.Timeout to ctx when set.
func WithTimeout(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	if req.Timeout > 0 {
		return context.WithTimeout(ctx, req.Timeout)
	}
	return context.WithCancel(ctx)
}
