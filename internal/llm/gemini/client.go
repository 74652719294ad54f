package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

// Config for the Vertex AI Gemini client.
type Config struct {
	ProjectID string
	Region    string
	Model     string
	MaxTokens int
}

type Client struct {
	cfg    Config
	api    *genai.Client
	logger *slog.Logger
}

var _ llm.Provider = (*Client)(nil)

// NewClient dials Vertex AI with application default credentials.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("gemini: project id and region cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if logger == nil {
		logger = slog.Default()
	}
	api, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{cfg: cfg, api: api, logger: logger}, nil
}

func (c *Client) Name() string { return llm.ProviderGemini }

func (c *Client) Close() error {
	if c.api != nil {
		return c.api.Close()
	}
	return nil
}

// Complete builds a model per call so per-request settings never leak
// between concurrent documents.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	name := req.Model
	if name == "" {
		name = c.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	model := c.api.GenerativeModel(name)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: genai.Ptr(int32(maxTokens)),
	}
	if req.JSON {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData(imageFormat(img.MIMEType), img.Data))
	}
	parts = append(parts, genai.Text(req.Prompt))

	callCtx, cancel := llm.WithTimeout(ctx, req)
	defer cancel()

	resp, err := model.GenerateContent(callCtx, parts...)
	if err != nil {
		err = classify(err)
		c.logger.Error("llm.gemini.error", "model", name, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	content := responseText(resp)
	if content == "" {
		return nil, fmt.Errorf("no text content in gemini response")
	}
	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	c.logger.Info("llm.gemini.ok",
		"model", name,
		"tokens", tokens,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &llm.Response{Content: content, Provider: llm.ProviderGemini, Model: name, TokensUsed: tokens}, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}

func imageFormat(mimeType string) string {
	if f, ok := strings.CutPrefix(mimeType, "image/"); ok && f != "" {
		return f
	}
	return "jpeg"
}

func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return llm.ClassifyTransport(fmt.Errorf("gemini: %w", err))
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return fmt.Errorf("%w: gemini: %v", common.ErrRateLimited, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: gemini: %v", common.ErrProviderTimeout, err)
	case codes.Unavailable, codes.Internal, codes.Aborted:
		return fmt.Errorf("%w: gemini: %v", common.ErrConnection, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
