package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/joseph-ayodele/docflow/internal/llm"
)

var _ llm.Provider = (*Client)(nil)

func (c *Client) Name() string { return llm.ProviderOpenAI }

// Complete sends one chat completion. Requests with images go to the vision
// model as multi-part user content; JSON requests use json_object mode.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.cfg.Model
		if len(req.Images) > 0 {
			model = c.cfg.VisionModel
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}

	chatReq := goopenai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages:    buildMessages(req),
	}
	if req.JSON {
		chatReq.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	c.logger.Info("llm.openai.request",
		"req_id", rid,
		"model", model,
		"prompt_len", len(req.Prompt),
		"images", len(req.Images),
		"json", req.JSON,
	)

	callCtx, cancel := llm.WithTimeout(ctx, req)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, chatReq)
	if err != nil {
		err = classify(err)
		c.logger.Error("llm.openai.error",
			"req_id", rid,
			"model", model,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in openai response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Info("llm.openai.ok",
		"req_id", rid,
		"model", model,
		"tokens", resp.Usage.TotalTokens,
		"content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &llm.Response{
		Content:    content,
		Provider:   llm.ProviderOpenAI,
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

func buildMessages(req llm.Request) []goopenai.ChatCompletionMessage {
	var msgs []goopenai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	if len(req.Images) == 0 {
		return append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	parts := []goopenai.ChatMessagePart{{Type: goopenai.ChatMessagePartTypeText, Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: goopenai.ImageURLDetailHigh,
			},
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:         goopenai.ChatMessageRoleUser,
		MultiContent: parts,
	})
}

func dataURL(img llm.Image) string {
	mt := img.MIMEType
	if mt == "" {
		mt = "image/jpeg"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyHTTPStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return llm.ClassifyHTTPStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	return llm.ClassifyTransport(fmt.Errorf("openai: %w", err))
}
