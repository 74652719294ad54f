package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

func TestCompleteSendsMessagesRequest(t *testing.T) {
	var got messagesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"claude-test","content":[{"type":"text","text":"{\"ok\":true}"}],"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: server.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	resp, err := c.Complete(context.Background(), llm.Request{
		System: "sys",
		Prompt: "hello",
		JSON:   true,
		Images: []llm.Image{{Data: []byte("img")}},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 15, resp.TokensUsed)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, "sys", got.System)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "image", got.Messages[0].Content[0].Type)
	assert.Contains(t, got.Messages[0].Content[1].Text, llm.JSONOnlyInstruction)
}

func TestCompleteOverloadedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "key", BaseURL: server.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.Complete(context.Background(), llm.Request{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConnection)
}
