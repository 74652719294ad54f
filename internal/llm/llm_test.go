package llm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/llm/llmtest"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestBackoffDelay(t *testing.T) {
	b := llm.Backoff{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 5*time.Second, b.Delay(3))

	b.Jitter = true
	b.Rand = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, b.Delay(0))
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, retries, err := llm.Retry(context.Background(), llm.Backoff{MaxAttempts: 3}, quiet, "test",
		func(context.Context, int) (string, error) {
			calls++
			return "", errors.New("bad request")
		})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	out, retries, err := llm.Retry(context.Background(), llm.Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond}, quiet, "test",
		func(context.Context, int) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("%w: slow down", common.ErrRateLimited)
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, retries)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, _, err := llm.Retry(context.Background(), llm.Backoff{MaxAttempts: 2, BaseDelay: time.Millisecond}, quiet, "test",
		func(context.Context, int) (int, error) {
			calls++
			return 0, common.ErrConnection
		})
	assert.ErrorIs(t, err, common.ErrConnection)
	assert.Equal(t, 2, calls)
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, _, err := llm.Retry(ctx, llm.Backoff{MaxAttempts: 5, BaseDelay: time.Hour}, quiet, "test",
		func(context.Context, int) (int, error) {
			cancel()
			return 0, common.ErrProviderTimeout
		})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyTransport(t *testing.T) {
	assert.ErrorIs(t, llm.ClassifyTransport(context.DeadlineExceeded), common.ErrProviderTimeout)
	assert.ErrorIs(t, llm.ClassifyHTTPStatus(503, errors.New("x")), common.ErrConnection)
	assert.ErrorIs(t, llm.ClassifyHTTPStatus(429, errors.New("x")), common.ErrRateLimited)
	assert.False(t, common.IsTransient(llm.ClassifyHTTPStatus(400, errors.New("x"))))
}

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\": 1}\n```":           `{"a": 1}`,
		"Sure! {\"a\": {\"b\": 2}} thanks":   `{"a": {"b": 2}}`,
		"{\n// note\n\"a\": [1, 2,],\n}":     "{\n\n\"a\": [1, 2]\n}",
	}
	for in, want := range cases {
		got, err := llm.ExtractJSONObject(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := llm.ExtractJSONObject("no json here")
	assert.ErrorIs(t, err, llm.ErrNoJSONObject)
}

func TestDecodeJSONObject(t *testing.T) {
	m, err := llm.DecodeJSONObject("```\n{\"document_type\": \"CapCall\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "CapCall", m["document_type"])
}

func TestSanitizeExtractedFields(t *testing.T) {
	tree := map[string]any{
		"entities": []any{map[string]any{
			"FundName": map[string]any{"Value": "Fund I", "ConfidenceScore": 95.0, "BoundingBox": "0.1,0.2,0.3,0.04", "PageNumber": "2"},
			"portfolio": []any{map[string]any{
				"CapitalCall": map[string]any{"Value": "1,250.50", "ConfidenceScore": 0.9},
			}},
		}},
	}
	numeric := func(p string) bool { return p == "entities[].portfolio[].CapitalCall" }

	changed := llm.SanitizeExtractedFields(tree, numeric)
	assert.ElementsMatch(t, []string{"entities[0].FundName", "entities[0].portfolio[0].CapitalCall"}, changed)

	refs := entity.CollectFields(tree)
	require.Len(t, refs, 2)
	fund := refs[0].Field
	assert.Equal(t, 0.95, fund["ConfidenceScore"])
	assert.Equal(t, []any{"0.1,0.2,0.3,0.04"}, fund["BoundingBox"])
	assert.Equal(t, 2.0, fund["PageNumber"])

	call := refs[1].Field
	assert.Equal(t, 1250.5, call["Value"])
	assert.Equal(t, "1,250.50", call["VerbatimText"])
}

func TestLimitedDelegates(t *testing.T) {
	fake := llmtest.Static("openai", "{}")
	p := llm.NewLimited(fake, 0, 1)
	resp, err := p.Complete(context.Background(), llm.Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Content)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, 1, fake.Calls())
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "ab", llm.Truncate("abc", 2))
	assert.Equal(t, "a", llm.Truncate("aé", 2))
	assert.Equal(t, "abc", llm.Truncate("abc", 10))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		if r.URL.Path == "/busy" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"slow down"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	headers := map[string]string{"x-api-key": "k"}

	raw, err := llm.PostJSON(context.Background(), srv.Client(), srv.URL+"/ok", map[string]any{"a": 1}, headers, quiet)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	_, err = llm.PostJSON(context.Background(), srv.Client(), srv.URL+"/busy", map[string]any{}, headers, quiet)
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.ErrorContains(t, err, "slow down")
}
