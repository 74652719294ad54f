package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/llm"
)

// Metrics are the pipeline's prometheus collectors.
type Metrics struct {
	documentsTotal *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	stageErrors    *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
	llmTokens      *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		documentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_documents_total",
				Help: "Documents that finished the pipeline, by final status",
			},
			[]string{"status"},
		),
		stageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docflow_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100, 250},
			},
			[]string{"stage"},
		),
		stageErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_stage_errors_total",
				Help: "Pipeline stage failures, by stage and error category",
			},
			[]string{"stage", "category"},
		),
		llmCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_llm_calls_total",
				Help: "LLM provider calls, by provider and outcome",
			},
			[]string{"provider", "outcome"}, // outcome: ok, transient, error
		),
		llmDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docflow_llm_call_duration_seconds",
				Help:    "LLM provider call duration in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 25, 50, 120},
			},
			[]string{"provider"},
		),
		llmTokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docflow_llm_tokens_total",
				Help: "Tokens reported by LLM providers",
			},
			[]string{"provider"},
		),
	}
}

func (m *Metrics) documentDone(status string) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) stageDone(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) stageFailed(stage string, cat common.ErrorCategory) {
	if m == nil {
		return
	}
	m.stageErrors.WithLabelValues(stage, string(cat)).Inc()
}

// Instrument wraps p so every call is counted and timed. A nil m returns p.
func (m *Metrics) Instrument(p llm.Provider) llm.Provider {
	if m == nil || p == nil {
		return p
	}
	return &instrumented{inner: p, m: m}
}

type instrumented struct {
	inner llm.Provider
	m     *Metrics
}

func (i *instrumented) Name() string { return i.inner.Name() }

func (i *instrumented) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := i.inner.Complete(ctx, req)
	name := i.inner.Name()
	i.m.llmDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case err == nil:
	case common.IsTransient(err) && !errors.Is(err, context.Canceled):
		outcome = "transient"
	default:
		outcome = "error"
	}
	i.m.llmCalls.WithLabelValues(name, outcome).Inc()
	if resp != nil && resp.TokensUsed > 0 {
		i.m.llmTokens.WithLabelValues(name).Add(float64(resp.TokensUsed))
	}
	return resp, err
}
