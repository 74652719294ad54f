// Package bbox maps extracted field values back to page coordinates.
package bbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/ocr"
)

// RedactedKeys never carry a box in output.
var RedactedKeys = map[string]bool{"Account": true, "account": true, "account_number": true, "account_name": true}

const tokensPerImage = 800

type Config struct {
	LLMEnabled        bool
	TokenBudget       int
	MaxPagesPerCall   int
	PartialMatchScore float64
	CurrencyWiden     float64
	PlaceholderValues []float64
	MaxOCRRows        int
	MaxTokens         int
	Timeout           time.Duration
	Parallelism       int
	Retry             llm.Backoff
}

// ConfigFrom adapts the application config section.
func ConfigFrom(c common.BBoxConfig, retry common.RetryConfig) Config {
	return Config{
		LLMEnabled:        c.LLMEnabled,
		TokenBudget:       c.TokenBudget,
		MaxPagesPerCall:   c.MaxPagesPerCall,
		PartialMatchScore: c.PartialMatchScore,
		CurrencyWiden:     c.CurrencyWiden,
		PlaceholderValues: c.PlaceholderValues,
		MaxTokens:         c.MaxTokens,
		Timeout:           c.Timeout,
		Parallelism:       c.Parallelism,
		Retry:             llm.BackoffFrom(retry),
	}
}

func (c Config) withDefaults() Config {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 100000
	}
	if c.MaxPagesPerCall <= 0 {
		c.MaxPagesPerCall = 5
	}
	if c.PartialMatchScore <= 0 {
		c.PartialMatchScore = 0.5
	}
	if c.CurrencyWiden <= 0 {
		c.CurrencyWiden = 0.02
	}
	if c.PlaceholderValues == nil {
		c.PlaceholderValues = []float64{0.1, 0.2, 0.3, 0.4, 0.5}
	}
	if c.MaxOCRRows <= 0 {
		c.MaxOCRRows = 1500
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4000
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	return c
}

// PageRenderer renders page images for the vision phase.
type PageRenderer interface {
	RenderPageImages(ctx context.Context, path string, pages []int) ([]ocr.PageImage, error)
}

// Input is the extracted tree plus the OCR words it was read from.
type Input struct {
	Tree       map[string]any
	Words      []entity.Word
	PageCount  int
	SourcePath string
}

// Report summarises one resolution.
type Report struct {
	Fields     int            `json:"fields"`
	Resolved   int            `json:"resolved"`
	ByMethod   map[string]int `json:"by_method"`
	Unresolved []string       `json:"unresolved,omitempty"`
	Rejected   []string       `json:"rejected,omitempty"`
	LLMCalls   int            `json:"llm_calls"`
	PageByPage bool           `json:"page_by_page"`
	Errors     []string       `json:"errors,omitempty"`
	Redacted   int            `json:"redacted"`
}

type target struct {
	ref      entity.FieldRef
	verbatim string
}

type Resolver struct {
	cfg      Config
	provider llm.Provider
	renderer PageRenderer
	logger   *slog.Logger
}

type Option func(*Resolver)

// WithVision enables the LLM phase using provider and page images from renderer.
func WithVision(provider llm.Provider, renderer PageRenderer) Option {
	return func(r *Resolver) { r.provider, r.renderer = provider, renderer }
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{cfg: cfg.withDefaults(), logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve writes BoundingBox and PageNumber into every field of in.Tree.
// Deterministic matches are applied first; the vision phase only adds boxes
// for fields still unresolved. Fields left unresolved get a null box. Vision
// failures are reported, not returned; only cancellation is an error.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Report, error) {
	start := time.Now()
	log := common.LoggerFrom(ctx, r.logger)
	rep := &Report{ByMethod: map[string]int{}}

	targets := collectTargets(in.Tree)
	rep.Fields = len(targets)
	log.Info("bbox.start", "fields", len(targets), "words", len(in.Words), "pages", in.PageCount)

	matcher := NewMatcher(in.Words)
	found := map[string]Match{}
	for _, t := range targets {
		if m, ok := r.deterministic(matcher, t); ok {
			found[t.ref.Path] = m
		}
	}
	log.Info("bbox.deterministic.done", "matched", len(found), "fields", len(targets))

	if r.visionEnabled(in) {
		var pending []target
		for _, t := range targets {
			if _, ok := found[t.ref.Path]; !ok {
				pending = append(pending, t)
			}
		}
		if len(pending) > 0 {
			llmFound, err := r.vision(ctx, log, in, pending, rep)
			if err != nil {
				return rep, err
			}
			for k, m := range llmFound {
				if _, ok := found[k]; !ok {
					found[k] = m
				}
			}
		}
	}

	for _, t := range targets {
		m, ok := found[t.ref.Path]
		if !ok {
			t.ref.Field[entity.KeyBoundingBox] = nil
			rep.Unresolved = append(rep.Unresolved, t.ref.Path)
			continue
		}
		t.ref.Field[entity.KeyBoundingBox] = m.Strings()
		if m.Page > 0 {
			t.ref.Field[entity.KeyPageNumber] = float64(m.Page)
		}
		rep.Resolved++
		rep.ByMethod[m.Method]++
	}
	rep.Redacted = Redact(in.Tree)

	log.Info("bbox.ok",
		"fields", rep.Fields,
		"resolved", rep.Resolved,
		"by_method", rep.ByMethod,
		"unresolved", len(rep.Unresolved),
		"llm_calls", rep.LLMCalls,
		"rejected", len(rep.Rejected),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rep, nil
}

// collectTargets lists fields with a usable verbatim value. Every other
// field gets a null box.
func collectTargets(tree map[string]any) []target {
	var out []target
	for _, ref := range entity.CollectFields(tree) {
		v := ref.Verbatim()
		if Ignored(v) || RedactedKeys[ref.Key] {
			ref.Field[entity.KeyBoundingBox] = nil
			continue
		}
		out = append(out, target{ref: ref, verbatim: v})
	}
	return out
}

func (r *Resolver) deterministic(m *Matcher, t target) (Match, bool) {
	tokens := strings.Fields(t.verbatim)
	currency := IsCurrency(t.ref.Key, t.verbatim)
	switch {
	case len(tokens) == 1 && !strings.HasSuffix(strings.ToLower(t.ref.Key), "_currency"):
		if match, ok := m.FindWord(tokens[0]); ok {
			return match, true
		}
	case len(tokens) > 1:
		if match, ok := m.FindSequence(tokens); ok {
			return match, true
		}
	}
	if currency {
		return m.FindCurrency(t.verbatim, r.cfg.CurrencyWiden)
	}
	return Match{}, false
}

func (r *Resolver) visionEnabled(in Input) bool {
	return r.cfg.LLMEnabled && r.provider != nil && r.renderer != nil && in.SourcePath != "" && in.PageCount > 0
}

// Redact nulls the box of every redacted key and returns how many it cleared.
func Redact(tree map[string]any) int {
	n := 0
	for _, ref := range entity.CollectFields(tree) {
		if RedactedKeys[ref.Key] {
			ref.Field[entity.KeyBoundingBox] = nil
			n++
		}
	}
	return n
}

// estimateTokens approximates the single-call prompt size.
func estimateTokens(fields map[string]string, table string, pages int) int {
	b, _ := json.Marshal(fields)
	return len(b)/3 + len(table)/3 + pages*tokensPerImage
}

// vision runs the LLM phase for pending fields, either as one call with all
// page images or one call per page.
func (r *Resolver) vision(ctx context.Context, log *slog.Logger, in Input, pending []target, rep *Report) (map[string]Match, error) {
	fields := make(map[string]string, len(pending))
	for _, t := range pending {
		fields[t.ref.Path] = t.verbatim
	}
	table := ocrTable(in.Words, r.cfg.MaxOCRRows)
	estimate := estimateTokens(fields, table, in.PageCount)

	if estimate <= r.cfg.TokenBudget && in.PageCount <= r.cfg.MaxPagesPerCall {
		log.Info("bbox.llm.start", "mode", "document", "fields", len(fields), "tokens_estimated", estimate)
		pages := make([]int, in.PageCount)
		for i := range pages {
			pages[i] = i + 1
		}
		res, err := r.callVision(ctx, log, in.SourcePath, pages, buildDocumentPrompt(fields, table), fields, 0, rep)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rep.Errors = append(rep.Errors, err.Error())
			log.Warn("bbox.llm.failed", "mode", "document", "error", err)
		}
		return res, nil
	}

	rep.PageByPage = true
	groups := groupByPage(pending, in.Words, in.PageCount, r.cfg.PartialMatchScore)
	log.Info("bbox.llm.start", "mode", "page", "fields", len(fields), "pages", in.PageCount, "tokens_estimated", estimate)

	type pageResult struct {
		page  int
		found map[string]Match
		err   error
	}
	byPage := wordsByPage(in.Words)
	results := make([]pageResult, in.PageCount)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for page := 1; page <= in.PageCount; page++ {
		pageFields := groups[page]
		if len(pageFields) == 0 || len(byPage[page]) == 0 {
			log.Debug("bbox.llm.page_skipped", "page", page, "fields", len(pageFields))
			continue
		}
		g.Go(func() error {
			prompt := buildPagePrompt(page, in.PageCount, len(fields), pageFields, ocrTable(byPage[page], r.cfg.MaxOCRRows))
			pageRep := &Report{}
			found, err := r.callVision(gctx, log.With("page", page), in.SourcePath, []int{page}, prompt, pageFields, page, pageRep)
			mu.Lock()
			rep.LLMCalls += pageRep.LLMCalls
			rep.Rejected = append(rep.Rejected, pageRep.Rejected...)
			mu.Unlock()
			results[page-1] = pageResult{page: page, found: found, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Strings(rep.Rejected)

	merged := map[string]Match{}
	for _, pr := range results {
		if pr.err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("page %d: %v", pr.page, pr.err))
			log.Warn("bbox.llm.page_failed", "page", pr.page, "error", pr.err)
			continue
		}
		for k, m := range pr.found {
			if _, ok := merged[k]; !ok {
				merged[k] = m
			}
		}
	}
	return merged, nil
}

func (r *Resolver) callVision(ctx context.Context, log *slog.Logger, path string, pages []int, prompt string, fields map[string]string, defaultPage int, rep *Report) (map[string]Match, error) {
	imgs, err := r.renderer.RenderPageImages(ctx, path, pages)
	if err != nil {
		return nil, fmt.Errorf("render pages: %w", err)
	}
	images := make([]llm.Image, 0, len(imgs))
	for _, img := range imgs {
		images = append(images, llm.Image{MIMEType: img.MIMEType, Data: img.Data})
	}
	req := llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		Images:    images,
		JSON:      true,
		MaxTokens: r.cfg.MaxTokens,
		Timeout:   r.cfg.Timeout,
	}
	resp, _, err := llm.Retry(ctx, r.cfg.Retry, log, "bbox.llm", func(ctx context.Context, _ int) (*llm.Response, error) {
		rep.LLMCalls++
		return r.provider.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return r.parseVision(log, resp.Content, fields, defaultPage, rep)
}

// parseVision reads {"BoundingBox": {...}, "PageNumber": {...}}. Keys that
// were not requested are ignored; malformed or placeholder coordinates are
// dropped.
func (r *Resolver) parseVision(log *slog.Logger, content string, fields map[string]string, defaultPage int, rep *Report) (map[string]Match, error) {
	obj, err := llm.DecodeJSONObject(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	boxes, _ := obj["BoundingBox"].(map[string]any)
	pages, _ := obj["PageNumber"].(map[string]any)

	out := map[string]Match{}
	for _, key := range entity.SortedKeys(boxes) {
		if _, ok := fields[key]; !ok {
			continue
		}
		coords := coordStrings(boxes[key])
		parsed, ok := ParseBoxes(coords)
		if !ok {
			log.Debug("bbox.llm.invalid_coordinates", "key", key, "coords", coords)
			rep.Rejected = append(rep.Rejected, key)
			continue
		}
		if r.anyPlaceholder(parsed) {
			log.Warn("bbox.llm.placeholder_rejected", "key", key, "coords", coords)
			rep.Rejected = append(rep.Rejected, key)
			continue
		}
		page := defaultPage
		if p, ok := common.AsFloat(pages[key]); ok && p >= 1 {
			page = int(p)
		}
		out[key] = Match{Boxes: parsed, Page: page, Method: MethodLLM}
	}
	return out, nil
}

func coordStrings(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ParseBoxes reads "l,t,w,h[,l,t,w,h...]" strings into boxes. Every
// component must be a number in [0,1].
func ParseBoxes(coords []string) ([]entity.BoundingBox, bool) {
	var nums []float64
	for _, c := range coords {
		for _, part := range strings.Split(c, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || f < 0 || f > 1 {
				return nil, false
			}
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 || len(nums)%4 != 0 {
		return nil, false
	}
	out := make([]entity.BoundingBox, 0, len(nums)/4)
	for i := 0; i < len(nums); i += 4 {
		out = append(out, entity.BoundingBox{Left: nums[i], Top: nums[i+1], Width: nums[i+2], Height: nums[i+3]})
	}
	return out, true
}

// anyPlaceholder reports whether some box has all four components in the
// placeholder set.
func (r *Resolver) anyPlaceholder(boxes []entity.BoundingBox) bool {
	for _, b := range boxes {
		if r.isPlaceholder(b.Left) && r.isPlaceholder(b.Top) && r.isPlaceholder(b.Width) && r.isPlaceholder(b.Height) {
			return true
		}
	}
	return false
}

func (r *Resolver) isPlaceholder(v float64) bool {
	for _, p := range r.cfg.PlaceholderValues {
		if math.Abs(v-p) < 1e-9 {
			return true
		}
	}
	return false
}

func wordsByPage(words []entity.Word) map[int][]entity.Word {
	out := map[int][]entity.Word{}
	for _, w := range words {
		out[w.Page] = append(out[w.Page], w)
	}
	return out
}

// groupByPage assigns each field to the page where it matches best: an exact
// single-word hit, or the highest share of tokens present on a page above
// minScore. Fields that match no page are sent to every page.
func groupByPage(targets []target, words []entity.Word, pageCount int, minScore float64) map[int]map[string]string {
	vocab := map[int]map[string]bool{}
	for _, w := range words {
		if vocab[w.Page] == nil {
			vocab[w.Page] = map[string]bool{}
		}
		vocab[w.Page][Normalize(w.Text)] = true
	}

	groups := make(map[int]map[string]string, pageCount)
	for p := 1; p <= pageCount; p++ {
		groups[p] = map[string]string{}
	}
	for _, t := range targets {
		tokens := strings.Fields(t.verbatim)
		best, bestScore := 0, 0.0
		for p := 1; p <= pageCount; p++ {
			hits := 0
			for _, tok := range tokens {
				if vocab[p][Normalize(tok)] {
					hits++
				}
			}
			score := float64(hits) / float64(max(len(tokens), 1))
			if len(tokens) == 1 && score == 1 {
				best, bestScore = p, 1
				break
			}
			if len(tokens) > 1 && score > minScore && score > bestScore {
				best, bestScore = p, score
			}
		}
		if best > 0 {
			groups[best][t.ref.Path] = t.verbatim
			continue
		}
		for p := 1; p <= pageCount; p++ {
			groups[p][t.ref.Path] = t.verbatim
		}
	}
	return groups
}
