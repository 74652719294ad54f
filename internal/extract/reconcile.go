package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

const maxSumDecimals = 10

// reAmount matches one operand: either a thousands-grouped number or a plain
// one, optionally negative.
var (
	reAmount    = regexp.MustCompile(`-?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?`)
	reSumFiller = regexp.MustCompile(`^[\s,;+$€£()]*$`)
	reCurrency  = regexp.MustCompile(`\b[A-Z]{3}\b`)
)

// Reconciliation records one corrected field.
type Reconciliation struct {
	Path     string  `json:"path"`
	Reported any     `json:"reported"`
	Computed float64 `json:"computed"`
	Operands int     `json:"operands"`
}

// Reconcile recomputes Value for every field whose VerbatimText is a
// comma-separated list of amounts and overwrites it when the model's numeric
// value is off by more than tolerance. Values that do not parse as numbers
// are left alone. The sum keeps the largest number of
// decimals seen among the operands.
func Reconcile(tree map[string]any, tolerance float64) []Reconciliation {
	var out []Reconciliation
	for _, ref := range entity.CollectFields(tree) {
		verbatim, ok := ref.Field[entity.KeyVerbatimText].(string)
		if !ok || ref.Field[entity.KeyValue] == nil {
			continue
		}
		sum, operands, ok := SumOperands(verbatim)
		if !ok {
			continue
		}
		reported, ok := numericValue(ref.Field[entity.KeyValue])
		if !ok || math.Abs(reported-sum) <= tolerance {
			continue
		}
		out = append(out, Reconciliation{Path: ref.Path, Reported: ref.Field[entity.KeyValue], Computed: sum, Operands: operands})
		ref.Field[entity.KeyValue] = sum
	}
	return out
}

// SumOperands parses a comma-joined list of at least two amounts and returns
// their sum rounded to the widest operand precision.
func SumOperands(s string) (float64, int, bool) {
	matches := reAmount.FindAllStringIndex(s, -1)
	if len(matches) < 2 {
		return 0, 0, false
	}

	var sum float64
	decimals := 0
	prev := 0
	for _, m := range matches {
		gap := reCurrency.ReplaceAllString(s[prev:m[0]], "")
		if !reSumFiller.MatchString(gap) {
			return 0, 0, false
		}
		if prev > 0 && !strings.ContainsAny(gap, ",;") {
			return 0, 0, false
		}
		prev = m[1]

		tok := strings.ReplaceAll(s[m[0]:m[1]], ",", "")
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, 0, false
		}
		if i := strings.IndexByte(tok, '.'); i >= 0 {
			decimals = max(decimals, len(tok)-i-1)
		}
		sum += f
	}
	if !reSumFiller.MatchString(reCurrency.ReplaceAllString(s[prev:], "")) {
		return 0, 0, false
	}

	decimals = min(decimals, maxSumDecimals)
	scale := math.Pow(10, float64(decimals))
	return math.Round(sum*scale) / scale, len(matches), true
}

func numericValue(v any) (float64, bool) {
	if f, ok := common.AsFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
		return f, err == nil
	}
	return 0, false
}
