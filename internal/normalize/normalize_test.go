package normalize

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newNormalizer() *Normalizer {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCleanPasses(t *testing.T) {
	n := newNormalizer()
	cases := []struct {
		name, in, want string
	}{
		{"digit confusions", "Total 1O0 and 2l5", "Total 100 and 215"},
		{"dehyphenate", "capi-\ntal call", "capital call"},
		{"single newlines join", "Capital call\nnotice for\nInvestor A\n\nSecond paragraph", "Capital call notice for Investor A\n\nSecond paragraph"},
		{"artifact lines", "Fund I\nPage 2 of 5\n+-----+\nCONFIDENTIAL\nAmount due", "Fund I Amount due"},
		{"edge page numbers", "3\nBody text\n250\nmore\n4", "Body text 250 more"},
		{"currency and percent", "Fee $ 1,250.50 at 2 % or USD1,000", "Fee $1,250.50 at 2% or USD 1,000"},
		{"whitespace", "  a \t b  \n\n\n\n c ", "a b\n\nc"},
		{"unicode", "Ｆｕｎｄ Ｉ\u200b", "Fund I"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, n.Clean(tc.in))
		})
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	n := newNormalizer()
	inputs := []string{
		"CAPITAL CALL NOTICE\nPage 1 of 3\n\nInvestor: Acme Pension\nAmount: $ 1,25O,000.00\nDue   date: 2024-03-15\n\n\n\nfor inter-\nnal review\n12",
		"1l1l1l1 O0O0O\n|\n---\n\n\nabc",
		"   ",
		"1\n2\n3\nfoo\n4\n5",
		strings.Repeat("12\n\n", 8) + "Capital call notice",
		"Capital call notice\n\n" + strings.Repeat("7\n\nPage 2 of 9\n\n", 6),
	}
	for _, in := range inputs {
		once := n.Clean(in)
		assert.Equal(t, once, n.Clean(once), "input %q", in)
	}
}

func TestAssess(t *testing.T) {
	r := Assess("one two three four five six seven eight nine ten", "one two three four five six seven eight nine ten")
	assert.Equal(t, 1.0, r.QualityScore)
	assert.False(t, r.Degraded())

	r = Assess("one two three four five six seven eight nine ten", "one two")
	assert.InDelta(t, 0.8, r.WordLossRatio, 1e-9)
	assert.InDelta(t, 0.5, r.QualityScore, 1e-9)
	assert.Len(t, r.Warnings, 2)

	r = Assess("", "")
	assert.Equal(t, 0.0, r.QualityScore)
	assert.NotEmpty(t, r.Warnings)
}

func TestExtractStructure(t *testing.T) {
	s := ExtractStructure("Due 2024-03-15 or March 15, 2024: $1,250.50 and 300,000")
	assert.Equal(t, []string{"2024-03-15", "March 15, 2024"}, s.Dates)
	assert.Equal(t, []string{"$1,250.50", "300,000"}, s.Amounts)
}

func TestCleanStripsEdgePageNumberRuns(t *testing.T) {
	n := newNormalizer()
	in := strings.Repeat("12\n\n", 8) + "Capital call notice\n\nAmount due 250\n\n" + strings.Repeat("3\n\n", 4)
	assert.Equal(t, "Capital call notice\n\nAmount due 250", n.Clean(in))
	assert.Equal(t, "Fund 12\n\n14\n\nnotes", n.Clean("Fund 12\n\n14\n\nnotes"))
}
