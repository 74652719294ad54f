package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

const (
	documentsSheet = "Documents"
	fieldsSheet    = "Fields"
)

var (
	documentHeaders = []string{
		"Filename",
		"Document Type",
		"Confidence",
		"Band",
		"Status",
		"Pages",
		"Violations",
		"Error",
	}
	fieldHeaders = []string{
		"Filename",
		"Field",
		"Value",
		"Verbatim Text",
		"Confidence",
		"Page",
		"Bounding Box",
	}
)

// Workbook builds an XLSX summary of documents: one row per document and one
// row per extracted field. Redacted boxes stay redacted.
func Workbook(docs []*entity.DocumentRecord, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		return nil, err
	}
	index, _ := f.GetSheetIndex(documentsSheet)
	f.SetActiveSheet(index)

	writeRow(f, documentsSheet, 1, toAny(documentHeaders))
	writeRow(f, fieldsSheet, 1, toAny(fieldHeaders))

	fieldRow := 2
	for i, doc := range docs {
		a, err := Artifact(doc)
		if err != nil {
			return nil, err
		}
		writeRow(f, documentsSheet, i+2, []any{
			doc.Filename,
			string(doc.DocumentType),
			doc.ClassificationConfidence,
			string(doc.ClassificationBand),
			string(doc.Status),
			doc.PageCount,
			len(doc.Violations),
			truncate(doc.ErrorMessage, 140),
		})

		tree, _ := a["extracted_data"].(map[string]any)
		for _, ref := range entity.CollectFields(tree) {
			writeRow(f, fieldsSheet, fieldRow, []any{
				doc.Filename,
				ref.Path,
				cellValue(ref.Field[entity.KeyValue]),
				cellValue(ref.Field[entity.KeyVerbatimText]),
				cellValue(ref.Field[entity.KeyConfidenceScore]),
				cellValue(ref.Field[entity.KeyPageNumber]),
				boxText(ref.Field[entity.KeyBoundingBox]),
			})
			fieldRow++
		}
	}

	_ = f.SetColWidth(documentsSheet, "A", "A", 36) // filename
	_ = f.SetColWidth(documentsSheet, "B", "E", 18)
	_ = f.SetColWidth(documentsSheet, "H", "H", 60) // error
	_ = f.SetColWidth(fieldsSheet, "A", "A", 36)
	_ = f.SetColWidth(fieldsSheet, "B", "B", 40) // path
	_ = f.SetColWidth(fieldsSheet, "C", "D", 28)
	_ = f.SetColWidth(fieldsSheet, "G", "G", 48) // box

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	logger.Info("export.xlsx.ok",
		"documents", len(docs),
		"fields", fieldRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for col, v := range values {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string, float64, int, bool:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// boxText joins the stored box strings with ";".
func boxText(v any) string {
	items, ok := v.([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprint(it))
	}
	return strings.Join(parts, ";")
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
