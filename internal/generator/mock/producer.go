// Package mock provides function-field test doubles for the producer
// capabilities.
package mock

import (
	"context"
	"fmt"

	"github.com/paybridge/filegen/internal/archive"
	"github.com/paybridge/filegen/internal/generator"
)

// RowGenerator satisfies generator.RowGenerator for testing.
type RowGenerator struct {
	Name_        string
	GenerateFunc func(ctx context.Context, req generator.GenerateRequest) (*generator.GenerateResult, error)
}

func (m *RowGenerator) Name() string { return m.Name_ }

func (m *RowGenerator) Generate(ctx context.Context, req generator.GenerateRequest) (*generator.GenerateResult, error) {
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	return DefaultRows(req.Rows), nil
}

// Translator satisfies generator.ReportTranslator for testing.
type Translator struct {
	Name_         string
	TranslateFunc func(ctx context.Context, req generator.TranslateRequest) (*generator.TranslateResult, error)
}

func (m *Translator) Name() string { return m.Name_ }

func (m *Translator) Translate(ctx context.Context, req generator.TranslateRequest) (*generator.TranslateResult, error) {
	if m.TranslateFunc != nil {
		return m.TranslateFunc(ctx, req)
	}
	return DefaultReport(req.Rows), nil
}

// DefaultRows builds a plausible generation result with full-width rows so
// override patching has real columns to rewrite.
func DefaultRows(rows int) *generator.GenerateResult {
	var content []byte
	for i := 0; i < rows; i++ {
		row := make([]byte, generator.RowLength)
		for j := range row {
			row[j] = '0'
		}
		content = append(content, row...)
		content = append(content, '\n')
	}
	return &generator.GenerateResult{
		Content:  content,
		Checksum: archive.Checksum(content),
		Rows:     rows,
		Filename: fmt.Sprintf("payments_mock_%d.txt", rows),
	}
}

// DefaultReport builds a plausible translation result.
func DefaultReport(rows int) *generator.TranslateResult {
	content := []byte(fmt.Sprintf("MOCK REPORT ROWS=%d\n", rows))
	return &generator.TranslateResult{
		Content:  content,
		Checksum: archive.Checksum(content),
		Rows:     rows,
		Filename: fmt.Sprintf("report_mock_%d.txt", rows),
	}
}

// NewFailingRowGenerator returns a RowGenerator that always fails with err.
func NewFailingRowGenerator(err error) *RowGenerator {
	return &RowGenerator{
		Name_: "mock-failing",
		GenerateFunc: func(context.Context, generator.GenerateRequest) (*generator.GenerateResult, error) {
			return nil, err
		},
	}
}

// NewFailingTranslator returns a Translator that always fails with err.
func NewFailingTranslator(err error) *Translator {
	return &Translator{
		Name_: "mock-failing",
		TranslateFunc: func(context.Context, generator.TranslateRequest) (*generator.TranslateResult, error) {
			return nil, err
		},
	}
}

// Compile-time checks.
var (
	_ generator.RowGenerator     = (*RowGenerator)(nil)
	_ generator.ReportTranslator = (*Translator)(nil)
)
