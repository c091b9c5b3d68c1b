package generator

import (
	"context"
	"fmt"

	"github.com/paybridge/filegen/internal/archive"
)

// StubTranslator is the transport-free report translator. For a given row
// count it always produces byte-identical output, which keeps orchestration
// tests and degraded operation independent of the live translation service.
type StubTranslator struct{}

// NewStubTranslator creates the deterministic stub translator.
func NewStubTranslator() *StubTranslator {
	return &StubTranslator{}
}

func (t *StubTranslator) Name() string { return "stub" }

func (t *StubTranslator) Translate(_ context.Context, req TranslateRequest) (*TranslateResult, error) {
	if req.Rows < 1 {
		return nil, fmt.Errorf("rows must be at least 1, got %d", req.Rows)
	}

	content := []byte(fmt.Sprintf(
		"BACS SUBMISSION REPORT\nROWS PROCESSED: %d\nSTATUS: ACCEPTED\n", req.Rows))

	return &TranslateResult{
		Content:  content,
		Checksum: archive.Checksum(content),
		Rows:     req.Rows,
		Filename: fmt.Sprintf("report_%06d.txt", req.Rows),
	}, nil
}

var _ ReportTranslator = (*StubTranslator)(nil)
