// Package generator invokes the two external producer capabilities: row-file
// generation and report translation. Each capability is an interface with
// implementations selected once at startup: an HTTP client with bounded
// retry, an in-process fallback generator, and a deterministic stub
// translator for test and degraded operation.
package generator

import (
	"context"
	"errors"

	"github.com/paybridge/filegen/pkg/models"
)

// Sentinel errors for capability failures.
var (
	// ErrTransport marks the primary endpoint as unreachable or erroring.
	ErrTransport = errors.New("producer transport error")
	// ErrNotConfigured means neither an endpoint nor a fallback is configured.
	// It is not retryable.
	ErrNotConfigured = errors.New("producer capability not configured")
	// ErrRetriesExhausted is returned after all retry attempts failed.
	ErrRetriesExhausted = errors.New("producer retries exhausted")
)

// GenerateRequest asks for a fixed-width payment row file.
type GenerateRequest struct {
	Rows                    int                        `json:"rows"`
	Seed                    *int64                     `json:"seed,omitempty"`
	AllowedTransactionCodes []string                   `json:"allowed_transaction_codes,omitempty"`
	Originating             *models.OriginatingAccount `json:"originating,omitempty"`
	ProcessingDate          string                     `json:"processing_date,omitempty"`
}

// GenerateResult is a produced row file.
type GenerateResult struct {
	Content  []byte `json:"content"`
	Checksum string `json:"checksum"`
	Rows     int    `json:"rows"`
	Filename string `json:"filename"`
}

// TranslateRequest asks for the companion submission report.
type TranslateRequest struct {
	Rows           int    `json:"rows"`
	SUN            string `json:"sun,omitempty"`
	ProcessingDate string `json:"processing_date,omitempty"`
}

// TranslateResult is a produced submission report.
type TranslateResult struct {
	Content  []byte `json:"content"`
	Checksum string `json:"checksum"`
	Rows     int    `json:"rows"`
	Filename string `json:"filename"`
}

// RowGenerator produces the fixed-width data file.
type RowGenerator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// ReportTranslator produces the companion submission report.
type ReportTranslator interface {
	Name() string
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error)
}
