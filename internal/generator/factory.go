package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paybridge/filegen/internal/config"
)

// NewRowGenerator constructs the row-generation capability from config.
// Called once at server startup. With both an endpoint and a fallback
// configured, the primary transport is tried (with retry) and the fallback
// takes over once retries are exhausted.
func NewRowGenerator(cfg config.RowGenConfig) (RowGenerator, error) {
	var primary RowGenerator
	if cfg.BaseURL != "" {
		primary = NewHTTPRowGenerator(cfg.BaseURL, cfg.Timeout)
	}

	var fallback RowGenerator
	switch cfg.Fallback {
	case config.FallbackBuiltin:
		fallback = NewBuiltinGenerator()
	case config.FallbackNone, "":
	default:
		return nil, fmt.Errorf("unknown row generator fallback %q", cfg.Fallback)
	}

	if primary == nil && fallback == nil {
		return nil, fmt.Errorf("%w: row generation has no endpoint and no fallback", ErrNotConfigured)
	}
	if primary == nil {
		return fallback, nil
	}
	if fallback == nil {
		return primary, nil
	}
	return &fallbackRowGenerator{primary: primary, fallback: fallback}, nil
}

// NewReportTranslator constructs the report-translation capability from
// config. Stub mode wins over a configured endpoint so operators can force
// degraded operation.
func NewReportTranslator(cfg config.TranslatorConfig) (ReportTranslator, error) {
	if cfg.Stub {
		return NewStubTranslator(), nil
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: report translation has no endpoint and stub mode is off", ErrNotConfigured)
	}
	return NewHTTPTranslator(cfg.BaseURL, cfg.Timeout), nil
}

// fallbackRowGenerator tries the primary path and switches to the fallback
// only after the primary's retries are exhausted. Non-retryable errors pass
// through unchanged.
type fallbackRowGenerator struct {
	primary  RowGenerator
	fallback RowGenerator
}

func (g *fallbackRowGenerator) Name() string {
	return g.primary.Name() + "+" + g.fallback.Name()
}

func (g *fallbackRowGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	result, err := g.primary.Generate(ctx, req)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrRetriesExhausted) && !errors.Is(err, ErrTransport) {
		return nil, err
	}

	slog.Warn("primary row generator abandoned, using fallback",
		"primary", g.primary.Name(),
		"fallback", g.fallback.Name(),
		"error", err,
	)
	return g.fallback.Generate(ctx, req)
}

var _ RowGenerator = (*fallbackRowGenerator)(nil)
