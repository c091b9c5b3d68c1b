package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// Retry policy for the primary transport path: up to maxAttempts calls with
// linearly increasing delay between them.
const (
	maxAttempts = 4
	backoffBase = 250 * time.Millisecond
)

// HTTPRowGenerator calls the row-generation service over HTTP.
type HTTPRowGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRowGenerator creates a row generator for the service at baseURL.
func NewHTTPRowGenerator(baseURL string, timeout time.Duration) *HTTPRowGenerator {
	return &HTTPRowGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPRowGenerator) Name() string { return "http" }

func (g *HTTPRowGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	var result GenerateResult
	err := withRetry(ctx, "rowgen", func() error {
		return postJSON(ctx, g.client, g.baseURL+"/api/v1/generate", req, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// HTTPTranslator calls the report-translation service over HTTP.
type HTTPTranslator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTranslator creates a translator for the service at baseURL.
func NewHTTPTranslator(baseURL string, timeout time.Duration) *HTTPTranslator {
	return &HTTPTranslator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTranslator) Name() string { return "http" }

func (t *HTTPTranslator) Translate(ctx context.Context, req TranslateRequest) (*TranslateResult, error) {
	var result TranslateResult
	err := withRetry(ctx, "translator", func() error {
		return postJSON(ctx, t.client, t.baseURL+"/api/v1/translate", req, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// withRetry runs call up to maxAttempts times, sleeping backoffBase×attempt
// between failures. Attempt errors are aggregated into the returned
// ErrRetriesExhausted.
func withRetry(ctx context.Context, capability string, call func() error) error {
	var attemptErrs []error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		attemptErrs = append(attemptErrs, fmt.Errorf("attempt %d: %w", attempt, err))
		slog.Warn("producer call failed",
			"capability", capability,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err,
		)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, ctx.Err())
		case <-time.After(backoffBase * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%w: %w", ErrRetriesExhausted, errors.Join(attemptErrs...))
}

func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrTransport, err)
	}
	return nil
}

// classifyError wraps transport-level errors (timeouts, refused connections,
// DNS failures) in the sentinel ErrTransport so callers can match with
// errors.Is regardless of the underlying net error.
func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrTransport, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

var (
	_ RowGenerator     = (*HTTPRowGenerator)(nil)
	_ ReportTranslator = (*HTTPTranslator)(nil)
)
