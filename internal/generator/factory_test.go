package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paybridge/filegen/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRowGenerator_BuiltinOnly(t *testing.T) {
	g, err := NewRowGenerator(config.RowGenConfig{Fallback: config.FallbackBuiltin})
	require.NoError(t, err)
	assert.Equal(t, "builtin", g.Name())
}

func TestNewRowGenerator_EndpointWithFallback(t *testing.T) {
	g, err := NewRowGenerator(config.RowGenConfig{
		BaseURL:  "http://localhost:9000",
		Timeout:  time.Second,
		Fallback: config.FallbackBuiltin,
	})
	require.NoError(t, err)
	assert.Equal(t, "http+builtin", g.Name())
}

func TestNewRowGenerator_Unconfigured(t *testing.T) {
	_, err := NewRowGenerator(config.RowGenConfig{Fallback: config.FallbackNone})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewReportTranslator_StubWinsOverEndpoint(t *testing.T) {
	tr, err := NewReportTranslator(config.TranslatorConfig{
		BaseURL: "http://localhost:9001",
		Stub:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "stub", tr.Name())
}

func TestNewReportTranslator_Unconfigured(t *testing.T) {
	_, err := NewReportTranslator(config.TranslatorConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFallbackRowGenerator_UsesFallbackWhenPrimaryExhausted(t *testing.T) {
	// Primary always errors; fallback must produce the result.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	g, err := NewRowGenerator(config.RowGenConfig{
		BaseURL:  ts.URL,
		Timeout:  time.Second,
		Fallback: config.FallbackBuiltin,
	})
	require.NoError(t, err)

	result, err := g.Generate(context.Background(), GenerateRequest{
		Rows: 2, Seed: int64p(11), ProcessingDate: "2026-09-01",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.NotEmpty(t, result.Content)
}

func TestFallbackRowGenerator_PrefersPrimary(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResult{
			Content: []byte("from primary"), Rows: 1, Filename: "p.txt",
		})
	}))
	defer ts.Close()

	g, err := NewRowGenerator(config.RowGenConfig{
		BaseURL:  ts.URL,
		Timeout:  time.Second,
		Fallback: config.FallbackBuiltin,
	})
	require.NoError(t, err)

	result, err := g.Generate(context.Background(), GenerateRequest{Rows: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte("from primary"), result.Content)
}
