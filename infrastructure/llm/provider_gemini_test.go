package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

const geminiOK = `{
  "candidates": [{"content": {"parts": [{"text": "answer: [A]"}], "role": "model"}}],
  "usageMetadata": {"promptTokenCount": 42, "candidatesTokenCount": 3}
}`

func newGeminiTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, CoreLLM) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	core, err := newGeminiProvider(ClientConfig{
		APIKey:  "k3y",
		Model:   "gemini-test",
		BaseURL: srv.URL + "/v1beta/models/%s:generateContent",
	})
	require.NoError(t, err)
	return srv, core
}

// TestGeminiProvider_RequestShape tests the wire format of a generateContent
// call: method, path, key parameter and JSON body.
func TestGeminiProvider_RequestShape(t *testing.T) {
	var (
		gotPath, gotKey, gotMethod, gotType string
		gotBody                             []byte
	)
	_, core := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, geminiOK)
	})

	out, err := core.DoRequest(context.Background(), "Is 4 correct?", ports.GenerationOptions{Temperature: 0.3, MaxOutputTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/v1beta/models/gemini-test:generateContent", gotPath)
	assert.Equal(t, "k3y", gotKey)
	assert.Equal(t, "application/json", gotType)

	assert.Equal(t, "Is 4 correct?", gjson.GetBytes(gotBody, "contents.0.parts.0.text").String())
	assert.Equal(t, 0.3, gjson.GetBytes(gotBody, "generationConfig.temperature").Float())
	assert.Equal(t, int64(64), gjson.GetBytes(gotBody, "generationConfig.maxOutputTokens").Int())

	assert.Equal(t, "answer: [A]", out.Text)
	assert.Equal(t, 42, out.TokensIn)
	assert.Equal(t, 3, out.TokensOut)
}

func TestGeminiProvider_DefaultMaxTokens(t *testing.T) {
	var body []byte
	_, core := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, geminiOK)
	})

	_, err := core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultMaxOutputTokens), gjson.GetBytes(body, "generationConfig.maxOutputTokens").Int())
}

// TestGeminiProvider_Failures tests that every failure mode named for the
// REST transport surfaces as a classified ProviderError.
func TestGeminiProvider_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  ErrorType
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"backend down"}}`, ErrorTypeServerError, true},
		{"rate limited", http.StatusTooManyRequests, `{}`, ErrorTypeRateLimit, true},
		{"bad key", http.StatusForbidden, `{"error":{"message":"API key not valid"}}`, ErrorTypeAuthentication, false},
		{"missing text", http.StatusOK, `{"candidates":[]}`, ErrorTypeMalformedResponse, true},
		{"not json", http.StatusOK, `<html>`, ErrorTypeMalformedResponse, true},
		{"blocked", http.StatusOK, `{"promptFeedback":{"blockReason":"SAFETY"}}`, ErrorTypeContentPolicy, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, core := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
			require.Error(t, err)

			var pe *ProviderError
			require.True(t, errors.As(err, &pe), "expected ProviderError, got %T", err)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestGeminiProvider_MissingTextWrapsSentinel(t *testing.T) {
	_, core := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[]}}]}`)
	})

	_, err := core.DoRequest(context.Background(), "p", ports.GenerationOptions{})
	assert.ErrorIs(t, err, ErrMissingText)
}

func TestGeminiProvider_Cancellation(t *testing.T) {
	release := make(chan struct{})
	_, core := newGeminiTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := core.DoRequest(ctx, "p", ports.GenerationOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, IsRetryable(context.Canceled))
}

func TestNewGeminiProvider(t *testing.T) {
	_, err := newGeminiProvider(ClientConfig{})
	assert.ErrorIs(t, err, ErrEmptyAPIKey)

	_, err = newGeminiProvider(ClientConfig{APIKey: "k", BaseURL: "ftp://example.com/%s"})
	assert.Error(t, err)

	core, err := newGeminiProvider(ClientConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, GeminiDefaultModel, core.GetModel())

	p := core.(*geminiProvider)
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent?key=k",
		p.requestURL())
}
