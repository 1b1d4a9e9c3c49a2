package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// Gemini REST defaults.
const (
	GeminiDefaultModel    = "gemini-1.5-pro"
	GeminiDefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

	geminiTextPath       = "candidates.0.content.parts.0.text"
	maxGeminiReplyBytes  = 4 << 20
	geminiDefaultTimeout = 60 * time.Second
)

func init() {
	RegisterProviderFactory("gemini", newGeminiProvider)
}

// geminiProvider calls the generateContent REST endpoint directly. The key
// travels in the query string.
type geminiProvider struct {
	BaseProvider
	apiKey   string
	endpoint string
	http     *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

func newGeminiProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	model := config.Model
	if model == "" {
		model = GeminiDefaultModel
	}

	endpoint := GeminiDefaultEndpoint
	if config.BaseURL != "" {
		if _, err := ValidateBaseURL(endpointFor(config.BaseURL, model)); err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		endpoint = config.BaseURL
	}

	client := httpClientFor(config)
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}

	return &geminiProvider{
		BaseProvider: newBaseProvider("gemini", model),
		apiKey:       config.APIKey,
		endpoint:     endpoint,
		http:         client,
	}, nil
}

// DoRequest implements CoreLLM.
func (p *geminiProvider) DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error) {
	temperature, maxTokens := generation(opts, 2.0)
	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{Temperature: temperature, MaxOutputTokens: maxTokens},
	})
	if err != nil {
		return Completion{}, fmt.Errorf("encode gemini request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.requestURL(), bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		if isContextError(err) || ctx.Err() != nil {
			return Completion{}, p.classifier.ClassifyContextError(ctxErrOr(ctx, err))
		}
		return Completion{}, NewProviderError("gemini", ErrorTypeNetwork, 0, "request failed", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxGeminiReplyBytes))
	if err != nil {
		return Completion{}, NewProviderError("gemini", ErrorTypeNetwork, resp.StatusCode, "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(reply, "error.message").String()
		return Completion{}, p.classifier.ClassifyHTTPError(resp.StatusCode, msg, nil)
	}

	return parseGeminiReply(reply)
}

func (p *geminiProvider) requestURL() string {
	u := endpointFor(p.endpoint, p.GetModel())
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "key=" + url.QueryEscape(p.apiKey)
}

// parseGeminiReply extracts the first candidate's text and token usage.
func parseGeminiReply(reply []byte) (Completion, error) {
	if !gjson.ValidBytes(reply) {
		return Completion{}, NewProviderError("gemini", ErrorTypeMalformedResponse, http.StatusOK, "invalid JSON", nil)
	}

	text := gjson.GetBytes(reply, geminiTextPath)
	if !text.Exists() {
		if reason := gjson.GetBytes(reply, "promptFeedback.blockReason").String(); reason != "" {
			return Completion{}, NewProviderError("gemini", ErrorTypeContentPolicy, http.StatusOK, "prompt blocked: "+reason, nil)
		}
		return Completion{}, NewProviderError("gemini", ErrorTypeMalformedResponse, http.StatusOK, "", ErrMissingText)
	}

	usage := gjson.GetBytes(reply, "usageMetadata")
	return Completion{
		Text:      text.String(),
		TokensIn:  int(usage.Get("promptTokenCount").Int()),
		TokensOut: int(usage.Get("candidatesTokenCount").Int()),
	}, nil
}

// ctxErrOr prefers the context's own error so cancellation is reported as
// such even when the transport wraps it.
func ctxErrOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
