package llm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/Ridwanabdusalam/cleanlab/internal/ports"
)

// GoogleDefaultModel is the default model for the Gemini SDK provider.
const GoogleDefaultModel = GeminiDefaultModel

func init() {
	RegisterProviderFactory("google", newGoogleProvider)
}

// googleProvider reaches Gemini through the official genai SDK instead of
// hand-built REST calls.
type googleProvider struct {
	BaseProvider
	client *genai.Client
}

func newGoogleProvider(config ClientConfig) (CoreLLM, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if looksLikeFilePath(config.APIKey) {
		return nil, fmt.Errorf("service account credentials are not supported; pass an API key")
	}

	model := config.Model
	if model == "" {
		model = GoogleDefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClientFor(config),
	}
	if config.BaseURL != "" {
		base, err := ValidateBaseURL(config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid BaseURL: %w", err)
		}
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &googleProvider{
		BaseProvider: newBaseProvider("google", model),
		client:       client,
	}, nil
}

// DoRequest implements CoreLLM.
func (p *googleProvider) DoRequest(ctx context.Context, prompt string, opts ports.GenerationOptions) (Completion, error) {
	temperature, maxTokens := generation(opts, 2.0)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: toInt32(maxTokens),
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.GetModel(),
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, config)
	if err != nil {
		return Completion{}, p.handleError(err)
	}

	text := resp.Text()
	if text == "" {
		return Completion{}, NewProviderError("google", ErrorTypeMalformedResponse, 0, "", ErrMissingText)
	}

	out := Completion{Text: text}
	if u := resp.UsageMetadata; u != nil {
		out.TokensIn = int(u.PromptTokenCount)
		out.TokensOut = int(u.CandidatesTokenCount)
	}
	return out, nil
}

// handleError classifies SDK failures. The genai SDK reports HTTP failures
// as APIError; older transports surface googleapi.Error.
func (p *googleProvider) handleError(err error) error {
	if isContextError(err) {
		return p.classifier.ClassifyContextError(err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if isSafetyMessage(apiErr.Message) || apiErr.Status == "SAFETY" {
			return NewProviderError("google", ErrorTypeContentPolicy, apiErr.Code, "request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(apiErr.Code, apiErr.Message, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		message := gErr.Message
		if message == "" && len(gErr.Errors) > 0 {
			message = gErr.Errors[0].Message
		}
		if isSafetyMessage(message) || hasSafetyReason(gErr) {
			return NewProviderError("google", ErrorTypeContentPolicy, gErr.Code, "request blocked by safety filters", err)
		}
		return p.classifier.ClassifyHTTPError(gErr.Code, message, err)
	}

	return NewProviderError("google", ErrorTypeUnknown, 0, "request failed", err)
}

func looksLikeFilePath(s string) bool {
	if filepath.IsAbs(s) || strings.ContainsAny(s, `/\`) {
		return true
	}
	lower := strings.ToLower(s)
	return strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".pem")
}

func isSafetyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "safety") || strings.Contains(lower, "blocked")
}

func hasSafetyReason(e *googleapi.Error) bool {
	for _, item := range e.Errors {
		if item.Reason == "SAFETY" || item.Reason == "BLOCKED" {
			return true
		}
	}
	return false
}
