package llm

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Bounds applied to ClientConfig.Timeout.
const (
	MinTimeout = 1 * time.Second
	MaxTimeout = 10 * time.Minute
)

// ValidateBaseURL checks that baseURL is an absolute http(s) URL. An empty
// string is valid and selects the provider default.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	switch {
	case u.Scheme == "":
		return "", fmt.Errorf("URL must include a scheme (e.g., http:// or https://)")
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("URL scheme must be http or https, but got: %s", u.Scheme)
	case u.Host == "":
		return "", fmt.Errorf("URL must include a host")
	}
	return baseURL, nil
}

// ValidateTimeout clamps timeout into [MinTimeout, MaxTimeout]. Zero or
// negative values return zero, meaning no client-level timeout.
func ValidateTimeout(timeout time.Duration) time.Duration {
	switch {
	case timeout <= 0:
		return 0
	case timeout < MinTimeout:
		return MinTimeout
	case timeout > MaxTimeout:
		return MaxTimeout
	default:
		return timeout
	}
}

// httpClientFor returns config.HTTPClient, or a client honouring
// config.Timeout, or nil when neither is set.
func httpClientFor(config ClientConfig) *http.Client {
	if config.HTTPClient != nil {
		return config.HTTPClient
	}
	if t := ValidateTimeout(config.Timeout); t > 0 {
		return &http.Client{Timeout: t}
	}
	return nil
}

// endpointFor expands a Gemini endpoint template with model. Templates
// without a %s verb are used as-is.
func endpointFor(template, model string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, url.PathEscape(model))
	}
	return template
}
