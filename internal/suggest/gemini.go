// Package suggest produces learning-task suggestions for a topic from a
// generative language model.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	MaxSuggestions = 5

	DefaultModel      = "gemini-1.5-flash"
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/"
	DefaultAPIVersion = "v1beta"
	DefaultTimeout    = 15 * time.Second

	promptTemplate = "Generate a list of %d concise, actionable tasks to learn about %s. " +
		"Return only the tasks, no numbering or formatting. Each task should be on a new line."
)

var (
	ErrNotConfigured = errors.New("suggestion service is not configured")
	ErrNoCandidates  = errors.New("gemini returned no candidates")
)

type Suggester interface {
	Suggest(ctx context.Context, topic string) ([]string, error)
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiClient asks a Gemini model for task suggestions. The API key is
// sent by the SDK in the x-goog-api-key header, never in the URL.
type GeminiClient struct {
	model  string
	client *genai.Client
}

// NewGeminiClient builds a client for cfg. Without an API key the client is
// created unconfigured and every Suggest call fails with ErrNotConfigured.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &GeminiClient{model: cfg.Model}
	if cfg.APIKey == "" {
		return c, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/",
			APIVersion: DefaultAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	c.client = client
	return c, nil
}

func (c *GeminiClient) Suggest(ctx context.Context, topic string) ([]string, error) {
	if c.client == nil {
		return nil, ErrNotConfigured
	}

	prompt := fmt.Sprintf(promptTemplate, MaxSuggestions, topic)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("calling gemini: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return ParseSuggestions(resp.Text()), nil
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)

// ParseSuggestions splits model output into at most MaxSuggestions
// non-empty lines with bullets and numbering removed.
func ParseSuggestions(text string) []string {
	out := make([]string, 0, MaxSuggestions)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out
}
