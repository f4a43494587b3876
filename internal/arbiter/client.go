package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"stacksbot/internal/logging"
)

// LLMClient is the completion surface the arbiter needs. Kept minimal so
// tests can swap in a canned client.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeminiConfig configures the raw-HTTP Gemini client.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DefaultGeminiConfig returns production defaults. Flash-tier is plenty:
// the arbiter answers a multiple-choice question, not an open one.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:     apiKey,
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-2.0-flash",
		Timeout:    15 * time.Second,
		MaxRetries: 3,
	}
}

// GeminiClient implements LLMClient against the Gemini generateContent
// endpoint over raw HTTP.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// NewGeminiClient builds a client from config, filling blanks from
// DefaultGeminiConfig.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	def := DefaultGeminiConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends prompt with no system instruction.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a single-turn completion. The context gets the
// client timeout applied when the caller supplied no deadline. Transient
// failures (network errors, 429, 5xx) are retried with exponential
// backoff; everything else returns immediately.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	start := time.Now()
	logging.APIDebug("[Gemini] CompleteWithSystem: model=%s system_len=%d user_len=%d",
		c.model, len(systemPrompt), len(userPrompt))

	// Light rate limiting so bursts of escalations do not hammer the API.
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0,
			MaxOutputTokens:  1024,
			ResponseMimeType: "application/json",
		},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		reqBody.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)

	var response string
	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("failed to read response: %w", err))
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("rate limit exceeded (429)"))
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("server error %d: %s", resp.StatusCode, string(body)))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var parsed geminiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			return fmt.Errorf("API error: %s", parsed.Error.Message)
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return fmt.Errorf("no completion returned")
		}

		var b strings.Builder
		for _, part := range parsed.Candidates[0].Content.Parts {
			b.WriteString(part.Text)
		}
		response = strings.TrimSpace(b.String())
		return nil
	})
	if err != nil {
		logging.API("[Gemini] CompleteWithSystem failed after %v: %v", time.Since(start), err)
		return "", err
	}

	logging.APIDebug("[Gemini] CompleteWithSystem: completed in %v response_len=%d",
		time.Since(start), len(response))
	return response, nil
}
