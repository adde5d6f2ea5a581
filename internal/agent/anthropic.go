package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
	"github.com/worldwidesoldier/sales-coach-ai/internal/playbook"
)

const (
	// DefaultAnthropicBaseURL is the public Messages API endpoint.
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	// AnthropicAPIVersion is sent in the anthropic-version header.
	AnthropicAPIVersion = "2023-06-01"

	analysisMaxTokens = 1500
	jsonPrefill       = "{"
)

var errEmptyCompletion = errors.New("anthropic returned no text content")

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// AnthropicClient generates coaching payloads with the Anthropic Messages API.
type AnthropicClient struct {
	cfg        AnthropicConfig
	prompts    playbook.Prompts
	httpClient *http.Client
	logger     *slog.Logger
}

// APIError is a non-2xx response from the Messages API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("anthropic: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// NewAnthropicClient creates a Messages API client.
func NewAnthropicClient(cfg AnthropicConfig, prompts playbook.Prompts, logger *slog.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAnthropicBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	logger.Info("Anthropic client initialized", "model", cfg.Model)

	return &AnthropicClient{
		cfg:        cfg,
		prompts:    prompts,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Suggest implements Generator.
func (c *AnthropicClient) Suggest(ctx context.Context, req SuggestRequest) ([]byte, error) {
	var b strings.Builder
	b.WriteString("Analyze this sales call conversation and provide coaching:\n\n")
	b.WriteString(FormatConversation(req.Turns, PromptTurns))
	if req.Stage.Stage != "" {
		fmt.Fprintf(&b, "\n\nLocal stage estimate: %s (confidence %d)", req.Stage.Stage, req.Stage.Confidence)
		fmt.Fprintf(&b, "\nCompleted objectives: %s", strings.Join(objectiveIDs(req.Objectives.Completed), ", "))
		fmt.Fprintf(&b, "\nRemaining objectives: %s", strings.Join(objectiveIDs(req.Objectives.Remaining), ", "))
	}
	b.WriteString("\n\nRespond only with the JSON object described in your instructions.")

	return c.complete(ctx, anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      c.systemPrompt(req),
		Messages: []anthropicMessage{
			{Role: "user", Content: b.String()},
			{Role: "assistant", Content: jsonPrefill},
		},
	})
}

// Analyze implements Generator.
func (c *AnthropicClient) Analyze(ctx context.Context, req AnalyzeRequest) ([]byte, error) {
	prompt := fmt.Sprintf("CALL DURATION: %.0f seconds\n\nCONVERSATION:\n%s\n\n%s",
		req.DurationSeconds, FormatConversation(req.Turns, 0), c.prompts.Analysis)

	return c.complete(ctx, anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   analysisMaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
			{Role: "assistant", Content: jsonPrefill},
		},
	})
}

// Healthy implements Generator.
func (c *AnthropicClient) Healthy(_ context.Context) bool {
	return c.cfg.APIKey != ""
}

// Close implements Generator.
func (c *AnthropicClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *AnthropicClient) systemPrompt(req SuggestRequest) string {
	if req.Mode == domain.ModeGuidance {
		return c.prompts.GuidanceSystem
	}
	return c.prompts.LegacySystem
}

// complete sends one Messages request and returns the prefilled JSON text.
func (c *AnthropicClient) complete(ctx context.Context, body anthropicRequest) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", AnthropicAPIVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close anthropic response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Type: "provider_error", Message: string(respBody)}
		var eb anthropicErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Type != "" {
			apiErr.Type = eb.Error.Type
			apiErr.Message = eb.Error.Message
		}
		return nil, apiErr
	}

	var out anthropicResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" {
			c.logger.Debug("Anthropic completion received",
				"model", c.cfg.Model,
				"stop_reason", out.StopReason,
				"latency_ms", time.Since(start).Milliseconds())
			return []byte(jsonPrefill + block.Text), nil
		}
	}
	return nil, errEmptyCompletion
}
