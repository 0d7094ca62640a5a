// Package api talks to the OpenAI-compatible endpoint behind the "llm" optimization engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lamim/optiforge/internal/config"
	"github.com/lamim/optiforge/internal/metrics"
	"github.com/lamim/optiforge/internal/util"
	"github.com/lamim/optiforge/pkg/models"
)

const (
	// EngineName selects this client in an optimization's engine field
	EngineName = "llm"
	// DefaultHTTPTimeout is used when engine.http_timeout_seconds is 0
	DefaultHTTPTimeout = 300 * time.Second
)

// ErrEmptyOptimization is returned when the model answers with no prompt
var ErrEmptyOptimization = errors.New("engine returned an empty prompt")

// Client sends single-attempt chat completions; failed calls are not retried
type Client struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	cfg             config.EngineConfig
	apiKey          string
	logger          *slog.Logger
	metrics         *metrics.Collector
}

// NewClient creates an engine client for the configured endpoint
func NewClient(cfg config.EngineConfig, apiKey string, logger *slog.Logger, collector *metrics.Collector) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := DefaultHTTPTimeout
	if cfg.HTTPTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSeconds) * time.Second
	}
	return &Client{
		httpClient:      &http.Client{Timeout: timeout},
		rateLimiterPool: NewRateLimiterPool(logger),
		cfg:             cfg,
		apiKey:          apiKey,
		logger:          logger,
		metrics:         collector,
	}
}

// Optimize renders the engine template from the baseline prompt and trainset
// examples and returns the rewritten prompt
func (c *Client) Optimize(ctx context.Context, req OptimizeRequest) (string, error) {
	examples := selectExamples(req.Examples, c.cfg.MaxExamples)

	userPrompt, err := util.RenderTemplate(c.cfg.PromptTemplate, map[string]any{
		"Prompt":   req.Prompt,
		"Scope":    req.Scope.OrDefault(),
		"Examples": examples,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render engine template: %w", err)
	}

	messages := make([]Message, 0, 2)
	if c.cfg.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: c.cfg.SystemPrompt})
	}
	messages = append(messages, Message{Role: "user", Content: userPrompt})

	start := time.Now()
	resp, err := c.ChatCompletion(ctx, messages)
	c.metrics.RecordEngineRequest(EngineName, time.Since(start), err == nil)
	if err != nil {
		return "", err
	}

	optimized := util.CleanEngineOutput(resp.Choices[0].Message.Content)
	if optimized == "" {
		return "", ErrEmptyOptimization
	}

	c.logger.Debug("Engine produced prompt",
		"examples", len(examples),
		"tokens", resp.Usage.TotalTokens,
		"preview", util.TruncateString(optimized, 80))
	return optimized, nil
}

// selectExamples keeps at most limit examples, alternating polarities so both stay represented
func selectExamples(all []Example, limit int) []Example {
	if limit <= 0 || len(all) <= limit {
		return all
	}

	var negatives, positives []Example
	for _, ex := range all {
		if ex.Polarity == models.PolarityNegative {
			negatives = append(negatives, ex)
		} else {
			positives = append(positives, ex)
		}
	}

	selected := make([]Example, 0, limit)
	for i := 0; len(selected) < limit; i++ {
		if i < len(negatives) {
			selected = append(selected, negatives[i])
		}
		if i < len(positives) && len(selected) < limit {
			selected = append(selected, positives[i])
		}
	}
	return selected
}

// ChatCompletion sends one chat completion request after waiting on the rate limiter
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (*ChatCompletionResponse, error) {
	modelID := fmt.Sprintf("%s:%s", c.cfg.BaseURL, c.cfg.ModelName)

	waited, err := c.rateLimiterPool.Wait(ctx, modelID, c.cfg.RateLimitPerMinute)
	c.metrics.RecordRateLimiterWait(c.cfg.ModelName, waited)
	if err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	return c.doRequest(ctx, ChatCompletionRequest{
		Model:       c.cfg.ModelName,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxOutputTokens,
		N:           1,
	})
}

func (c *Client) doRequest(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	} else {
		c.logger.Warn("Engine request without key", "endpoint", endpoint)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, &APIError{Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &APIError{
				Message:    errResp.Error.Message,
				StatusCode: httpResp.StatusCode,
				Type:       errResp.Error.Type,
				Code:       errResp.Error.Code,
			}
		}
		return nil, &APIError{
			Message:    fmt.Sprintf("request failed with status %d: %s", httpResp.StatusCode, util.TruncateString(string(respBody), 200)),
			StatusCode: httpResp.StatusCode,
		}
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned in response")
	}

	return &resp, nil
}

// APIError is an engine endpoint failure
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("engine API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("engine API error: %s", e.Message)
}
