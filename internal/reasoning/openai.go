package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"autopilot/internal/health"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures an OpenAI-compatible chat completions backend
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// RequestsPerSecond caps outgoing calls. Zero means unlimited.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// OpenAIBackend executes prompts through /chat/completions with structured output
type OpenAIBackend struct {
	cfg        OpenAIConfig
	catalog    *Catalog
	httpClient *http.Client
	limiter    *rate.Limiter
	health     *health.Tracker
	logger     *logrus.Logger
}

// NewOpenAIBackend creates a backend for any provider speaking the OpenAI API
func NewOpenAIBackend(cfg OpenAIConfig, catalog *Catalog) *OpenAIBackend {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger.WithFields(logrus.Fields{
		"baseURL": cfg.BaseURL,
		"model":   cfg.Model,
	}).Info("Reasoning backend initialized")

	return &OpenAIBackend{
		cfg:        cfg,
		catalog:    catalog,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		health:     health.NewTracker("reasoning", 3, time.Minute),
		logger:     logger,
	}
}

// Health exposes the provider's failure tracker
func (b *OpenAIBackend) Health() *health.Tracker {
	return b.health
}

// ExecutePrompt renders the prompt, calls the model and returns its JSON answer
func (b *OpenAIBackend) ExecutePrompt(ctx context.Context, promptID string, input interface{}) (json.RawMessage, error) {
	prompt, ok := b.catalog.Get(promptID)
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", promptID)
	}

	// Fail fast while the provider is cooling down
	if err := b.health.Available(); err != nil {
		return nil, err
	}

	userMessage, err := prompt.UserMessage(input)
	if err != nil {
		return nil, err
	}

	requestBody := map[string]interface{}{
		"model": b.cfg.Model,
		"messages": []map[string]interface{}{
			{"role": "system", "content": prompt.System},
			{"role": "user", "content": userMessage},
		},
		"stream":      false,
		"temperature": prompt.Temperature,
	}
	if len(prompt.Schema) > 0 {
		requestBody["response_format"] = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   strings.ReplaceAll(promptID, ".", "_"),
				"strict": false,
				"schema": prompt.Schema,
			},
		}
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.cfg.BaseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	start := time.Now()
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		b.logger.WithError(err).WithField("prompt", promptID).Warn("Reasoning request failed")
		if ctx.Err() == nil {
			b.health.MarkUnhealthy(health.Failure{Message: err.Error()})
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		b.logger.WithFields(logrus.Fields{
			"prompt": promptID,
			"status": resp.StatusCode,
		}).Warn("Reasoning API error")
		if f := openAIFailure(resp.StatusCode, body); f.Counts() {
			b.health.MarkUnhealthy(f)
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(string(body), 512))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	b.health.MarkHealthy()

	result, err := toJSON(apiResponse.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	b.logger.WithFields(logrus.Fields{
		"prompt":   promptID,
		"duration": time.Since(start).String(),
	}).Debug("Reasoning prompt executed")

	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// openAIFailure reads an OpenAI-compatible error body:
// {"error": {"message": "...", "type": "...", "code": "..."}}
func openAIFailure(status int, body []byte) health.Failure {
	f := health.Failure{HTTPStatus: status, Message: truncate(string(body), 512)}

	var envelope struct {
		Error struct {
			Message string      `json:"message"`
			Type    string      `json:"type"`
			Code    interface{} `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return f
	}
	if envelope.Error.Message != "" {
		f.Message = envelope.Error.Message
	}
	// code is a string for OpenAI, a number or null for some compatible servers
	if code, ok := envelope.Error.Code.(string); ok && code != "" {
		f.Code = code
	} else {
		f.Code = envelope.Error.Type
	}
	return f
}
