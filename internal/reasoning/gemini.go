package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"autopilot/internal/health"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiBackend executes prompts against the Gemini API
type GeminiBackend struct {
	client  *genai.Client
	model   string
	catalog *Catalog
	limiter *rate.Limiter
	health  *health.Tracker
}

// NewGeminiBackend creates a Gemini-backed reasoning backend
func NewGeminiBackend(ctx context.Context, apiKey, model string, requestsPerSecond float64, catalog *Catalog) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	log.Printf("✅ [REASONING] Gemini backend ready (model: %s)", model)

	return &GeminiBackend{
		client:  client,
		model:   model,
		catalog: catalog,
		limiter: limiter,
		health:  health.NewTracker("reasoning", 3, time.Minute),
	}, nil
}

// Health exposes the provider's failure tracker
func (b *GeminiBackend) Health() *health.Tracker {
	return b.health
}

// ExecutePrompt renders the prompt and asks Gemini for a JSON answer
func (b *GeminiBackend) ExecutePrompt(ctx context.Context, promptID string, input interface{}) (json.RawMessage, error) {
	prompt, ok := b.catalog.Get(promptID)
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", promptID)
	}

	if err := b.health.Available(); err != nil {
		return nil, err
	}

	userMessage, err := prompt.UserMessage(input)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(prompt.Temperature)),
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model,
		[]*genai.Content{genai.NewContentFromText(userMessage, genai.RoleUser)},
		config,
	)
	if err != nil {
		if ctx.Err() == nil {
			if f := geminiFailure(err); f.Counts() {
				b.health.MarkUnhealthy(f)
			}
		}
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	b.health.MarkHealthy()

	return toJSON(resp.Text())
}

// geminiFailure keeps the HTTP code and RPC status of genai API errors
func geminiFailure(err error) health.Failure {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return health.Failure{HTTPStatus: apiErr.Code, Code: apiErr.Status, Message: apiErr.Message}
	}
	return health.Failure{Message: err.Error()}
}
