package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"autopilot/internal/health"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestLoadCatalog_BuiltIn(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	for _, id := range []string{PromptIntentPredict, PromptDraftGenerate, PromptLearningAnalyze} {
		p, ok := c.Get(id)
		require.True(t, ok, "missing %s", id)
		assert.NotEmpty(t, p.System)
		assert.NotEmpty(t, p.Schema)
	}
}

func TestLoadCatalog_RejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompts:\n  - id: intent.predict\n    system: hi\n"), 0o644))

	_, err := LoadCatalog(path)
	assert.Error(t, err)
}

func TestCatalog_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, defaultPrompts, 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))
	assert.Error(t, c.Reload())

	_, ok := c.Get(PromptIntentPredict)
	assert.True(t, ok)
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, stripMarkdownCodeBlock(tt.in))
	}
}

func TestOpenAIBackend_ExecutePrompt(t *testing.T) {
	var captured map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{
					"content": "```json\n{\"predicted_need\":\"reschedule\",\"confidence\":0.99,\"reasoning\":\"missed\"}\n```",
				}},
			},
		})
	}))
	defer server.Close()

	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	b := NewOpenAIBackend(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "test-key", Model: "test-model"}, catalog)
	raw, err := b.ExecutePrompt(context.Background(), PromptIntentPredict, map[string]string{"eventId": "e1"})
	require.NoError(t, err)

	pred, err := Decode[IntentPrediction](raw)
	require.NoError(t, err)
	assert.Equal(t, "reschedule", pred.PredictedNeed)
	assert.Equal(t, 0.99, pred.Confidence)

	assert.Equal(t, "test-model", captured["model"])
	format, ok := captured["response_format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestOpenAIBackend_Errors(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"slow down"}`))
		}))
		defer server.Close()

		b := NewOpenAIBackend(OpenAIConfig{BaseURL: server.URL}, catalog)
		_, err := b.ExecutePrompt(context.Background(), PromptIntentPredict, nil)
		assert.ErrorContains(t, err, "429")
	})

	t.Run("invalid json content", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[{"message":{"content":"I think you need coffee"}}]}`))
		}))
		defer server.Close()

		b := NewOpenAIBackend(OpenAIConfig{BaseURL: server.URL}, catalog)
		_, err := b.ExecutePrompt(context.Background(), PromptIntentPredict, nil)
		assert.Error(t, err)
	})

	t.Run("unknown prompt", func(t *testing.T) {
		b := NewOpenAIBackend(OpenAIConfig{BaseURL: "http://127.0.0.1:0"}, catalog)
		_, err := b.ExecutePrompt(context.Background(), "nope", nil)
		assert.ErrorContains(t, err, "unknown prompt")
	})
}

func TestOpenAIBackend_CoolsDownOnQuotaErrors(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached for requests","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	b := NewOpenAIBackend(OpenAIConfig{BaseURL: server.URL}, catalog)
	_, err = b.ExecutePrompt(context.Background(), PromptIntentPredict, nil)
	require.Error(t, err)

	_, err = b.ExecutePrompt(context.Background(), PromptIntentPredict, nil)
	var cooling *health.ErrCoolingDown
	assert.ErrorAs(t, err, &cooling)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "requests during cooldown must not reach the provider")
	assert.Error(t, b.Health().Check(context.Background()))
}

func TestOpenAIBackend_RejectedRequestsDoNotTrip(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid schema for response_format","type":"invalid_request_error","code":null}}`))
	}))
	defer server.Close()

	b := NewOpenAIBackend(OpenAIConfig{BaseURL: server.URL}, catalog)
	for i := 0; i < 5; i++ {
		_, err = b.ExecutePrompt(context.Background(), PromptIntentPredict, nil)
		assert.ErrorContains(t, err, "status 400")
	}
	assert.NoError(t, b.Health().Available())
	assert.Zero(t, b.Health().Snapshot().FailureCount)
}

func TestOpenAIFailure(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"string code", 429, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, "insufficient_quota", "You exceeded your current quota"},
		{"null code falls back to type", 400, `{"error":{"message":"bad schema","type":"invalid_request_error","code":null}}`, "invalid_request_error", "bad schema"},
		{"numeric code falls back to type", 503, `{"error":{"message":"model loading","type":"server_error","code":503}}`, "server_error", "model loading"},
		{"plain text", 502, `Bad Gateway`, "", "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := openAIFailure(tt.status, []byte(tt.body))
			assert.Equal(t, tt.status, f.HTTPStatus)
			assert.Equal(t, tt.wantCode, f.Code)
			assert.Equal(t, tt.wantMsg, f.Message)
		})
	}
}

func TestGeminiFailure(t *testing.T) {
	apiErr := genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded for metric generate_requests_per_model_per_day"}
	f := geminiFailure(fmt.Errorf("gemini request failed: %w", apiErr))
	assert.Equal(t, 429, f.HTTPStatus)
	assert.Equal(t, "RESOURCE_EXHAUSTED", f.Code)
	assert.Equal(t, 24*time.Hour, f.Cooldown())

	f = geminiFailure(errors.New("dial tcp: i/o timeout"))
	assert.Zero(t, f.HTTPStatus)
	assert.True(t, f.Counts())
}

func TestDisabled(t *testing.T) {
	_, err := Disabled().ExecutePrompt(context.Background(), PromptIntentPredict, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}
