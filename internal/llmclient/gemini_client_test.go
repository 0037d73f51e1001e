package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/custodian-cli/api/schemas"
	"github.com/xkilldash9x/custodian-cli/internal/config"
)

// -- Test Setup Helpers --

// setupGeminiClient rigs up a GeminiClient pointed at a mock HTTP server.
// It returns the client, the mock server, the configuration used, and a log observer.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server, config.ModelConfig, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		// Default handler for tests that don't require HTTP interactions
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	logger := zap.New(loggerCore)

	cfg := getValidModelConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(cfg, logger)
	require.NoError(t, err, "NewGeminiClient initialization failed")

	// Ensure tests fail fast on unexpected hangs
	client.httpClient.Timeout = 5 * time.Second

	t.Cleanup(server.Close)
	return client, server, cfg, observedLogs
}

// createTestRequest provides a standard generation request structure.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Options: schemas.GenerationOptions{
			Temperature: 0.7,
		},
	}
}

// writeGeminiSuccess writes a well-formed Gemini completion response.
func writeGeminiSuccess(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	resp := GeminiResponsePayload{}
	resp.Candidates = []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{
		{
			Content:      GeminiContent{Parts: []GeminiPart{{Text: text}}, Role: "model"},
			FinishReason: "STOP",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

// -- Test Cases: Initialization --

func TestNewGeminiClient_Success(t *testing.T) {
	logger := setupTestLogger(t)
	cfg := getValidModelConfig()
	cfg.Endpoint = ""

	client, err := NewGeminiClient(cfg, logger)

	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, cfg.APIKey, client.apiKey)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	expectedEndpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	assert.Equal(t, expectedEndpoint, client.endpoint)
}

func TestNewGeminiClient_Failure_MissingAPIKey(t *testing.T) {
	logger := setupTestLogger(t)
	cfg := getValidModelConfig()
	cfg.APIKey = ""

	client, err := NewGeminiClient(cfg, logger)

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "API Key is required")
}

// -- Test Cases: Request Payload Generation --

func TestBuildRequestPayload(t *testing.T) {
	client, _, _, _ := setupGeminiClient(t, nil)
	client.config.TopP = 0.9
	client.config.TopK = 50
	client.config.MaxTokens = 2048
	client.config.SafetyFilters = map[string]string{"CAT_A": "BLOCK_LOW"}

	req := createTestRequest()
	req.Options.ForceJSONFormat = true

	payload := client.buildRequestPayload(req)

	require.Len(t, payload.Contents, 1)
	assert.Equal(t, "user", payload.Contents[0].Role)
	assert.Equal(t, req.UserPrompt, payload.Contents[0].Parts[0].Text)
	require.NotNil(t, payload.SystemInstruction)
	assert.Equal(t, req.SystemPrompt, payload.SystemInstruction.Parts[0].Text)

	assert.Equal(t, 0.7, payload.GenerationConfig.Temperature)
	assert.Equal(t, 0.9, payload.GenerationConfig.TopP)
	assert.Equal(t, 50, payload.GenerationConfig.TopK)
	assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)

	require.Len(t, payload.SafetySettings, 1)
	assert.Equal(t, "CAT_A", payload.SafetySettings[0].Category)
	assert.Equal(t, "BLOCK_LOW", payload.SafetySettings[0].Threshold)
}

// -- Test Cases: Generation --

func TestGenerate_Success(t *testing.T) {
	var sawAPIKey atomic.Value
	client, _, _, logs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		sawAPIKey.Store(r.Header.Get("x-goog-api-key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "User query.")
		writeGeminiSuccess(t, w, "generated text")
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "generated text", out)
	assert.Equal(t, "test-api-key", sawAPIKey.Load())

	// Usage metadata gets logged on success.
	assert.Equal(t, 1, logs.FilterMessage("LLM generation complete (Gemini)").Len())
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _, _, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeGeminiSuccess(t, w, "eventually fine")
	})

	out, err := client.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	assert.Equal(t, "eventually fine", out)
	assert.GreaterOrEqual(t, calls.Load(), int32(3), "transient 503s should be retried")
}

func TestGenerate_PermanentErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	client, _, _, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "bad request"}`)
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestGenerate_SafetyBlockIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client, _, _, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		resp := GeminiResponsePayload{}
		resp.Candidates = []struct {
			Content      GeminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		}{
			{FinishReason: "SAFETY"},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	_, err := client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerate_ContextCancellation(t *testing.T) {
	client, _, _, _ := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, createTestRequest())
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	client, _, _, _ := setupGeminiClient(t, nil)
	assert.NoError(t, client.Close())
}
