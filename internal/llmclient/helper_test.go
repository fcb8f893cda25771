package llmclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
)

var testViewport = agent.Bounds{Width: 1280, Height: 720}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMModelConfig for testing purposes.
func getValidLLMConfig() config.LLMModelConfig {
	return config.LLMModelConfig{
		Provider:    config.ProviderGemini,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.1,
		MaxTokens:   256,
	}
}

// setupGeminiClient rigs up a GeminiClient pointed at a mock HTTP server.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *observer.ObservedLogs) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger, logs := setupTestLogger(t)
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGeminiClient(context.Background(), cfg, testViewport, logger)
	require.NoError(t, err, "NewGeminiClient initialization failed")
	return client, logs
}

// createTestRequest provides a standard inference request.
func createTestRequest() agent.InferenceRequest {
	return agent.InferenceRequest{
		Goal:       "find the docs",
		Screenshot: agent.Screenshot{Data: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg", Width: 1280, Height: 720},
		History:    agent.HistoryDigest{Entries: []string{"Step 1: click(10, 20) -> ok: Clicked at (10, 20)"}},
		StepIndex:  1,
		MaxSteps:   20,
	}
}
