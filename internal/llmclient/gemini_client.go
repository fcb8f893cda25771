// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/navigator/internal/agent"
	"github.com/xkilldash9x/navigator/internal/config"
)

const jsonMIMEType = "application/json"

// GeminiClient implements agent.Reasoner on top of the Gemini API.
// It performs exactly one request per Infer call; retry policy belongs to the loop.
type GeminiClient struct {
	client  *genai.Client
	model   string
	config  config.LLMModelConfig
	system  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewGeminiClient initializes the client. viewport sizes the coordinate rules in
// the system prompt.
func NewGeminiClient(ctx context.Context, cfg config.LLMModelConfig, viewport agent.Bounds, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini model name is required")
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.APITimeout},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   cfg.Model,
		config:  cfg,
		system:  SystemPrompt(viewport),
		limiter: newLimiter(cfg.RequestsPerMinute),
		logger:  logger.Named("llm_client.gemini").With(zap.String("model", cfg.Model)),
	}, nil
}

// newLimiter spaces requests evenly at rpm per minute. Zero or less disables it.
func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Model returns the model identifier.
func (c *GeminiClient) Model() string { return c.model }

// Infer sends the screenshot, goal and history and returns the raw response text.
func (c *GeminiClient) Infer(ctx context.Context, req agent.InferenceRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", classify(ctxErr)
		}
		// The next token would arrive after the deadline.
		return "", &agent.ReasoningError{Kind: agent.KindRateLimited, Err: err}
	}

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, c.buildContents(req), c.buildConfig())
	duration := time.Since(start)
	if err != nil {
		rerr := classify(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			rerr = &agent.ReasoningError{Kind: agent.KindReasoningTimeout, Err: err}
		}
		c.logger.Warn("Gemini request failed.",
			zap.String("kind", string(rerr.Kind)),
			zap.Duration("duration", duration),
			zap.Error(err))
		return "", rerr
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &agent.ReasoningError{Kind: agent.KindMalformed, Err: emptyReason(resp)}
	}

	fields := []zap.Field{zap.Duration("duration", duration), zap.Int("step", req.StepIndex)}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount))
	}
	c.logger.Debug("LLM generation complete.", fields...)
	return text, nil
}

func (c *GeminiClient) buildContents(req agent.InferenceRequest) []*genai.Content {
	parts := make([]*genai.Part, 0, 2)
	if !req.Screenshot.Empty() {
		mime := req.Screenshot.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Screenshot.Data, mime))
	}
	parts = append(parts, genai.NewPartFromText(UserPrompt(req)))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func (c *GeminiClient) buildConfig() *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(c.system, genai.RoleUser),
		Temperature:       genai.Ptr(c.config.Temperature),
		MaxOutputTokens:   int32(c.config.MaxTokens),
		ResponseMIMEType:  jsonMIMEType,
		SafetySettings:    c.safetySettings(),
	}
	if c.config.TopP > 0 {
		gc.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK > 0 {
		gc.TopK = genai.Ptr(float32(c.config.TopK))
	}
	return gc
}

func (c *GeminiClient) safetySettings() []*genai.SafetySetting {
	if len(c.config.SafetyFilters) == 0 {
		return nil
	}
	categories := make([]string, 0, len(c.config.SafetyFilters))
	for category := range c.config.SafetyFilters {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, category := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  genai.HarmCategory(category),
			Threshold: genai.HarmBlockThreshold(c.config.SafetyFilters[category]),
		})
	}
	return settings
}

// classify maps a transport or API failure onto a ReasoningError kind.
func classify(err error) *agent.ReasoningError {
	var (
		apiErr genai.APIError
		netErr net.Error
	)
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return &agent.ReasoningError{Kind: agent.KindRateLimited, Err: err}
		case apiErr.Code == http.StatusRequestTimeout || apiErr.Code == http.StatusGatewayTimeout:
			return &agent.ReasoningError{Kind: agent.KindReasoningTimeout, Err: err}
		case apiErr.Code >= http.StatusInternalServerError:
			return &agent.ReasoningError{Kind: agent.KindUnavailable, Err: err}
		default:
			return &agent.ReasoningError{Kind: agent.KindMalformed, Err: err}
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &agent.ReasoningError{Kind: agent.KindReasoningTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &agent.ReasoningError{Kind: agent.KindReasoningTimeout, Err: err}
	default:
		return &agent.ReasoningError{Kind: agent.KindUnavailable, Err: err}
	}
}

// emptyReason explains a response that carried no text.
func emptyReason(resp *genai.GenerateContentResponse) error {
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return fmt.Errorf("prompt blocked: %s", fb.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		return fmt.Errorf("empty response (finish reason %s)", resp.Candidates[0].FinishReason)
	}
	return errors.New("empty response")
}
