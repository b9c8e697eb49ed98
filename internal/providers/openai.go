package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/skillpress/skillpress/internal/stage"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = openai.ChatModelGPT4o
)

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	BaseURL     string       // Optional (tests)
	HTTPClient  *http.Client // Optional (tests)
}

// OpenAIProvider implements Provider using the official OpenAI SDK.
// SDK-level retries are disabled: the stage executor owns retry policy
// so attempt counts in the ledger stay truthful.
type OpenAIProvider struct {
	model       string
	temperature float64
	maxTokens   int
	client      openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return OpenAIName
}

// HealthCheck verifies the API is reachable and the API key is valid.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	page, err := p.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai models list failed: %w", mapOpenAIError(err))
	}
	if page == nil {
		return fmt.Errorf("openai models list returned nil response")
	}
	return nil
}

// Process sends a chat completion request.
func (p *OpenAIProvider) Process(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if req == nil {
		return nil, stage.Permanent(fmt.Errorf("request is required"))
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, stage.Permanent(fmt.Errorf("prompt is required"))
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if s := strings.TrimSpace(req.System); s != "" {
		messages = append(messages, openai.SystemMessage(s))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, stage.Transient(fmt.Errorf("no choices in response"))
	}

	return &Response{
		Content:          resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Duration:         time.Since(start),
	}, nil
}

// mapOpenAIError translates SDK errors into the stage error taxonomy.
// Rate limits, server errors, and timeouts are transient; auth and
// invalid-request errors are permanent.
func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return stage.Transient(err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return stage.Transient(fmt.Errorf("openai rate limited: %s", apiErr.Message))
		case apiErr.StatusCode >= 500:
			return stage.Transient(fmt.Errorf("openai server error (status %d): %s", apiErr.StatusCode, apiErr.Message))
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return stage.Permanent(fmt.Errorf("openai auth error (status %d): %s", apiErr.StatusCode, apiErr.Message))
		case apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity:
			return stage.Permanent(fmt.Errorf("openai rejected request (status %d): %s", apiErr.StatusCode, apiErr.Message))
		default:
			return stage.Transient(fmt.Errorf("openai error (status %d): %s", apiErr.StatusCode, apiErr.Message))
		}
	}

	// Network-level failures without an API response are transient.
	return stage.Transient(err)
}

// Verify interface
var _ Provider = (*OpenAIProvider)(nil)
