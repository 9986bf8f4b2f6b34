package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/alejandroruanova/debate-engine/internal/core/services/progression"
	"github.com/alejandroruanova/debate-engine/internal/pkg/config"
	apperrors "github.com/alejandroruanova/debate-engine/internal/pkg/errors"
)

const (
	defaultMaxAttempts = 3
	initialInterval    = 500 * time.Millisecond
	maxInterval        = 10 * time.Second
)

var _ progression.Completer = (*Client)(nil)

// Client calls an OpenAI-compatible chat completion endpoint (DeepSeek by default)
type Client struct {
	api         *openai.Client
	maxAttempts int
	initial     time.Duration
	ceiling     time.Duration
	logger      *slog.Logger
}

// NewClient creates a completion client from cfg
func NewClient(cfg *config.LLMConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		maxAttempts: attempts,
		initial:     initialInterval,
		ceiling:     maxInterval,
		logger:      logger,
	}
}

// Complete sends one chat completion, retrying transient failures with
// exponential backoff. JSON output requests the json_object response format.
func (c *Client) Complete(ctx context.Context, req progression.CompletionRequest) (*progression.CompletionResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens: req.MaxTokens,
	}
	if req.JSONOutput {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var resp openai.ChatCompletionResponse
	attempt := 0
	op := func() error {
		attempt++
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, chatReq)
		if err != nil && (ctx.Err() != nil || !retryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, c.policy(ctx), func(err error, wait time.Duration) {
		c.logger.Warn("model call failed, retrying",
			slog.String("model", req.Model),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
	if err != nil {
		if statusCode(err) == http.StatusTooManyRequests {
			return nil, apperrors.LLMRateLimited(err)
		}
		return nil, apperrors.LLMRequestFailed(err)
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.LLMInvalidResponse("completion returned no choices")
	}

	msg := resp.Choices[0].Message
	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &progression.CompletionResult{
		Content: strings.TrimSpace(msg.Content),
		Model:   model,
		Usage: map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		},
		Metadata: map[string]any{
			"has_reasoning_content": msg.ReasoningContent != "",
			"finish_reason":         string(resp.Choices[0].FinishReason),
			"attempts":              attempt,
		},
	}, nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.ceiling
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)
}

// retryable is false only for client errors other than 408 and 429
func retryable(err error) bool {
	code := statusCode(err)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
