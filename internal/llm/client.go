package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/oakline/advisory/internal/provider"
)

// ErrEmptyResponse is returned when the model produced no text even after
// the amended fallback retry.
var ErrEmptyResponse = errors.New("llm: empty response after fallback retry")

// fallbackTemperature is used for the single amended retry after an empty
// response. Low temperature nudges the model toward a plain generic answer.
const fallbackTemperature = 0.2

// Params controls a single completion call.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// RetryPolicy describes how transient provider failures are retried:
// attempt budget, exponential backoff schedule, and which errors count as
// retryable. It is independent of any agent business logic.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	Retryable      func(error) bool
}

// DefaultRetryPolicy retries transport faults and rate limits up to three
// attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2.0,
		Retryable:      DefaultRetryable,
	}
}

// DefaultRetryable treats rate limiting and server faults as transient.
// Context cancellation and open-breaker rejections are never retried.
func DefaultRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Anything else from the transport layer (connection resets, timeouts
	// inside the HTTP client) is worth another attempt.
	return true
}

// BreakerConfig tunes the circuit breaker around provider calls.
type BreakerConfig struct {
	MaxFailures uint32
	Timeout     time.Duration
}

// Client is the reasoning gateway shared by agents and memory stores. It
// wraps the provider router with a retry policy and a circuit breaker, and
// implements the amended-prompt retry for empty model responses.
type Client struct {
	router  *provider.Router
	model   string
	policy  RetryPolicy
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient creates a reasoning client for the given default model.
func NewClient(router *provider.Router, model string, policy RetryPolicy, bc BreakerConfig, logger *zap.Logger) *Client {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	if policy.Retryable == nil {
		policy.Retryable = DefaultRetryable
	}
	if bc.MaxFailures == 0 {
		bc.MaxFailures = 3
	}
	if bc.Timeout == 0 {
		bc.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm",
		Timeout: bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{
		router:  router,
		model:   model,
		policy:  policy,
		breaker: breaker,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Complete runs one reasoning call for the named agent. Transport failures
// are retried per the policy; an empty response triggers exactly one
// amended retry asking for a generic, non-personalized answer at low
// temperature before giving up.
func (c *Client) Complete(ctx context.Context, agentID, system, prompt string, p Params) (string, error) {
	text, err := c.callWithRetry(ctx, agentID, system, prompt, p)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	c.logger.Warn("empty model response, retrying with generic fallback prompt",
		zap.String("agent", agentID))

	amended := prompt + "\n\nIf you cannot tailor the answer to this specific client, " +
		"provide a generic, non-personalized answer instead."
	fp := p
	fp.Temperature = fallbackTemperature

	text, err = c.callWithRetry(ctx, agentID, system, amended, fp)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *Client) callWithRetry(ctx context.Context, agentID, system, prompt string, p Params) (string, error) {
	req := &provider.ChatRequest{
		Model:       c.model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	if system == "" {
		req.Messages = req.Messages[1:]
	}

	backoff := c.policy.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.router.Route(ctx, agentID, req)
		})
		if err == nil {
			return result.(*provider.ChatResponse).Content, nil
		}
		lastErr = err

		if !c.policy.Retryable(err) {
			return "", err
		}
		c.logger.Warn("llm call failed",
			zap.String("agent", agentID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == c.policy.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return "", err
		}
		backoff = time.Duration(float64(backoff) * c.policy.Multiplier)
	}
	return "", lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
