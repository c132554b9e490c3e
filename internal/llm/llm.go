// Package llm runs chat completions against an OpenAI-compatible provider
// with bounded concurrency, a sliding-window request budget, and retries on
// transient failures. Callers parse the returned text themselves; the
// pipe-delimited field helpers in this package cover the grading formats
// the node's prompts ask for.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"

	"github.com/postfiatorg/pftnoded/internal/logging"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

var (
	// ErrMissingToken is returned when the provider token is empty.
	ErrMissingToken = errors.New("llm: api token is empty")

	// ErrEmptyCompletion is returned when the provider answers with no
	// usable text.
	ErrEmptyCompletion = errors.New("llm: empty completion")

	// ErrRateLimited marks a provider rejection for exceeding its request
	// budget. Retried like any transient failure.
	ErrRateLimited = errors.New("llm: provider rate limited")

	// ErrTransient marks any other provider failure worth retrying.
	ErrTransient = errors.New("llm: transient provider failure")
)

// Request is one chat completion: an optional system frame plus the user
// prompt. ID is the caller's correlation key and is echoed in the batch
// result.
type Request struct {
	ID     string
	System string
	User   string
}

// Result pairs a batch request with its completion or error.
type Result struct {
	ID   string
	Text string
	Err  error
}

// Gateway runs completions against one model.
type Gateway struct {
	model       llms.Model
	logger      logging.Logger
	concurrency int
	retries     int
	retryDelay  time.Duration
	limiter     *limiter
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithConcurrency caps how many batch completions run at once.
func WithConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithRetry sets how many times a failed call is retried and the pause
// between attempts. Zero retries disables retrying.
func WithRetry(n int, delay time.Duration) Option {
	return func(g *Gateway) {
		if n >= 0 {
			g.retries = n
		}
		if delay >= 0 {
			g.retryDelay = delay
		}
	}
}

// WithRateLimit caps requests per sliding window. A zero limit removes the
// budget.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(g *Gateway) {
		g.limiter = newLimiter(limit, window)
	}
}

// New wraps a model with the gateway's batching, budget and retry
// behavior. Defaults: 10 concurrent calls, 30 requests per minute, 2
// retries 5 s apart.
func New(model llms.Model, options ...Option) *Gateway {
	g := &Gateway{
		model:       model,
		logger:      logging.NopLogger{},
		concurrency: 10,
		retries:     2,
		retryDelay:  5 * time.Second,
		limiter:     newLimiter(30, time.Minute),
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// NewOpenRouter builds a gateway over OpenRouter's OpenAI-compatible API.
func NewOpenRouter(token, model string, options ...Option) (*Gateway, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	client, err := openai.New(
		openai.WithBaseURL(OpenRouterBaseURL),
		openai.WithToken(token),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: init openrouter client: %w", err)
	}
	return New(client, options...), nil
}

// CompleteSync runs one completion, blocking through the rate budget and
// retrying transient failures.
func (g *Gateway) CompleteSync(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("llm retry %d/%d for %q: %v", attempt, g.retries, req.ID, lastErr)
			if err := sleepCtx(ctx, g.retryDelay); err != nil {
				return "", err
			}
		}
		if err := g.limiter.wait(ctx); err != nil {
			return "", err
		}

		text, err := g.generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", fmt.Errorf("llm: completion %q failed after %d attempt(s): %w", req.ID, g.retries+1, lastErr)
}

// CompleteBatch runs the requests concurrently and returns one result per
// request in input order. Failures are reported per item, never as a batch
// error.
func (g *Gateway) CompleteBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var grp errgroup.Group
	grp.SetLimit(g.concurrency)
	for i := range reqs {
		grp.Go(func() error {
			text, err := g.CompleteSync(ctx, reqs[i])
			results[i] = Result{ID: reqs[i].ID, Text: text, Err: err}
			return nil
		})
	}
	grp.Wait()
	return results
}

func (g *Gateway) generate(ctx context.Context, req Request) (string, error) {
	messages := make([]llms.MessageContent, 0, 2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.User))

	resp, err := g.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// classify folds provider errors into the package's retryable categories.
// OpenAI-compatible providers signal budget rejections with HTTP 429; the
// client library only surfaces the message, so the status is matched there.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
