// Package llm implements the research collaborator on an OpenAI-compatible
// chat completions API.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/alejandrodnm/sentibot/internal/ports"
)

const (
	maxOutputTokens   = 300
	defaultRatePerSec = 2
)

// Config selects the endpoint and models.
type Config struct {
	APIKey       string
	BaseURL      string // empty = api.openai.com
	Model        string // research mode
	AnalystModel string // analyst mode
	Temperature  float64
	RatePerSec   float64
}

// Client is a ports.Researcher and ports.CostEstimator.
type Client struct {
	api     openai.Client
	cfg     Config
	limiter *rate.Limiter
	context ports.MentionSource
}

// Option configures a Client.
type Option func(*Client)

// WithContextSource makes the client read recent posts from src and add them
// to the prompt whenever a request carries src's read quota.
func WithContextSource(src ports.MentionSource) Option {
	return func(c *Client) { c.context = src }
}

// New builds a Client. Retries are left to the caller.
func New(cfg Config, opts ...Option) *Client {
	if cfg.AnalystModel == "" {
		cfg.AnalystModel = cfg.Model
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	c := &Client{
		api:     openai.NewClient(reqOpts...),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ModelFor routes a request: an explicit model wins, otherwise analyst mode
// uses the analyst model.
func (c *Client) ModelFor(req domain.ResearchRequest) string {
	if req.Model != "" {
		return req.Model
	}
	if req.Mode == domain.ModeAnalyst {
		return c.cfg.AnalystModel
	}
	return c.cfg.Model
}

// EstimateUSD prices the prompt without context posts plus a full reply.
func (c *Client) EstimateUSD(req domain.ResearchRequest) float64 {
	in := approxTokens(system(req.Mode)) + approxTokens(userPrompt(req, nil))
	if c.readsContext(req) {
		in += maxContextPosts * 80
	}
	return CostUSD(c.ModelFor(req), in, maxOutputTokens)
}

// Research asks the model for a verdict on req.
func (c *Client) Research(ctx context.Context, req domain.ResearchRequest) (domain.ResearchResult, error) {
	model := c.ModelFor(req)
	posts := c.contextPosts(ctx, req)

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.ResearchResult{}, fmt.Errorf("llm.Research: rate limiter: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Model: APIModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system(req.Mode)),
			openai.UserMessage(userPrompt(req, posts)),
		},
		Temperature:         openai.Float(c.cfg.Temperature),
		MaxCompletionTokens: openai.Int(maxOutputTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: lo.ToPtr(shared.NewResponseFormatJSONObjectParam()),
		},
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.ResearchResult{}, fmt.Errorf("llm.Research: %s: completion: %w", req.Ticker, err)
	}

	usage := domain.Usage{
		TokensIn:  completion.Usage.PromptTokens,
		TokensOut: completion.Usage.CompletionTokens,
	}
	usage.USD = CostUSD(model, usage.TokensIn, usage.TokensOut)

	if len(completion.Choices) == 0 {
		return domain.ResearchResult{Usage: usage}, fmt.Errorf("llm.Research: %s: no choices", req.Ticker)
	}
	rec, conf, reasoning, err := ParseVerdict(completion.Choices[0].Message.Content)
	if err != nil {
		return domain.ResearchResult{Usage: usage}, fmt.Errorf("llm.Research: %s: %w", req.Ticker, err)
	}

	return domain.ResearchResult{
		Ticker:         req.Ticker,
		PositionID:     req.PositionID,
		Mode:           req.Mode,
		Model:          model,
		Recommendation: rec,
		Confidence:     conf,
		Reasoning:      reasoning,
		Usage:          usage,
		CompletedAt:    time.Now().UTC(),
	}, nil
}

func (c *Client) readsContext(req domain.ResearchRequest) bool {
	return c.context != nil && req.QuotaSource != "" && req.QuotaSource == c.context.Name()
}

// contextPosts reads recent posts for the prompt. A failed read only loses
// context; the call still goes ahead.
func (c *Client) contextPosts(ctx context.Context, req domain.ResearchRequest) []domain.RawMention {
	if !c.readsContext(req) {
		return nil
	}
	posts, err := c.context.FetchMentions(ctx, req.Ticker)
	if err != nil {
		slog.Warn("llm: context read failed", "ticker", req.Ticker, "source", req.QuotaSource, "err", err)
		return nil
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].PostedAt.After(posts[j].PostedAt) })
	return posts
}
