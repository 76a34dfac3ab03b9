package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	types "github.com/yungbote/fulfillment-backend/internal/domain"
	"github.com/yungbote/fulfillment-backend/internal/platform/logger"
)

type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int64
	Temperature       float64
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
}

type Request struct {
	System string
	User   string
}

type Result struct {
	Content      string
	Model        string
	FinishReason string
	Usage        types.TokenUsage
}

// Client produces long-form text from a composed prompt.
type Client interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

type client struct {
	log     *logger.Logger
	api     openai.Client
	model   string
	opts    Options
	limiter *rate.Limiter
}

func New(log *logger.Logger, opts Options) (Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai api key missing")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai model is required")
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &client{
		log:     log.With("client", "OpenAIGeneration"),
		api:     openai.NewClient(reqOpts...),
		model:   opts.Model,
		opts:    opts,
		limiter: limiter,
	}, nil
}

func (c *client) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.User) == "" {
		return nil, errors.New("empty prompt")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	msgs := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.User))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	}
	if c.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.opts.MaxTokens)
	}
	if c.opts.Temperature > 0 {
		params.Temperature = openai.Float(c.opts.Temperature)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("openai: empty content")
	}

	out := &Result{
		Content:      content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	c.log.Debug("generation finished",
		"model", out.Model,
		"finish_reason", out.FinishReason,
		"total_tokens", out.Usage.TotalTokens,
	)
	return out, nil
}
