package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ewintr.nl/ytsum/model"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const systemPrompt = `You are a helpful assistant that summarizes YouTube video transcripts. Provide clear, concise summaries with actionable key points.`

type OpenAIInfo struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
}

type OpenAI struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

func NewOpenAI(info OpenAIInfo) *OpenAI {
	config := openai.DefaultConfig(info.APIKey)
	if info.BaseURL != "" {
		config.BaseURL = info.BaseURL
	}
	limit := rate.Inf
	if info.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(info.RequestsPerMinute) / 60)
	}

	return &OpenAI{
		client:  openai.NewClientWithConfig(config),
		model:   info.Model,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (o *OpenAI) Model() string {
	return o.model
}

func (o *OpenAI) Summarize(ctx context.Context, title, transcript string, maxLength, maxKeyPoints int) (model.SummaryResult, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return model.SummaryResult{}, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.7,
		MaxTokens:   2000,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(title, transcript, maxLength, maxKeyPoints),
			},
		},
	})
	if err != nil {
		return model.SummaryResult{}, completionError(err)
	}
	if len(resp.Choices) == 0 {
		return model.SummaryResult{}, fmt.Errorf("empty completion: %w", model.ErrUnavailable)
	}

	res := parseSummary(resp.Choices[len(resp.Choices)-1].Message.Content, maxKeyPoints)
	if res.Text == "" {
		return model.SummaryResult{}, fmt.Errorf("completion without summary: %w", model.ErrUnavailable)
	}

	return res, nil
}

func completionError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch status {
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return fmt.Errorf("failed to fetch summary: %w: %v", model.ErrQuotaExceeded, err)
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return fmt.Errorf("failed to fetch summary: %w: %v", model.ErrConfiguration, err)
	default:
		return fmt.Errorf("failed to fetch summary: %w: %v", model.ErrUnavailable, err)
	}
}
