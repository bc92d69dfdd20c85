package llm

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"pflow/internal/api"
)

// AnthropicClient implements Client on the Claude Messages API.
type AnthropicClient struct {
	messages *sdk.MessageService
}

// NewAnthropic builds a client from an API key.
func NewAnthropic(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{messages: &ac.Messages}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.HasTemperature {
		params.Temperature = sdk.Float(req.Temperature)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return Response{}, anthropicError(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return Response{
		Text:     text,
		Model:    string(msg.Model),
		Provider: "anthropic",
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
			TotalTokens:  msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}, nil
}

func anthropicError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		code := classifyStatus(apierr.StatusCode)
		return api.WrapError(code, err, "anthropic request failed").
			WithDetail("status_code", apierr.StatusCode).
			WithDetail("raw_response", apierr.Error())
	}
	return api.WrapError(api.ErrNodeRuntime, err, "anthropic request failed")
}
