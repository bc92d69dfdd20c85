package llm

import (
	"context"
	"errors"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"pflow/internal/api"
)

// OpenAIClient implements Client on the Chat Completions API.
type OpenAIClient struct {
	chat *sdk.ChatCompletionService
}

// NewOpenAI builds a client from an API key.
func NewOpenAI(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{chat: &oc.Chat.Completions}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	messages = append(messages, sdk.UserMessage(req.Prompt))

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(req.MaxTokens)
	}
	if req.HasTemperature {
		params.Temperature = sdk.Float(req.Temperature)
	}

	completion, err := c.chat.New(ctx, params)
	if err != nil {
		return Response{}, openaiError(err)
	}
	if len(completion.Choices) == 0 {
		return Response{}, api.NewError(api.ErrNodeRuntime, "openai returned no choices")
	}
	return Response{
		Text:     completion.Choices[0].Message.Content,
		Model:    completion.Model,
		Provider: "openai",
		Usage: Usage{
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		},
	}, nil
}

func openaiError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		code := classifyStatus(apierr.StatusCode)
		return api.WrapError(code, err, "openai request failed").
			WithDetail("status_code", apierr.StatusCode).
			WithDetail("raw_response", apierr.Error())
	}
	return api.WrapError(api.ErrNodeRuntime, err, "openai request failed")
}
