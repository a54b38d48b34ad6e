package identify

import (
	"context"
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tbourn/boss-title-updater/internal/retry"
)

// OpenAIVision asks an OpenAI chat model with image inputs.
type OpenAIVision struct {
	Client    *openai.Client
	Model     string
	MaxTokens int
}

// NewOpenAIVision builds a client for apiKey. Model defaults to gpt-4o.
func NewOpenAIVision(apiKey, model string, maxTokens int) *OpenAIVision {
	if model == "" {
		model = openai.GPT4o
	}
	if maxTokens <= 0 {
		maxTokens = 100
	}
	return &OpenAIVision{Client: openai.NewClient(apiKey), Model: model, MaxTokens: maxTokens}
}

// Ask implements Vision.
func (v *OpenAIVision) Ask(ctx context.Context, prompt string, images []string) (string, error) {
	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt})
	for _, u := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailAuto},
		})
	}

	resp, err := v.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     v.Model,
		MaxTokens: v.MaxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
	})
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAI marks client errors other than rate limiting as permanent.
func classifyOpenAI(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if permanentStatus(status) {
		return retry.Permanent(err)
	}
	return err
}

// permanentStatus reports whether an HTTP status means retrying cannot help.
func permanentStatus(code int) bool {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return false
	}
	return code >= 400 && code < 500
}
