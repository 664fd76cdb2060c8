package modelclient

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// PlannerClient speaks the Planner Protocol: a single non-streaming chat
// completion call against an OpenAI-compatible endpoint, used by the brain
// runtime's Planner Protocol (runPlanner) when provider_url does not end in
// /responses.
type PlannerClient struct {
	client *openai.Client
	model  string
}

// NewPlannerClient builds a client pointed at baseURL with apiKey, in the
// style of the provider wrapper this package is modelled on: a thin
// construction-time wrapper around the SDK client, nothing more.
func NewPlannerClient(baseURL, apiKey, model string) *PlannerClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &PlannerClient{client: openai.NewClientWithConfig(cfg), model: model}
}

// PlannerMessage is one turn in a planner conversation.
type PlannerMessage struct {
	Role    string
	Content string
}

// Complete issues a single, non-streaming chat completion call and returns
// the first choice's message content.
func (c *PlannerClient) Complete(ctx context.Context, messages []PlannerMessage, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("planner completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("planner completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
