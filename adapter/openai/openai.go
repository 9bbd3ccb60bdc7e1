// Package openai provides a penguiflow node that drives OpenAI chat
// completions: an openai-go client wrapped as a penguiflow.Typed node
// handler, converting between penguiflow message payloads and the OpenAI
// chat-completion request/response shapes.
package openai

import (
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/penguiflow/penguiflow"
)

// ChatMessage is one turn of a conversation, with Role one of "system",
// "user", "assistant".
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is the payload a node built with NewChatNode expects.
type ChatRequest struct {
	Messages []ChatMessage
}

// ChatResponse is the payload a node built with NewChatNode produces.
type ChatResponse struct {
	Text string
}

// NewChatNode builds a penguiflow.Node named name that sends ChatRequest
// envelopes to OpenAI's chat completions API using model (e.g. "gpt-4o")
// and emits ChatResponse envelopes.
func NewChatNode(name, apiKey, model string) *penguiflow.Node {
	if model == "" {
		model = "gpt-4o"
	}
	client := openaisdk.NewClient(option.WithAPIKey(apiKey))

	handler := penguiflow.Typed(func(ctx *penguiflow.Context, in penguiflow.Message[ChatRequest]) ([]penguiflow.Message[ChatResponse], error) {
		params := openaisdk.ChatCompletionNewParams{
			Model:    openaisdk.ChatModel(model),
			Messages: convertMessages(in.Payload.Messages),
		}
		resp, err := client.Chat.Completions.New(ctx.Context(), params)
		if err != nil {
			return nil, fmt.Errorf("openai: chat completion: %w", err)
		}
		text := ""
		if len(resp.Choices) > 0 {
			text = resp.Choices[0].Message.Content
		}
		out := penguiflow.WithPayload(in, ChatResponse{Text: text})
		return []penguiflow.Message[ChatResponse]{out}, nil
	})

	return penguiflow.NewNode(name, handler)
}

func convertMessages(messages []ChatMessage) []openaisdk.ChatCompletionMessageParamUnion {
	result := make([]openaisdk.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "system":
			result[i] = openaisdk.SystemMessage(msg.Content)
		case "assistant":
			result[i] = openaisdk.AssistantMessage(msg.Content)
		default:
			result[i] = openaisdk.UserMessage(msg.Content)
		}
	}
	return result
}
