// Package anthropic provides a penguiflow node that drives Anthropic Claude
// messages: an anthropic-sdk-go client wrapped as a penguiflow.Typed node
// handler, including system-prompt extraction from the message list since
// the Anthropic API treats the system prompt as a separate request field.
package anthropic

import (
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/penguiflow/penguiflow"
)

// ChatMessage is one turn of a conversation, with Role one of "system",
// "user", "assistant". Anthropic's API expects system prompts passed
// separately from the conversation, so a "system" message is extracted
// before the request is sent.
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
// envelopes to Claude using model (e.g. "claude-3-5-sonnet-20241022") and
// emits ChatResponse envelopes.
func NewChatNode(name, apiKey, model string) *penguiflow.Node {
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(apiKey))

	handler := penguiflow.Typed(func(ctx *penguiflow.Context, in penguiflow.Message[ChatRequest]) ([]penguiflow.Message[ChatResponse], error) {
		systemPrompt, conversation := extractSystemPrompt(in.Payload.Messages)

		params := anthropicsdk.MessageNewParams{
			Model:     anthropicsdk.Model(model),
			Messages:  convertMessages(conversation),
			MaxTokens: 4096,
		}
		if systemPrompt != "" {
			params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
		}

		resp, err := client.Messages.New(ctx.Context(), params)
		if err != nil {
			return nil, fmt.Errorf("anthropic: create message: %w", err)
		}

		text := ""
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		out := penguiflow.WithPayload(in, ChatResponse{Text: text})
		return []penguiflow.Message[ChatResponse]{out}, nil
	})

	return penguiflow.NewNode(name, handler)
}

func extractSystemPrompt(messages []ChatMessage) (string, []ChatMessage) {
	var systemPrompt string
	var conversation []ChatMessage
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
			continue
		}
		conversation = append(conversation, msg)
	}
	return systemPrompt, conversation
}

func convertMessages(messages []ChatMessage) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		block := anthropicsdk.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			result[i] = anthropicsdk.NewAssistantMessage(block)
		} else {
			result[i] = anthropicsdk.NewUserMessage(block)
		}
	}
	return result
}
