// Package google provides a penguiflow node that drives Google Gemini
// generation: a generative-ai-go client wrapped as a penguiflow.Typed node
// handler, converting between penguiflow message payloads and Gemini's
// content-part representation.
package google

import (
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/penguiflow/penguiflow"
)

// ChatMessage is one turn of a conversation. Gemini has no first-class
// system-message slot in the chat history the way OpenAI/Anthropic do; all
// non-empty content is sent as a text part in order.
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
// envelopes to Gemini using model (e.g. "gemini-2.5-flash") and emits
// ChatResponse envelopes. A fresh genai.Client is opened and closed per
// invocation, since the client holds a live connection that shouldn't
// outlive a single request in a long-running node.
func NewChatNode(name, apiKey, model string) *penguiflow.Node {
	if model == "" {
		model = "gemini-2.5-flash"
	}

	handler := penguiflow.Typed(func(ctx *penguiflow.Context, in penguiflow.Message[ChatRequest]) ([]penguiflow.Message[ChatResponse], error) {
		client, err := genai.NewClient(ctx.Context(), option.WithAPIKey(apiKey))
		if err != nil {
			return nil, fmt.Errorf("google: create client: %w", err)
		}
		defer client.Close()

		genModel := client.GenerativeModel(model)
		parts := convertMessages(in.Payload.Messages)

		resp, err := genModel.GenerateContent(ctx.Context(), parts...)
		if err != nil {
			return nil, fmt.Errorf("google: generate content: %w", err)
		}

		text := extractText(resp)
		out := penguiflow.WithPayload(in, ChatResponse{Text: text})
		return []penguiflow.Message[ChatResponse]{out}, nil
	})

	return penguiflow.NewNode(name, handler)
}

func convertMessages(messages []ChatMessage) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}
	return text
}
