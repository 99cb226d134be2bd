package chat

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// FromOpenAI converts an OpenAI wire message into the canonical form.
func FromOpenAI(m openai.ChatCompletionMessage) (Message, error) {
	role, err := parseRole(m.Role)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		Role:       role,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}

	if len(m.MultiContent) > 0 {
		for i, part := range m.MultiContent {
			switch part.Type {
			case openai.ChatMessagePartTypeText:
				msg.Parts = append(msg.Parts, TextPart{Text: part.Text})
			case openai.ChatMessagePartTypeImageURL:
				if part.ImageURL == nil {
					return Message{}, fmt.Errorf("content part %d: image_url missing", i)
				}
				msg.Parts = append(msg.Parts, ImagePart{
					URL:    part.ImageURL.URL,
					Detail: string(part.ImageURL.Detail),
				})
			default:
				return Message{}, fmt.Errorf("content part %d: unsupported type %q", i, part.Type)
			}
		}
	} else if m.Content != "" {
		msg.Parts = []Part{TextPart{Text: m.Content}}
	}

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return msg, nil
}

// FromOpenAIMessages converts a whole conversation, reporting the index of the
// first message that cannot be converted.
func FromOpenAIMessages(msgs []openai.ChatCompletionMessage) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		msg, err := FromOpenAI(m)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// ToOpenAI converts back to the wire form. Text-only messages use the plain
// string content; anything carrying an image uses multi-part content.
func ToOpenAI(m Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}

	if hasImage(m.Parts) {
		for _, p := range m.Parts {
			switch part := p.(type) {
			case TextPart:
				out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			case ImagePart:
				out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    part.URL,
						Detail: openai.ImageURLDetail(part.Detail),
					},
				})
			}
		}
	} else {
		out.Content = m.Text()
	}

	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	return out
}

// FromResponse materializes the first choice of a non-streaming response.
func FromResponse(resp openai.ChatCompletionResponse) (Completion, error) {
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("response %q has no choices", resp.ID)
	}

	choice := resp.Choices[0]
	msg, err := FromOpenAI(choice.Message)
	if err != nil {
		return Completion{}, fmt.Errorf("response message: %w", err)
	}

	return Completion{
		Message:      msg,
		FinishReason: string(choice.FinishReason),
		Usage:        UsageFromOpenAI(resp.Usage),
	}, nil
}

func UsageFromOpenAI(u openai.Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func parseRole(r string) (Role, error) {
	switch strings.ToLower(r) {
	case "system", "developer":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	case "tool":
		return RoleTool, nil
	default:
		return "", fmt.Errorf("unsupported role %q", r)
	}
}

func hasImage(parts []Part) bool {
	for _, p := range parts {
		if _, ok := p.(ImagePart); ok {
			return true
		}
	}
	return false
}
