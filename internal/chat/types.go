package chat

import "strings"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Part is one content block of a message. The concrete types are TextPart
// and ImagePart; conversions switch over them exhaustively.
type Part interface {
	partKind() string
}

type TextPart struct {
	Text string
}

type ImagePart struct {
	URL    string
	Detail string
}

func (TextPart) partKind() string  { return "text" }
func (ImagePart) partKind() string { return "image_url" }

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the provider-independent form every policy decision runs on.
type Message struct {
	Role       Role
	Parts      []Part
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is one fully materialized model turn.
type Completion struct {
	Message      Message
	FinishReason string
	Usage        Usage
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// TextMessage builds a message with a single text part. Empty text yields no parts.
func TextMessage(role Role, text string) Message {
	msg := Message{Role: role}
	if text != "" {
		msg.Parts = []Part{TextPart{Text: text}}
	}
	return msg
}
