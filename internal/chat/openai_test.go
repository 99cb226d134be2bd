package chat

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOpenAI(t *testing.T) {
	tests := []struct {
		name    string
		msg     openai.ChatCompletionMessage
		want    Message
		wantErr bool
	}{
		{
			name: "plain text",
			msg:  openai.ChatCompletionMessage{Role: "user", Content: "hello"},
			want: Message{Role: RoleUser, Parts: []Part{TextPart{Text: "hello"}}},
		},
		{
			name: "developer maps to system",
			msg:  openai.ChatCompletionMessage{Role: "developer", Content: "be brief"},
			want: Message{Role: RoleSystem, Parts: []Part{TextPart{Text: "be brief"}}},
		},
		{
			name: "multi content",
			msg: openai.ChatCompletionMessage{
				Role: "user",
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "what is this?"},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: "https://x/img.png"}},
				},
			},
			want: Message{Role: RoleUser, Parts: []Part{
				TextPart{Text: "what is this?"},
				ImagePart{URL: "https://x/img.png"},
			}},
		},
		{
			name: "assistant tool calls",
			msg: openai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "send_email", Arguments: `{"to":"a@b.c"}`},
				}},
			},
			want: Message{Role: RoleAssistant, ToolCalls: []ToolCall{
				{ID: "call_1", Name: "send_email", Arguments: `{"to":"a@b.c"}`},
			}},
		},
		{
			name:    "unknown role",
			msg:     openai.ChatCompletionMessage{Role: "narrator", Content: "x"},
			wantErr: true,
		},
		{
			name: "unknown part type",
			msg: openai.ChatCompletionMessage{
				Role:         "user",
				MultiContent: []openai.ChatMessagePart{{Type: "input_audio"}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromOpenAI(tt.msg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToOpenAIRoundTrip(t *testing.T) {
	original := Message{
		Role:      RoleAssistant,
		Parts:     []Part{TextPart{Text: "calling a tool"}},
		ToolCalls: []ToolCall{{ID: "call_9", Name: "lookup", Arguments: `{"q":"go"}`}},
	}

	wire := ToOpenAI(original)
	assert.Equal(t, "calling a tool", wire.Content)
	assert.Empty(t, wire.MultiContent)

	back, err := FromOpenAI(wire)
	require.NoError(t, err)
	assert.Equal(t, original, back)
}

func TestFromResponseNoChoices(t *testing.T) {
	_, err := FromResponse(openai.ChatCompletionResponse{ID: "resp_1"})
	assert.Error(t, err)
}

func TestMessageText(t *testing.T) {
	msg := Message{Parts: []Part{TextPart{Text: "a"}, ImagePart{URL: "u"}, TextPart{Text: "b"}}}
	assert.Equal(t, "ab", msg.Text())
	assert.Empty(t, TextMessage(RoleUser, "").Parts)
}
