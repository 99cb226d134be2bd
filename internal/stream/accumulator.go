package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dagbolade/trust-proxy/internal/chat"
)

var ErrFinalized = errors.New("accumulator already finalized")

// Receiver yields provider chunks until io.EOF. *openai.ChatCompletionStream
// satisfies it.
type Receiver interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
}

// Accumulator owns the full chunk buffer of one streamed turn and merges the
// deltas into a single assistant message.
type Accumulator struct {
	chunks    []openai.ChatCompletionStreamResponse
	text      strings.Builder
	toolCalls []chat.ToolCall
	byIndex   map[int]int
	finish    string
	usage     chat.Usage
	done      bool
}

func NewAccumulator() *Accumulator {
	return &Accumulator{byIndex: make(map[int]int)}
}

// Consume drains r into the accumulator. It stops at io.EOF or when ctx is done.
func (a *Accumulator) Consume(ctx context.Context, r Receiver) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, err := r.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive chunk: %w", err)
		}

		if err := a.Add(chunk); err != nil {
			return err
		}
	}
}

func (a *Accumulator) Add(chunk openai.ChatCompletionStreamResponse) error {
	if a.done {
		return ErrFinalized
	}
	a.chunks = append(a.chunks, chunk)

	if chunk.Usage != nil {
		a.usage = chat.UsageFromOpenAI(*chunk.Usage)
	}

	for _, choice := range chunk.Choices {
		if choice.Index != 0 {
			continue
		}
		a.text.WriteString(choice.Delta.Content)
		for _, tc := range choice.Delta.ToolCalls {
			a.mergeToolCall(tc)
		}
		if choice.FinishReason != "" {
			a.finish = string(choice.FinishReason)
		}
	}
	return nil
}

// mergeToolCall appends a tool call fragment to the call it belongs to, found
// by index, then by id, then defaulting to the first call.
func (a *Accumulator) mergeToolCall(tc openai.ToolCall) {
	pos := -1
	switch {
	case tc.Index != nil:
		if p, ok := a.byIndex[*tc.Index]; ok {
			pos = p
		} else {
			pos = len(a.toolCalls)
			a.byIndex[*tc.Index] = pos
			a.toolCalls = append(a.toolCalls, chat.ToolCall{})
		}
	case tc.ID != "":
		for i, existing := range a.toolCalls {
			if existing.ID == tc.ID {
				pos = i
				break
			}
		}
		if pos < 0 {
			pos = len(a.toolCalls)
			a.toolCalls = append(a.toolCalls, chat.ToolCall{})
		}
	default:
		if len(a.toolCalls) == 0 {
			a.toolCalls = append(a.toolCalls, chat.ToolCall{})
		}
		pos = 0
	}

	call := &a.toolCalls[pos]
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Name = tc.Function.Name
	}
	call.Arguments += tc.Function.Arguments
}

// Finalize freezes the accumulator. No chunk is accepted afterwards.
func (a *Accumulator) Finalize() *Final {
	a.done = true

	msg := chat.TextMessage(chat.RoleAssistant, a.text.String())
	if len(a.toolCalls) > 0 {
		msg.ToolCalls = append([]chat.ToolCall(nil), a.toolCalls...)
	}

	return &Final{
		Chunks: append([]openai.ChatCompletionStreamResponse(nil), a.chunks...),
		Completion: chat.Completion{
			Message:      msg,
			FinishReason: a.finish,
			Usage:        a.usage,
		},
	}
}

// Final is a completed turn: the chunks to forward and the message they form.
type Final struct {
	Chunks     []openai.ChatCompletionStreamResponse
	Completion chat.Completion
}

// Replace swaps the whole payload for one synthetic chunk. Usage of the
// original turn is kept.
func (f *Final) Replace(chunk openai.ChatCompletionStreamResponse) {
	acc := NewAccumulator()
	_ = acc.Add(chunk)
	replaced := acc.Finalize()

	usage := f.Completion.Usage
	f.Chunks = replaced.Chunks
	f.Completion = replaced.Completion
	f.Completion.Usage = usage
}

// TextChunk builds a terminal assistant chunk carrying text, shaped like
// the turn it stands in for.
func TextChunk(like openai.ChatCompletionStreamResponse, text string, usage *openai.Usage) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		ID:      like.ID,
		Object:  "chat.completion.chunk",
		Created: like.Created,
		Model:   like.Model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{
				Role:    openai.ChatMessageRoleAssistant,
				Content: text,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: usage,
	}
}
