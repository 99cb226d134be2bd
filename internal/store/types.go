package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dagbolade/trust-proxy/internal/chat"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by Append for a tool result whose tool call
	// already has one in the chat. Nothing is written.
	ErrDuplicate = errors.New("tool result already recorded")
)

// Interaction is one persisted message of a chat. Rows are append-only:
// Tainted and TaintReason are fixed when the row is written.
type Interaction struct {
	ID          int64           `json:"id"`
	ChatID      string          `json:"chat_id"`
	Role        chat.Role       `json:"role"`
	Message     chat.Message    `json:"-"`
	Content     json.RawMessage `json:"content"`
	ToolCallID  string          `json:"tool_call_id,omitempty"`
	ToolName    string          `json:"tool_name,omitempty"`
	Tainted     bool            `json:"tainted"`
	TaintReason string          `json:"taint_reason,omitempty"`
	Refused     bool            `json:"refused"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ToolCallRecord indexes a tool call requested by an assistant message.
type ToolCallRecord struct {
	ChatID        string
	ToolCallID    string
	ToolName      string
	Arguments     string
	InteractionID int64
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type Store interface {
	EnsureChat(ctx context.Context, chatID, agentID string) error
	Append(ctx context.Context, in Interaction) (Interaction, error)
	Interactions(ctx context.Context, chatID string) ([]Interaction, error)
	ChatTainted(ctx context.Context, chatID string) (bool, error)
	ToolResult(ctx context.Context, chatID, toolCallID string) (Interaction, error)
	ToolCall(ctx context.Context, chatID, toolCallID string) (ToolCallRecord, error)
	UpsertTools(ctx context.Context, agentID string, tools []Tool) error
	ToolsForAgent(ctx context.Context, agentID string) ([]Tool, error)
	Close() error
}
