package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbolade/trust-proxy/internal/chat"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func toolResult(chatID, callID, tool, output string, tainted bool) Interaction {
	in := Interaction{
		ChatID:   chatID,
		ToolName: tool,
		Message:  chat.Message{Role: chat.RoleTool, ToolCallID: callID, Parts: []chat.Part{chat.TextPart{Text: output}}},
		Tainted:  tainted,
	}
	if tainted {
		in.TaintReason = "no trusted data policy"
	}
	return in
}

func TestAppendAndListInteractions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "agent-1"))
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "agent-1"))

	user, err := store.Append(ctx, Interaction{ChatID: "chat-1", Message: chat.TextMessage(chat.RoleUser, "what's the weather?")})
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.False(t, user.CreatedAt.IsZero())

	assistant := Interaction{
		ChatID: "chat-1",
		Message: chat.Message{
			Role:      chat.RoleAssistant,
			ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`}},
		},
	}
	_, err = store.Append(ctx, assistant)
	require.NoError(t, err)

	_, err = store.Append(ctx, toolResult("chat-1", "call_1", "get_weather", "sunny", true))
	require.NoError(t, err)

	list, err := store.Interactions(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, chat.RoleUser, list[0].Role)
	assert.Equal(t, "what's the weather?", list[0].Message.Text())
	assert.Equal(t, assistant.Message.ToolCalls, list[1].Message.ToolCalls)
	assert.Equal(t, chat.RoleTool, list[2].Role)
	assert.Equal(t, "call_1", list[2].ToolCallID)
	assert.Equal(t, "get_weather", list[2].ToolName)
	assert.True(t, list[2].Tainted)
	assert.True(t, list[0].ID < list[1].ID && list[1].ID < list[2].ID)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(list[0].Content, &wire))
	assert.Equal(t, "user", wire["role"])
}

func TestToolCallIndex(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "agent-1"))

	in, err := store.Append(ctx, Interaction{
		ChatID: "chat-1",
		Message: chat.Message{
			Role: chat.RoleAssistant,
			ToolCalls: []chat.ToolCall{
				{ID: "call_1", Name: "search", Arguments: `{"q":"a"}`},
				{ID: "call_2", Name: "fetch", Arguments: `{}`},
			},
		},
	})
	require.NoError(t, err)

	rec, err := store.ToolCall(ctx, "chat-1", "call_2")
	require.NoError(t, err)
	assert.Equal(t, "fetch", rec.ToolName)
	assert.Equal(t, in.ID, rec.InteractionID)

	_, err = store.ToolCall(ctx, "chat-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.ToolCall(ctx, "chat-2", "call_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToolResultLookup(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "agent-1"))

	_, err := store.ToolResult(ctx, "chat-1", "call_1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Append(ctx, toolResult("chat-1", "call_1", "fetch", "page", true))
	require.NoError(t, err)

	got, err := store.ToolResult(ctx, "chat-1", "call_1")
	require.NoError(t, err)
	assert.True(t, got.Tainted)
	assert.Equal(t, "page", got.Message.Text())
}

func TestToolResultRecordedOnce(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "a"))

	const numWrites = 8
	var wg sync.WaitGroup
	errs := make(chan error, numWrites)
	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, toolResult("chat-1", "call_1", "fetch", "page", true))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	written := 0
	for err := range errs {
		if err == nil {
			written++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Equal(t, 1, written)

	list, err := store.Interactions(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// the same call id in another chat is a different result
	require.NoError(t, store.EnsureChat(ctx, "chat-2", "a"))
	_, err = store.Append(ctx, toolResult("chat-2", "call_1", "fetch", "page", false))
	assert.NoError(t, err)
}

func TestChatTainted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureChat(ctx, "clean", "a"))
	require.NoError(t, store.EnsureChat(ctx, "dirty", "a"))

	_, err := store.Append(ctx, toolResult("clean", "c1", "db", "rows", false))
	require.NoError(t, err)
	_, err = store.Append(ctx, toolResult("dirty", "c1", "web", "html", true))
	require.NoError(t, err)

	tainted, err := store.ChatTainted(ctx, "clean")
	require.NoError(t, err)
	assert.False(t, tainted)

	tainted, err = store.ChatTainted(ctx, "dirty")
	require.NoError(t, err)
	assert.True(t, tainted)

	tainted, err = store.ChatTainted(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, tainted)
}

func TestTaintImmutability(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "a"))

	in, err := store.Append(ctx, toolResult("chat-1", "c1", "web", "html", true))
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, "UPDATE interactions SET tainted = 0 WHERE id = ?", in.ID)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not allowed") || strings.Contains(err.Error(), "FAIL"), err.Error())

	_, err = store.db.ExecContext(ctx, "DELETE FROM interactions WHERE id = ?", in.ID)
	require.Error(t, err)

	got, err := store.ToolResult(ctx, "chat-1", "c1")
	require.NoError(t, err)
	assert.True(t, got.Tainted)
	assert.Equal(t, "no trusted data policy", got.TaintReason)
}

func TestConcurrentAppends(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.EnsureChat(ctx, "chat-1", "a"))

	const numWrites = 20
	var wg sync.WaitGroup
	errs := make(chan error, numWrites)

	for i := 0; i < numWrites; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(ctx, Interaction{ChatID: "chat-1", Message: chat.TextMessage(chat.RoleUser, fmt.Sprintf("msg %d", i))})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	list, err := store.Interactions(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, list, numWrites)
}

func TestUpsertToolsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tools := []Tool{
		{Name: "search", Description: "web search", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "fetch"},
	}
	require.NoError(t, store.UpsertTools(ctx, "agent-1", tools))
	require.NoError(t, store.UpsertTools(ctx, "agent-1", tools))

	tools[0].Description = "better search"
	require.NoError(t, store.UpsertTools(ctx, "agent-1", tools[:1]))

	got, err := store.ToolsForAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fetch", got[0].Name)
	assert.JSONEq(t, `{}`, string(got[0].Parameters))
	assert.Equal(t, "better search", got[1].Description)

	none, err := store.ToolsForAgent(ctx, "agent-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name      string
		in        Interaction
		expectErr bool
	}{
		{"valid", Interaction{ChatID: "c", Message: chat.TextMessage(chat.RoleUser, "hi")}, false},
		{"empty chat", Interaction{Message: chat.TextMessage(chat.RoleUser, "hi")}, true},
		{"invalid role", Interaction{ChatID: "c", Message: chat.Message{Role: "robot"}}, true},
		{"tool without call id", Interaction{ChatID: "c", Message: chat.Message{Role: chat.RoleTool}}, true},
		{"tainted without reason", Interaction{ChatID: "c", Message: chat.TextMessage(chat.RoleUser, "hi"), Tainted: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInteraction(tt.in)
			assert.Equal(t, tt.expectErr, err != nil, "got %v", err)
		})
	}
}
