package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbolade/trust-proxy/internal/chat"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SQLiteStore{db: db}, mock
}

func TestAppendRollsBackWhenIndexFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO interactions")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, "2026-01-02 03:04:05"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tool_calls")).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := store.Append(context.Background(), Interaction{
		ChatID: "chat-1",
		Message: chat.Message{
			Role:      chat.RoleAssistant,
			ToolCalls: []chat.ToolCall{{ID: "call_1", Name: "search", Arguments: "{}"}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append interaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureChatRetriesWhenLocked(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chats")).
		WithArgs("chat-1", "agent-1").
		WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chats")).
		WithArgs("chat-1", "agent-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.EnsureChat(context.Background(), "chat-1", "agent-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureChatGivesUpAfterRetries(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < maxRetries; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chats")).
			WillReturnError(errors.New("database is locked"))
	}

	err := store.EnsureChat(context.Background(), "chat-1", "agent-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 retries")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInteractionsQueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM interactions")).
		WithArgs("chat-1").
		WillReturnError(errors.New("no such table"))

	_, err := store.Interactions(context.Background(), "chat-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query interactions")
}

func TestInteractionsRejectsCorruptContent(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "tool_call_id", "tool_name", "tainted", "taint_reason", "refused", "created_at"}).
		AddRow(1, "chat-1", "user", "{not json", "", "", 0, "", 0, "2026-01-02 03:04:05")
	mock.ExpectQuery(regexp.QuoteMeta("FROM interactions")).WillReturnRows(rows)

	_, err := store.Interactions(context.Background(), "chat-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode message")
}

func TestChatTaintedQueryError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WillReturnError(errors.New("boom"))

	_, err := store.ChatTainted(context.Background(), "chat-1")
	assert.Error(t, err)
}

func TestUpsertToolsRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tools")).
		WithArgs("search", "", "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO agent_tools")).
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err := store.UpsertTools(context.Background(), "agent-1", []Tool{{Name: "search"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertToolsValidates(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.UpsertTools(context.Background(), "agent-1", []Tool{{Description: "nameless"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
