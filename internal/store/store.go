package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const maxRetries = 3

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) EnsureChat(ctx context.Context, chatID, agentID string) error {
	if chatID == "" {
		return fmt.Errorf("chat_id cannot be empty")
	}
	return s.withRetry(ctx, "ensure chat", func() error {
		_, err := s.db.ExecContext(ctx, queryEnsureChat, chatID, agentID)
		return err
	})
}

// Append writes one interaction and, for assistant messages, indexes its tool
// calls in the same transaction.
func (s *SQLiteStore) Append(ctx context.Context, in Interaction) (Interaction, error) {
	if err := validateInteraction(in); err != nil {
		return Interaction{}, err
	}

	content, err := encodeMessage(in.Message)
	if err != nil {
		return Interaction{}, err
	}
	in.Role = in.Message.Role
	in.Content = content
	in.ToolCallID = in.Message.ToolCallID

	err = s.withRetry(ctx, "append interaction", func() error {
		return s.appendTx(ctx, &in)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, fmt.Errorf("%w: %s", ErrDuplicate, in.ToolCallID)
	}
	if err != nil {
		return Interaction{}, err
	}

	return in, nil
}

func (s *SQLiteStore) appendTx(ctx context.Context, in *Interaction) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var createdAt string
	err = tx.QueryRowContext(ctx, queryInsertInteraction,
		in.ChatID, string(in.Role), string(in.Content), in.ToolCallID, in.ToolName,
		in.Tainted, in.TaintReason, in.Refused,
	).Scan(&in.ID, &createdAt)
	if err != nil {
		return err
	}

	if in.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return err
	}

	for _, tc := range in.Message.ToolCalls {
		if tc.ID == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, queryInsertToolCall, in.ChatID, tc.ID, tc.Name, tc.Arguments, in.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Interactions(ctx context.Context, chatID string) ([]Interaction, error) {
	rows, err := s.db.QueryContext(ctx, querySelectInteractions, chatID)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	return scanInteractions(rows)
}

// ChatTainted reports whether any interaction of the chat carries tainted data.
func (s *SQLiteStore) ChatTainted(ctx context.Context, chatID string) (bool, error) {
	var tainted bool
	if err := s.db.QueryRowContext(ctx, queryChatTainted, chatID).Scan(&tainted); err != nil {
		return false, fmt.Errorf("query taint: %w", err)
	}
	return tainted, nil
}

func (s *SQLiteStore) ToolResult(ctx context.Context, chatID, toolCallID string) (Interaction, error) {
	in, err := scanInteraction(s.db.QueryRowContext(ctx, querySelectToolResult, chatID, toolCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, fmt.Errorf("query tool result: %w", err)
	}
	return in, nil
}

func (s *SQLiteStore) ToolCall(ctx context.Context, chatID, toolCallID string) (ToolCallRecord, error) {
	var rec ToolCallRecord
	err := s.db.QueryRowContext(ctx, querySelectToolCall, chatID, toolCallID).
		Scan(&rec.ChatID, &rec.ToolCallID, &rec.ToolName, &rec.Arguments, &rec.InteractionID)
	if errors.Is(err, sql.ErrNoRows) {
		return ToolCallRecord{}, ErrNotFound
	}
	if err != nil {
		return ToolCallRecord{}, fmt.Errorf("query tool call: %w", err)
	}
	return rec, nil
}

// UpsertTools stores the tool schemas and assigns them to the agent. Calling
// it again with the same tools changes nothing.
func (s *SQLiteStore) UpsertTools(ctx context.Context, agentID string, tools []Tool) error {
	if len(tools) == 0 {
		return nil
	}
	for _, t := range tools {
		if err := validateTool(t); err != nil {
			return err
		}
	}

	return s.withRetry(ctx, "upsert tools", func() (err error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				tx.Rollback()
			}
		}()

		for _, t := range tools {
			params := string(t.Parameters)
			if params == "" {
				params = "{}"
			}
			if _, err = tx.ExecContext(ctx, queryUpsertTool, t.Name, t.Description, params); err != nil {
				return err
			}
			if _, err = tx.ExecContext(ctx, queryAssignTool, agentID, t.Name); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) ToolsForAgent(ctx context.Context, agentID string) ([]Tool, error) {
	rows, err := s.db.QueryContext(ctx, querySelectAgentTools, agentID)
	if err != nil {
		return nil, fmt.Errorf("query agent tools: %w", err)
	}
	defer rows.Close()

	var tools []Tool
	for rows.Next() {
		var t Tool
		var params string
		if err := rows.Scan(&t.Name, &t.Description, &params); err != nil {
			return nil, fmt.Errorf("scan tool: %w", err)
		}
		t.Parameters = []byte(params)
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return tools, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initializeSchema() error {
	for _, stmt := range schemaStatements() {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

// withRetry retries op when SQLite reports a locked database.
func (s *SQLiteStore) withRetry(ctx context.Context, what string, op func() error) error {
	var err error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if !isLockError(err) {
			return fmt.Errorf("%s: %w", what, err)
		}

		backoff := time.Duration(attempt+1) * 10 * time.Millisecond
		log.Debug().Err(err).Int("attempt", attempt+1).Str("op", what).Msg("database locked, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%s after %d retries: %w", what, maxRetries, err)
}

func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
