package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dagbolade/trust-proxy/internal/chat"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteractions(rows *sql.Rows) ([]Interaction, error) {
	var out []Interaction

	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return out, nil
}

func scanInteraction(row rowScanner) (Interaction, error) {
	var in Interaction
	var role, content, createdAt string

	err := row.Scan(&in.ID, &in.ChatID, &role, &content, &in.ToolCallID, &in.ToolName,
		&in.Tainted, &in.TaintReason, &in.Refused, &createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("scan row: %w", err)
	}

	in.Role = chat.Role(role)
	in.Content = json.RawMessage(content)

	msg, err := decodeMessage(in.Content)
	if err != nil {
		return Interaction{}, fmt.Errorf("interaction %d: %w", in.ID, err)
	}
	in.Message = msg

	in.CreatedAt, err = parseTimestamp(createdAt)
	if err != nil {
		return Interaction{}, err
	}

	return in, nil
}

func encodeMessage(m chat.Message) (json.RawMessage, error) {
	data, err := json.Marshal(chat.ToOpenAI(m))
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

func decodeMessage(data json.RawMessage) (chat.Message, error) {
	var wire openai.ChatCompletionMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return chat.Message{}, fmt.Errorf("decode message: %w", err)
	}
	return chat.FromOpenAI(wire)
}

func parseTimestamp(timestamp string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, timestampLayout} {
		if t, err := time.Parse(layout, timestamp); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", timestamp)
}
