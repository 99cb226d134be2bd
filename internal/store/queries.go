package store

const (
	queryEnsureChat = `
		INSERT INTO chats (id, agent_id) VALUES (?, ?)
		ON CONFLICT(id) DO NOTHING`

	queryInsertInteraction = `
		INSERT INTO interactions (chat_id, role, content, tool_call_id, tool_name, tainted, taint_reason, refused)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at`

	queryInsertToolCall = `
		INSERT INTO tool_calls (chat_id, tool_call_id, tool_name, arguments, interaction_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, tool_call_id) DO NOTHING`

	interactionColumns = `id, chat_id, role, content, tool_call_id, tool_name, tainted, taint_reason, refused, created_at`

	querySelectInteractions = `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE chat_id = ?
		ORDER BY id ASC`

	querySelectToolResult = `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE chat_id = ? AND role = 'tool' AND tool_call_id = ?
		ORDER BY id ASC
		LIMIT 1`

	queryChatTainted = `
		SELECT EXISTS(SELECT 1 FROM interactions WHERE chat_id = ? AND tainted = 1)`

	querySelectToolCall = `
		SELECT chat_id, tool_call_id, tool_name, arguments, interaction_id
		FROM tool_calls
		WHERE chat_id = ? AND tool_call_id = ?`

	queryUpsertTool = `
		INSERT INTO tools (name, description, parameters) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			parameters = excluded.parameters,
			updated_at = CURRENT_TIMESTAMP`

	queryAssignTool = `
		INSERT INTO agent_tools (agent_id, tool_name) VALUES (?, ?)
		ON CONFLICT(agent_id, tool_name) DO NOTHING`

	querySelectAgentTools = `
		SELECT t.name, t.description, t.parameters
		FROM tools t
		JOIN agent_tools a ON a.tool_name = t.name
		WHERE a.agent_id = ?
		ORDER BY t.name ASC`
)

const timestampLayout = "2006-01-02 15:04:05"
