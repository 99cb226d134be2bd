package store

const (
	tableChats = `
		CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	tableInteractions = `
		CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT NOT NULL REFERENCES chats(id),
			role TEXT NOT NULL CHECK(role IN ('system', 'user', 'assistant', 'tool')),
			content TEXT NOT NULL,
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tainted INTEGER NOT NULL DEFAULT 0 CHECK(tainted IN (0, 1)),
			taint_reason TEXT NOT NULL DEFAULT '',
			refused INTEGER NOT NULL DEFAULT 0 CHECK(refused IN (0, 1)),
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	triggerPreventUpdate = `
		CREATE TRIGGER IF NOT EXISTS prevent_interaction_update
		BEFORE UPDATE ON interactions
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Updates not allowed on interactions');
		END`

	triggerPreventDelete = `
		CREATE TRIGGER IF NOT EXISTS prevent_interaction_delete
		BEFORE DELETE ON interactions
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on interactions');
		END`

	indexInteractionsChat = `
		CREATE INDEX IF NOT EXISTS idx_interactions_chat ON interactions(chat_id, id)`

	indexInteractionsTainted = `
		CREATE INDEX IF NOT EXISTS idx_interactions_tainted ON interactions(chat_id) WHERE tainted = 1`

	indexToolResults = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_interactions_tool_result_unique ON interactions(chat_id, tool_call_id) WHERE role = 'tool'`

	tableToolCalls = `
		CREATE TABLE IF NOT EXISTS tool_calls (
			chat_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			arguments TEXT NOT NULL,
			interaction_id INTEGER NOT NULL REFERENCES interactions(id),
			PRIMARY KEY (chat_id, tool_call_id)
		)`

	tableTools = `
		CREATE TABLE IF NOT EXISTS tools (
			name TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			parameters TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	tableAgentTools = `
		CREATE TABLE IF NOT EXISTS agent_tools (
			agent_id TEXT NOT NULL,
			tool_name TEXT NOT NULL REFERENCES tools(name),
			PRIMARY KEY (agent_id, tool_name)
		)`
)

func schemaStatements() []string {
	return []string{
		tableChats,
		tableInteractions,
		triggerPreventUpdate,
		triggerPreventDelete,
		indexInteractionsChat,
		indexInteractionsTainted,
		indexToolResults,
		tableToolCalls,
		tableTools,
		tableAgentTools,
	}
}
