package store

import (
	"fmt"

	"github.com/dagbolade/trust-proxy/internal/chat"
)

func validateInteraction(in Interaction) error {
	if in.ChatID == "" {
		return fmt.Errorf("chat_id cannot be empty")
	}

	if !isValidRole(in.Message.Role) {
		return fmt.Errorf("invalid role: %s", in.Message.Role)
	}

	if in.Message.Role == chat.RoleTool && in.Message.ToolCallID == "" {
		return fmt.Errorf("tool result requires a tool_call_id")
	}

	if in.Tainted && in.TaintReason == "" {
		return fmt.Errorf("tainted interaction requires a reason")
	}

	return nil
}

func validateTool(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	return nil
}

func isValidRole(r chat.Role) bool {
	switch r {
	case chat.RoleSystem, chat.RoleUser, chat.RoleAssistant, chat.RoleTool:
		return true
	}
	return false
}
