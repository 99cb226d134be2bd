package proxy

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/dagbolade/trust-proxy/internal/chat"
)

// DeriveChatID identifies a conversation that carries no explicit chat id by
// its agent and opening user message, so every turn of it maps to one chat.
func DeriveChatID(agentID string, msgs []chat.Message) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	for _, m := range msgs {
		if m.Role == chat.RoleUser {
			h.Write([]byte(m.Text()))
			break
		}
	}
	return "chat_" + hex.EncodeToString(h.Sum(nil))[:32]
}
