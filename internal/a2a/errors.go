package a2a

import (
	"errors"
	"fmt"
)

var (
	ErrAgentNotFound           = errors.New("agent not found")
	ErrDelegationDepthExceeded = errors.New("delegation depth exceeded")
	ErrNoAPIKey                = errors.New("no API key for provider")
)

// NotDelegatableError is returned when the target agent cannot run a
// delegated turn.
type NotDelegatableError struct {
	AgentID string
	Type    string
}

func (e *NotDelegatableError) Error() string {
	return fmt.Sprintf("agent %s of type %q cannot be delegated to", e.AgentID, e.Type)
}
