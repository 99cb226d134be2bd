package a2a

import "strings"

const chainSeparator = ":"

// Chain is the colon-separated list of agents nested in one top-level call,
// outermost first.
type Chain string

func (c Chain) Extend(agentID string) Chain {
	if c == "" {
		return Chain(agentID)
	}
	return c + chainSeparator + Chain(agentID)
}

func (c Chain) Agents() []string {
	if c == "" {
		return nil
	}
	return strings.Split(string(c), chainSeparator)
}

func (c Chain) Depth() int {
	return len(c.Agents())
}

func (c Chain) String() string {
	return string(c)
}
