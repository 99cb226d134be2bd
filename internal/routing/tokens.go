package routing

import "github.com/dagbolade/trust-proxy/internal/chat"

const charsPerToken = 4

// EstimateTokens approximates the prompt size at four characters per token,
// counting text, tool call arguments and tool results.
func EstimateTokens(messages []chat.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Text())
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}
	return (chars + charsPerToken - 1) / charsPerToken
}
