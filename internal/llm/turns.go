package llm

import "strings"

// collapseTurns joins consecutive messages from the same role and drops
// leading model turns. Gemini expects alternating turns opening with the user.
func collapseTurns(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = strings.TrimSpace(out[n-1].Content + "\n\n" + m.Content)
			continue
		}
		out = append(out, m)
	}
	for len(out) > 1 && out[0].Role == RoleAssistant {
		out = out[1:]
	}
	return out
}
