package convo

import "strings"

// Assemble builds the prompt text: grounding, rendered history, the user's
// message and the trailing "Assistant:" cue, in that order.
func Assemble(g *Grounding, history, message string) string {
	var b strings.Builder
	b.WriteString(g.block())
	if history != "" {
		b.WriteString("Previous conversation:\n")
		b.WriteString(history)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(message)
	b.WriteString("\n")
	b.WriteString("Assistant:")
	return b.String()
}
