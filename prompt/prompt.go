// Package prompt assembles generation prompts. Build is a pure function:
// identical inputs always produce byte-identical prompts, which keeps the
// pipeline reproducible and the decision log meaningful.
package prompt

import "strings"

const (
	systemPreamble = "You are a helpful customer support assistant for ClearPath, a project management tool."

	instructions = `Instructions:
- Answer based on the provided context
- If the context doesn't contain relevant information, say so clearly
- Be concise and helpful
- Cite specific features or details from the documentation when applicable`
)

// Build combines evidence texts, conversation history, and the user question
// into one prompt. Optional sections are included verbatim when non-empty and
// omitted otherwise, always in the same order: context, history, question.
func Build(question string, contexts []string, history string) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString("\n\n")

	nonEmpty := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if strings.TrimSpace(c) != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	if len(nonEmpty) > 0 {
		sb.WriteString("Context from documentation:\n")
		sb.WriteString(strings.Join(nonEmpty, "\n\n"))
		sb.WriteString("\n\n")
	}

	if strings.TrimSpace(history) != "" {
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}

	sb.WriteString("User question: ")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString(instructions)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
