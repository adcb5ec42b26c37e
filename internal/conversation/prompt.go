package conversation

import (
	"fmt"
	"strings"

	"ai-companion-demo/backend/internal/models"
)

const genericPersona = `You are a warm, attentive companion having a one-on-one conversation.
Stay in character, keep replies conversational and concise, and remember what the user has told you earlier in this conversation.`

// SystemPrompt builds the persona instructions for a companion. A nil
// profile yields the generic persona.
func SystemPrompt(companion *models.Companion) string {
	if companion == nil || strings.TrimSpace(companion.Name) == "" {
		return genericPersona
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", strings.TrimSpace(companion.Name))
	if desc := strings.TrimSpace(companion.Description); desc != "" {
		b.WriteString("\nCharacter profile:\n")
		b.WriteString(desc)
		b.WriteString("\n")
	}
	b.WriteString("\nStay in character at all times. Speak the way this character speaks, ")
	b.WriteString("keep replies conversational and concise, and never mention that you are an AI model.")
	return b.String()
}
