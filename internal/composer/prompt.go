package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/nexus/internal/chat"
)

const genericProfile = "Generic profile."

// Instruction carries everything that goes into a turn's system prompt.
type Instruction struct {
	Task            chat.TaskType
	Mode            string
	PersonalContext string
	Tools           []string
}

// SystemInstruction renders the system prompt for a turn. An empty personal
// context falls back to a generic profile line.
func SystemInstruction(in Instruction) string {
	personal := in.PersonalContext
	if personal == "" {
		personal = genericProfile
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SYSTEM: Nexus (Active Task: %s).\n", in.Task)
	fmt.Fprintf(&sb, "MODE: %s\n", in.Mode)
	fmt.Fprintf(&sb, "PERSONAL_CONTEXT: %s\n", personal)
	sb.WriteString("TOOLS: You can use tools by prefixing your response with 'tool:[name]:[input]'.")
	if len(in.Tools) > 0 {
		fmt.Fprintf(&sb, " Available: %s.", strings.Join(in.Tools, ", "))
	}
	return sb.String()
}

// PersonalContext joins retrieved memory texts into the personalization line.
// It returns "" when there is nothing to inject.
func PersonalContext(memories []string) string {
	if len(memories) == 0 {
		return ""
	}
	return "USER STYLE/PREFS: " + strings.Join(memories, " | ")
}

// Turn is a role/content pair in the shape chat backends expect.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Compose prepends the system instruction to the conversation history.
// System messages already in history are preserved in place.
func Compose(system string, history []chat.Message) []Turn {
	turns := make([]Turn, 0, len(history)+1)
	turns = append(turns, Turn{Role: string(chat.RoleSystem), Content: system})
	for _, m := range history {
		turns = append(turns, Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}

// NativePrompt flattens the system instruction and history into the single
// prompt string consumed by native generators.
func NativePrompt(system string, history []chat.Message) string {
	var sb strings.Builder
	sb.WriteString("SYSTEM\n")
	sb.WriteString(system)
	sb.WriteString("\n\nCHAT\n")
	for i, m := range history {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", strings.ToUpper(string(m.Role)), m.Content)
	}
	sb.WriteString("\nASSISTANT:")
	return sb.String()
}

// TokenEstimator approximates the token count of a text.
type TokenEstimator func(text string) float64

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) float64 {
	return float64(utf8.RuneCountInString(text)) / 4
}
