// Package tools recognizes tool-call directives in generated text.
//
// A directive has the form "tool:<name>:<input>". Execution is simulated:
// a recognized call is reported back with a canned success result.
package tools

import (
	"fmt"
	"strings"

	"github.com/kalambet/nexus/internal/chat"
)

const prefix = "tool:"

// Available lists the tool names advertised in the system instruction.
var Available = []string{"write_file", "read_file"}

// Detect returns the first tool call found in text, or nil when the text
// carries no well-formed directive. Input is everything after the name,
// verbatim, and may itself contain ':'.
func Detect(text string) *chat.ToolCall {
	idx := strings.Index(text, prefix)
	if idx < 0 {
		return nil
	}
	rest := text[idx+len(prefix):]
	name, input, ok := strings.Cut(rest, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return nil
	}
	return &chat.ToolCall{
		Name:   name,
		Input:  input,
		Result: fmt.Sprintf("Simulated execution of %s success.", name),
	}
}
