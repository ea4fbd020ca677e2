package intent

import (
	"strings"

	"github.com/kalambet/nexus/internal/chat"
)

// bucket pairs a task type with the keywords that select it.
type bucket struct {
	task  chat.TaskType
	terms []string
}

// buckets are checked in order; the first bucket with a matching term wins.
var buckets = []bucket{
	{chat.TaskCode, []string{"write code", "function", "bug", "typescript", "rust", "code"}},
	{chat.TaskReasoning, []string{"why", "explain", "analyze", "reason"}},
	{chat.TaskSearch, []string{"search", "find", "lookup"}},
}

// Classify maps an utterance to a task type by case-insensitive substring
// match. Anything that matches no bucket is chat.
func Classify(text string) chat.TaskType {
	lower := strings.ToLower(text)
	for _, b := range buckets {
		for _, term := range b.terms {
			if strings.Contains(lower, term) {
				return b.task
			}
		}
	}
	return chat.TaskChat
}
