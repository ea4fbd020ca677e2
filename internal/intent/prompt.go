package intent

import "github.com/kalambet/nexus/internal/chat"

var modes = map[chat.TaskType]string{
	chat.TaskCode:      "You are an expert software engineer. Respond with clean, correct, production-quality code. Use markdown and code blocks.",
	chat.TaskReasoning: "You are a careful analytical assistant. Think step by step, explain clearly, and structure your response.",
	chat.TaskSearch:    "You summarize and synthesize known information accurately and concisely.",
	chat.TaskChat:      "You are a helpful, friendly AI assistant. Respond naturally and clearly.",
}

// ModeFor returns the tone guidance embedded in the system instruction for
// the given task type.
func ModeFor(task chat.TaskType) string {
	if m, ok := modes[task]; ok {
		return m
	}
	return modes[chat.TaskChat]
}
