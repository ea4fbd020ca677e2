// Package chat holds the conversation records shared by the orchestrator,
// the session manager and the HTTP surface.
package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TaskType is the coarse intent label that drives prompt shaping.
type TaskType string

const (
	TaskCode      TaskType = "Code"
	TaskReasoning TaskType = "Reasoning"
	TaskSearch    TaskType = "Search"
	TaskChat      TaskType = "Chat"
)

// StepStatus is the lifecycle state of a reasoning step.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepComplete StepStatus = "complete"
)

// Step is a UI-facing progress marker for one phase of a turn.
type Step struct {
	Label  string     `json:"label"`
	Status StepStatus `json:"status"`
}

// ToolCall is an action request found in generated text.
type ToolCall struct {
	Name   string `json:"name"`
	Input  string `json:"input"`
	Result string `json:"result,omitempty"`
}

// Plan is the ordered list of phase labels for a turn.
type Plan struct {
	Steps []string `json:"steps"`
}

// Message is one chat turn. Assistant messages carry the turn's plan,
// progress and throughput alongside the text.
type Message struct {
	ID             string     `json:"id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Timestamp      time.Time  `json:"timestamp"`
	TokensPerSec   int        `json:"tokens_per_sec,omitempty"`
	ReasoningSteps []Step     `json:"reasoning_steps,omitempty"`
	Sources        []string   `json:"sources,omitempty"`
	Personalized   bool       `json:"personalized,omitempty"`
	Task           TaskType   `json:"task,omitempty"`
	Plan           *Plan      `json:"plan,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
}

// Session is a titled conversation and its messages in order.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	ModelID      string    `json:"model_id"`
}

// CopySteps returns an independent copy of steps.
func CopySteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}

// LastUserMessage returns the content of the most recent user message in
// history, or "" when there is none.
func LastUserMessage(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleUser {
			return history[i].Content
		}
	}
	return ""
}
