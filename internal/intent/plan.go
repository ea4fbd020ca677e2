package intent

import "github.com/kalambet/nexus/internal/chat"

var commonPhases = []string{"Understand context", "Retrieve identity memory"}

var taskPhases = map[chat.TaskType][]string{
	chat.TaskCode:      {"Architect solution", "Implement logic", "Verify Tool Output"},
	chat.TaskReasoning: {"Break into logic blocks", "Analyze constraints", "Synthesize conclusion"},
	chat.TaskSearch:    {"Identify keywords", "Synthesize findings"},
	chat.TaskChat:      {"Formulate response", "Review tone"},
}

// Plan returns the phase labels for a turn of the given task type: the two
// common phases followed by the task's own.
//
// text is not consulted; phases depend on the task type alone.
func Plan(text string, task chat.TaskType) chat.Plan {
	specific, ok := taskPhases[task]
	if !ok {
		specific = taskPhases[chat.TaskChat]
	}
	steps := make([]string, 0, len(commonPhases)+len(specific))
	steps = append(steps, commonPhases...)
	steps = append(steps, specific...)
	return chat.Plan{Steps: steps}
}

// Steps turns a plan into a fresh all-pending step sequence.
func Steps(p chat.Plan) []chat.Step {
	steps := make([]chat.Step, len(p.Steps))
	for i, label := range p.Steps {
		steps[i] = chat.Step{Label: label, Status: chat.StepPending}
	}
	return steps
}
