package tools

import "context"

// SubmitTaskTool signals that the agent considers the current turn's task
// complete; the agent loop (spec §4.9) treats a call to this tool as a stop
// condition distinct from running out of iterations or hitting an error.
type SubmitTaskTool struct {
	BaseTool
}

// NewSubmitTaskTool constructs a SubmitTaskTool.
func NewSubmitTaskTool() *SubmitTaskTool { return &SubmitTaskTool{} }

func (t *SubmitTaskTool) Name() string          { return "submit_task" }
func (t *SubmitTaskTool) Description() string   { return "Signal that the requested task is complete, with a final summary for the user." }
func (t *SubmitTaskTool) RequiresApproval() bool { return false }

func (t *SubmitTaskTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "A concise summary of what was accomplished",
			},
		},
		"required": []string{"summary"},
	}
}

func (t *SubmitTaskTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	summary, _ := args["summary"].(string)
	if summary == "" {
		summary = "Task submitted."
	}
	return UserResult(summary)
}
