package tools

import "context"

// UserQueryTool lets the agent pause the turn to ask the user a clarifying
// question; the agent loop treats this as another stop condition, ending the
// turn without marking it an error so the next user message resumes it.
type UserQueryTool struct {
	BaseTool
}

// NewUserQueryTool constructs a UserQueryTool.
func NewUserQueryTool() *UserQueryTool { return &UserQueryTool{} }

func (t *UserQueryTool) Name() string          { return "user_query" }
func (t *UserQueryTool) Description() string   { return "Ask the user a clarifying question and wait for their reply." }
func (t *UserQueryTool) RequiresApproval() bool { return false }

func (t *UserQueryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The question to ask the user",
			},
		},
		"required": []string{"question"},
	}
}

func (t *UserQueryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	question, _ := args["question"].(string)
	if question == "" {
		return ErrorResult("question is required")
	}
	return UserResult(question)
}
