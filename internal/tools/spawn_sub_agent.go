package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
)

// SubAgentRunner is the seam spawn_sub_agent calls through; internal/agentloop
// implements it so this package never imports the agent loop directly
// (avoiding an import cycle, since agentloop holds a *Registry).
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, chatID, instructions string, toolNames []string) (summary string, usage *providers.Usage, err error)
}

// SpawnSubAgentTool launches a nested agent loop with its own iteration cap
// and a restricted tool subset, returning the sub-agent's final summary
// (spec §3 SubAgentRun, §4.9).
type SpawnSubAgentTool struct {
	BaseTool
	runner SubAgentRunner
}

// NewSpawnSubAgentTool constructs a SpawnSubAgentTool backed by runner.
func NewSpawnSubAgentTool(runner SubAgentRunner) *SpawnSubAgentTool {
	return &SpawnSubAgentTool{runner: runner}
}

func (t *SpawnSubAgentTool) Name() string        { return "spawn_sub_agent" }
func (t *SpawnSubAgentTool) Description() string { return "Run a nested agent with its own tool subset to accomplish a focused sub-task, returning its final summary." }

func (t *SpawnSubAgentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"instructions": map[string]interface{}{
				"type":        "string",
				"description": "What the sub-agent should accomplish",
			},
			"tools": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Tool names the sub-agent is allowed to use; omit for the default restricted subset",
			},
		},
		"required": []string{"instructions"},
	}
}

func (t *SpawnSubAgentTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	instructions, _ := args["instructions"].(string)
	if instructions == "" {
		return ErrorResult("instructions is required")
	}

	var toolNames []string
	if raw, ok := args["tools"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				toolNames = append(toolNames, s)
			}
		}
	}

	chatID := ChatIDFromContext(ctx)
	summary, usage, err := t.runner.RunSubAgent(ctx, chatID, instructions, toolNames)
	if err != nil {
		return ErrorResult(fmt.Sprintf("sub-agent failed: %v", err))
	}
	result := SilentResult(summary)
	result.Usage = usage
	return result
}
