package agentloop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/tools"
)

// DefaultSubAgentMaxIterations caps a nested agent's own loop, independent of
// its parent's remaining iteration budget (SPEC_FULL §3 sub_agent_runner.py).
const DefaultSubAgentMaxIterations = 20

// defaultSubAgentTools is used when spawn_sub_agent's caller omits an
// explicit tool subset: read-only tools a focused helper task needs without
// risking file mutation or further nested spawns.
var defaultSubAgentTools = []string{
	"read_file",
	"list_files",
	"grep",
	"get_file_structure",
}

const subAgentSystemPrompt = "You are a focused sub-agent spawned to accomplish one task. " +
	"Work efficiently, then respond with a concise final summary of what you did and what you found. " +
	"Do not ask the user questions; make reasonable assumptions and note them in your summary."

// RunSubAgent implements tools.SubAgentRunner: it runs a nested, iteration-
// capped loop scoped to a restricted tool subset and returns its final
// summary text (spec §3 SubAgentRun, SPEC_FULL §3 sub_agent_runner.py).
func (l *Loop) RunSubAgent(ctx context.Context, chatID, instructions string, toolNames []string) (string, *providers.Usage, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return "", nil, fmt.Errorf("agentloop: invalid chat id for sub-agent: %w", err)
	}

	chat, err := l.repos.Chats.Get(ctx, id)
	if err != nil {
		return "", nil, fmt.Errorf("agentloop: load chat for sub-agent: %w", err)
	}
	checkpoints, err := l.repos.Checkpoints.ListByChat(ctx, id)
	if err != nil || len(checkpoints) == 0 {
		return "", nil, fmt.Errorf("agentloop: sub-agent requires an existing checkpoint")
	}
	checkpointID := checkpoints[len(checkpoints)-1].ID

	parentToolCallID := tools.ToolCallIDFromContext(ctx)
	parentID, err := uuid.Parse(parentToolCallID)
	if err != nil {
		return "", nil, fmt.Errorf("agentloop: sub-agent has no parent tool call id")
	}

	run := &store.SubAgentRun{
		ID:             store.GenNewID(),
		ChatID:         id,
		ParentToolCall: parentID,
		Task:           instructions,
		Model:          l.defaultModel,
		Status:         store.SubAgentRunning,
		CreatedAt:      time.Now().UTC(),
	}
	if l.repos.SubAgentRuns != nil {
		if err := l.repos.SubAgentRuns.Create(ctx, run); err != nil {
			return "", nil, fmt.Errorf("agentloop: persist sub-agent run: %w", err)
		}
	}

	names := toolNames
	if len(names) == 0 {
		names = defaultSubAgentTools
	}
	subRegistry := tools.NewRegistry()
	for _, n := range names {
		if t, ok := l.registry.Get(n); ok {
			subRegistry.Register(t)
		}
	}

	sub := New(l.repos, l.bus, l.waiter, l.ctxMgr, l.streamer, l.executor.WithRegistry(subRegistry), subRegistry, nil, nil, DefaultSubAgentMaxIterations)

	start := time.Now()
	l.publish(id, "sub_agent_start", map[string]interface{}{"subAgentRunId": run.ID.String(), "task": instructions})

	seedMsg := &store.Message{
		ID:           store.GenNewID(),
		ChatID:       id,
		Role:         store.RoleUser,
		Content:      instructions,
		CheckpointID: &checkpointID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := l.repos.Messages.Create(ctx, seedMsg); err != nil {
		return "", nil, fmt.Errorf("agentloop: persist sub-agent task message: %w", err)
	}

	result, runErr := sub.RunTurn(ctx, TurnInput{
		ChatID:       id,
		ProjectID:    chat.ProjectID,
		CheckpointID: checkpointID,
		Model:        l.defaultModel,
		Provider:     l.defaultProvider,
		SystemPrompt: subAgentSystemPrompt,
		ContextLimit: DefaultSubAgentContextLimit,
	})

	completedAt := time.Now().UTC()
	status := store.SubAgentCompleted
	output := ""
	var usage *providers.Usage
	if runErr != nil {
		status = store.SubAgentError
		output = runErr.Error()
	} else {
		output = result.FinalText
		usage = &result.Usage
		if result.Iterations >= DefaultSubAgentMaxIterations {
			status = store.SubAgentMaxIteration
		}
	}

	if l.repos.SubAgentRuns != nil {
		_ = l.repos.SubAgentRuns.UpdateStatus(ctx, run.ID, status, output, &completedAt)
	}
	l.publish(id, "sub_agent_end", map[string]interface{}{
		"subAgentRunId":  run.ID.String(),
		"status":         string(status),
		"durationMillis": time.Since(start).Milliseconds(),
	})

	if runErr != nil {
		return "", nil, runErr
	}
	return output, usage, nil
}

// DefaultSubAgentContextLimit bounds the nested loop's prompt assembly when
// the caller doesn't have a model-specific context window handy.
const DefaultSubAgentContextLimit = 32000
