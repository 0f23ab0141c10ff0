package tools

import (
	"context"
	"fmt"
)

// Todo mirrors the persisted Todo entity (spec §3) closely enough for the
// tool layer to build and return one without importing the store package.
type Todo struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"` // "pending", "in_progress", "completed"
}

// TodoStore is the persistence seam update_todo_list writes through; the
// context-budget preprocessor (§4.6) reads the same store to render the
// reminder table.
type TodoStore interface {
	ReplaceTodos(ctx context.Context, chatID string, todos []Todo) error
}

// UpdateTodoListTool replaces a chat's todo list wholesale, matching the
// original tool's "caller submits the full list each time" contract.
type UpdateTodoListTool struct {
	BaseTool
	store TodoStore
}

// NewUpdateTodoListTool constructs an UpdateTodoListTool backed by store.
func NewUpdateTodoListTool(store TodoStore) *UpdateTodoListTool {
	return &UpdateTodoListTool{store: store}
}

func (t *UpdateTodoListTool) Name() string          { return "update_todo_list" }
func (t *UpdateTodoListTool) Description() string   { return "Replace the chat's todo list with a new set of items." }
func (t *UpdateTodoListTool) RequiresApproval() bool { return false }

func (t *UpdateTodoListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"todos": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"content": map[string]interface{}{"type": "string"},
						"status":  map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"todos"},
	}
}

func (t *UpdateTodoListTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	raw, ok := args["todos"].([]interface{})
	if !ok {
		return ErrorResult("todos must be an array")
	}

	todos := make([]Todo, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return ErrorResult(fmt.Sprintf("todos[%d] must be an object", i))
		}
		content, _ := m["content"].(string)
		status, _ := m["status"].(string)
		if content == "" {
			return ErrorResult(fmt.Sprintf("todos[%d].content is required", i))
		}
		if status == "" {
			status = "pending"
		}
		todos = append(todos, Todo{ID: i + 1, Content: content, Status: status})
	}

	chatID := ChatIDFromContext(ctx)
	if err := t.store.ReplaceTodos(ctx, chatID, todos); err != nil {
		return ErrorResult(fmt.Sprintf("failed to save todos: %v", err))
	}
	return SilentResult(fmt.Sprintf("updated %d todo item(s)", len(todos)))
}
