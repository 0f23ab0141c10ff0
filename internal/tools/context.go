package tools

import "context"

type contextKey int

const (
	chatIDKey contextKey = iota
	projectIDKey
	toolCallIDKey
)

// WithChatID returns a context carrying the active chat ID, following the
// teacher's typed-context-key convention for request-scoped values.
func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatIDKey, chatID)
}

// ChatIDFromContext extracts the chat ID stashed by WithChatID, or "" if
// none was set.
func ChatIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(chatIDKey).(string)
	return v
}

// WithProjectID returns a context carrying the active project ID.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

// ProjectIDFromContext extracts the project ID stashed by WithProjectID.
func ProjectIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(projectIDKey).(string)
	return v
}

// WithToolCallID returns a context carrying the id of the ToolCall row a
// running tool executes under, so tools that spawn nested work (e.g.
// spawn_sub_agent) can record a parent-tool-call link.
func WithToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, toolCallID)
}

// ToolCallIDFromContext extracts the tool-call id stashed by WithToolCallID.
func ToolCallIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(toolCallIDKey).(string)
	return v
}
