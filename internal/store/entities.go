// Package store is the persistence layer (spec §3): the entity types and
// the repository interfaces the rest of the core depends on, plus a
// Postgres implementation (spec §6 "Persisted state layout") built on
// jackc/pgx/v5's database/sql driver, following the teacher's store/pg
// layout (one file per entity family, google/uuid IDs, database/sql).
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageRole enumerates the roles a Message can carry.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
	RoleSystem    MessageRole = "system"
)

// ToolCallStatus is the ToolCall state machine from spec §3/§4.8.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallRejected  ToolCallStatus = "rejected"
	ToolCallError     ToolCallStatus = "error"
)

// FileEditAction enumerates FileEdit.action values.
type FileEditAction string

const (
	FileEditCreated  FileEditAction = "created"
	FileEditModified FileEditAction = "modified"
	FileEditDeleted  FileEditAction = "deleted"
)

// TodoStatus enumerates Todo.status values.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// SubAgentStatus enumerates SubAgentRun.status values.
type SubAgentStatus string

const (
	SubAgentRunning      SubAgentStatus = "running"
	SubAgentCompleted    SubAgentStatus = "completed"
	SubAgentCancelled    SubAgentStatus = "cancelled"
	SubAgentError        SubAgentStatus = "error"
	SubAgentMaxIteration SubAgentStatus = "max_iterations"
)

// Project owns Chats; deletion cascades (spec §3).
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Chat owns Messages, Checkpoints, ToolCalls, FileEdits, ReasoningBlocks,
// FileSnapshots, Todos, Observations, MemoryState, SubAgentRuns, and
// ProjectPlans (spec §3).
type Chat struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"projectId"`
	Title     string    `json:"title"`
	Pinned    bool      `json:"pinned"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageAttachment is a multimodal attachment on a Message (SPEC_FULL §3,
// from original_source vision.py: base64 image attachment shape).
type MessageAttachment struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
	Name     string `json:"name,omitempty"`
}

// Message belongs to a Chat; never edited in place except by the edit
// operation, which reverts to its checkpoint and rewrites content.
type Message struct {
	ID           uuid.UUID            `json:"id"`
	ChatID       uuid.UUID            `json:"chatId"`
	Role         MessageRole          `json:"role"`
	Content      string               `json:"content"`
	CheckpointID *uuid.UUID           `json:"checkpointId,omitempty"`
	Attachments  []MessageAttachment  `json:"attachments,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
}

// Checkpoint is the unit of revert: one-to-one with the user message that
// created it (spec §3, GLOSSARY).
type Checkpoint struct {
	ID        uuid.UUID `json:"id"`
	ChatID    uuid.UUID `json:"chatId"`
	MessageID uuid.UUID `json:"messageId"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToolCall is one invocation of a tool during a turn (spec §3, §4.8).
type ToolCall struct {
	ID             uuid.UUID              `json:"id"`
	ChatID         uuid.UUID              `json:"chatId"`
	CheckpointID   uuid.UUID              `json:"checkpointId"`
	ToolName       string                 `json:"toolName"`
	Status         ToolCallStatus         `json:"status"`
	Input          map[string]interface{} `json:"input"`
	OutputText     string                 `json:"outputText"`
	ParallelGroup  *uuid.UUID             `json:"parallelGroupId,omitempty"`
	ErrorReason    string                 `json:"errorReason,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	DurationMillis int64                  `json:"durationMillis,omitempty"`
}

// FileEdit is a single file mutation produced by a tool call (spec §3).
type FileEdit struct {
	ID           uuid.UUID      `json:"id"`
	ChatID       uuid.UUID      `json:"chatId"`
	CheckpointID uuid.UUID      `json:"checkpointId"`
	ToolCallID   uuid.UUID      `json:"toolCallId"`
	Path         string         `json:"path"`
	Action       FileEditAction `json:"action"`
	Diff         string         `json:"diff"`
	SnapshotID   *uuid.UUID     `json:"snapshotId,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// FileSnapshot is the immutable pre-edit content RevertEngine restores from
// (spec §3, §4.12). Content is nil for a snapshot of a not-yet-existing file
// (i.e. the pre-state of a "created" FileEdit).
type FileSnapshot struct {
	ID           uuid.UUID  `json:"id"`
	ChatID       uuid.UUID  `json:"chatId"`
	CheckpointID *uuid.UUID `json:"checkpointId,omitempty"`
	FileEditID   *uuid.UUID `json:"fileEditId,omitempty"`
	Path         string     `json:"path"`
	Content      *string    `json:"content"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// ReasoningBlock is a persisted chunk of model "thinking" (spec §3, §4.7).
type ReasoningBlock struct {
	ID             uuid.UUID `json:"id"`
	ChatID         uuid.UUID `json:"chatId"`
	CheckpointID   uuid.UUID `json:"checkpointId"`
	Content        string    `json:"content"`
	DurationMillis int64     `json:"durationMillis"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ToolArtifactKind enumerates the kind of spilled output (spec §4.11).
type ToolArtifactKind string

const (
	ArtifactKindToolOutput ToolArtifactKind = "tool_output"
)

// ToolArtifact records oversized tool output spilled to disk (spec §3, §4.11).
type ToolArtifact struct {
	ID           uuid.UUID        `json:"id"`
	ToolCallID   uuid.UUID        `json:"toolCallId"`
	ChatID       uuid.UUID        `json:"chatId"`
	ProjectID    uuid.UUID        `json:"projectId"`
	Kind         ToolArtifactKind `json:"kind"`
	Path         string           `json:"path"`
	LineCount    int              `json:"lineCount"`
	PreviewLines int              `json:"previewLines"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Todo is one item on the chat's todo list (spec §3).
type Todo struct {
	ID           uuid.UUID  `json:"id"`
	ChatID       uuid.UUID  `json:"chatId"`
	CheckpointID *uuid.UUID `json:"checkpointId,omitempty"`
	Content      string     `json:"content"`
	Status       TodoStatus `json:"status"`
	SortOrder    int        `json:"sortOrder"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Observation is a structured, LLM-generated compressed memory of a
// contiguous message prefix (spec §3, GLOSSARY, §4.10).
type Observation struct {
	ID                  uuid.UUID `json:"id"`
	ChatID              uuid.UUID `json:"chatId"`
	Generation           int       `json:"generation"`
	Content              string    `json:"content"`
	TokenCount           int       `json:"tokenCount"`
	TriggerTokenCount    int       `json:"triggerTokenCount"`
	ObservedUpToMessageID *uuid.UUID `json:"observedUpToMessageId,omitempty"`
	CurrentTask          string    `json:"currentTask,omitempty"`
	SuggestedResponse    string    `json:"suggestedResponse,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// BufferedChunk is one passively-buffered Observer output awaiting
// activation (GLOSSARY "Buffered chunk", §4.10).
type BufferedChunk struct {
	Content         string    `json:"content"`
	TokenCount      int       `json:"tokenCount"`
	UpToMessageID   uuid.UUID `json:"upToMessageId"`
	UpToTimestamp   time.Time `json:"upToTimestamp"`
}

// MemoryStateBlob is MemoryState's opaque JSON payload (spec §3): the
// Observer's passive-buffering bookkeeping.
type MemoryStateBlob struct {
	IntervalTokens int             `json:"intervalTokens"`
	LastBoundary   int             `json:"lastBoundary"`
	UpToMessageID  *uuid.UUID      `json:"upToMessageId,omitempty"`
	UpToTimestamp  *time.Time      `json:"upToTimestamp,omitempty"`
	Chunks         []BufferedChunk `json:"chunks"`
}

// MemoryState is a chat's memory-strategy bookkeeping row (spec §3).
type MemoryState struct {
	ID        uuid.UUID       `json:"id"`
	ChatID    uuid.UUID       `json:"chatId"`
	Strategy  string          `json:"strategy"`
	Blob      MemoryStateBlob `json:"blob"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SubAgentRun is a nested agent invocation spawned by spawn_sub_agent
// (spec §3, SPEC_FULL §3 sub_agent_runner.py).
type SubAgentRun struct {
	ID             uuid.UUID      `json:"id"`
	ChatID         uuid.UUID      `json:"chatId"`
	ParentToolCall uuid.UUID      `json:"parentToolCallId"`
	Task           string         `json:"task"`
	Model          string         `json:"model"`
	Status         SubAgentStatus `json:"status"`
	Output         string         `json:"output,omitempty"`
	DurationMillis int64          `json:"durationMillis,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// ProjectPlan is a persisted plan document (spec §3, §6; SPEC_FULL §3
// plan_service.py/plan_file_store.py).
type ProjectPlan struct {
	ID                  uuid.UUID  `json:"id"`
	ChatID              uuid.UUID  `json:"chatId"`
	ProjectID           uuid.UUID  `json:"projectId"`
	CheckpointID         uuid.UUID  `json:"checkpointId"`
	Title                string     `json:"title"`
	Status               string     `json:"status"`
	FilePath             string     `json:"filePath"`
	Revision             int        `json:"revision"`
	ContentSHA256        string     `json:"contentSha256"`
	LastEditor           string     `json:"lastEditor"`
	ApprovedAction       string     `json:"approvedAction,omitempty"`
	ImplementationChatID *uuid.UUID `json:"implementationChatId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// ProjectPlanRevision is appended on every ProjectPlan update (spec §3).
type ProjectPlanRevision struct {
	ID            uuid.UUID `json:"id"`
	PlanID        uuid.UUID `json:"planId"`
	Revision      int       `json:"revision"`
	ContentSHA256 string    `json:"contentSha256"`
	Editor        string    `json:"editor"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AutoApproveRuleRow persists one auto-approve rule for a project, backing
// the tools.AutoApproveRule matcher with storage (spec §4.8 step 2).
type AutoApproveRuleRow struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"projectId"`
	Tool      string    `json:"tool,omitempty"`
	Path      string    `json:"path,omitempty"`
	Extension string    `json:"extension,omitempty"`
	Directory string    `json:"directory,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// MarshalBlob and UnmarshalBlob implement JSON (de)serialization for the
// opaque MemoryState blob column, mirroring the teacher's jsonOrEmpty/scan
// helpers in store/pg.
func (b MemoryStateBlob) MarshalBlob() ([]byte, error) { return json.Marshal(b) }

func UnmarshalMemoryStateBlob(data []byte) (MemoryStateBlob, error) {
	var b MemoryStateBlob
	if len(data) == 0 {
		return b, nil
	}
	err := json.Unmarshal(data, &b)
	return b, err
}
