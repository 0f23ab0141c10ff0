package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// ProjectRepo persists Project entities.
type ProjectRepo interface {
	Create(ctx context.Context, p *Project) error
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	List(ctx context.Context) ([]*Project, error)
	Update(ctx context.Context, p *Project) error
	// Delete cascades to every owned Chat and its descendants (spec §3).
	Delete(ctx context.Context, id uuid.UUID) error
}

// ChatRepo persists Chat entities.
type ChatRepo interface {
	Create(ctx context.Context, c *Chat) error
	Get(ctx context.Context, id uuid.UUID) (*Chat, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Chat, error)
	Update(ctx context.Context, c *Chat) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MessageRepo persists Message entities.
type MessageRepo interface {
	Create(ctx context.Context, m *Message) error
	Get(ctx context.Context, id uuid.UUID) (*Message, error)
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*Message, error)
	// ListAfter returns messages in chatID created strictly after afterID's
	// message (every message when afterID is nil), ordered by creation time —
	// used by ObservationalMemory to find the unobserved suffix.
	ListAfter(ctx context.Context, chatID uuid.UUID, afterID *uuid.UUID) ([]*Message, error)
	// Rewrite updates content in place — used only by the edit-message
	// operation, which is the one sanctioned in-place mutation (spec §3).
	Rewrite(ctx context.Context, id uuid.UUID, content string) error
	DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// CheckpointRepo persists Checkpoint entities.
type CheckpointRepo interface {
	Create(ctx context.Context, c *Checkpoint) error
	Get(ctx context.Context, id uuid.UUID) (*Checkpoint, error)
	GetByMessage(ctx context.Context, messageID uuid.UUID) (*Checkpoint, error)
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*Checkpoint, error)
	DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error
}

// ToolCallRepo persists ToolCall entities and its state-machine transitions.
type ToolCallRepo interface {
	Create(ctx context.Context, tc *ToolCall) error
	CreateBatch(ctx context.Context, tcs []*ToolCall) error
	Get(ctx context.Context, id uuid.UUID) (*ToolCall, error)
	// UpdateStatus performs the ToolCall state-machine transition (spec
	// §4.8): pending -> running -> {completed|error|rejected}. Rejected is
	// only reachable from pending.
	UpdateStatus(ctx context.Context, id uuid.UUID, status ToolCallStatus, outputText, errorReason string) error
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*ToolCall, error)
	ListByCheckpoint(ctx context.Context, checkpointID uuid.UUID) ([]*ToolCall, error)
	DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error
}

// FileEditRepo persists FileEdit entities.
type FileEditRepo interface {
	Create(ctx context.Context, fe *FileEdit) error
	Get(ctx context.Context, id uuid.UUID) (*FileEdit, error)
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*FileEdit, error)
	// ListFrom returns edits with CreatedAt >= at, ordered oldest-first.
	// RevertEngine restores them in reverse, so the earliest snapshot of each
	// path is written last.
	ListFrom(ctx context.Context, chatID uuid.UUID, at time.Time) ([]*FileEdit, error)
	DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// FileSnapshotRepo persists FileSnapshot entities.
type FileSnapshotRepo interface {
	Create(ctx context.Context, fs *FileSnapshot) error
	Get(ctx context.Context, id uuid.UUID) (*FileSnapshot, error)
	GetByFileEdit(ctx context.Context, fileEditID uuid.UUID) (*FileSnapshot, error)
}

// ReasoningBlockRepo persists ReasoningBlock entities.
type ReasoningBlockRepo interface {
	Create(ctx context.Context, rb *ReasoningBlock) error
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*ReasoningBlock, error)
	DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error
}

// ToolArtifactRepo persists ToolArtifact entities.
type ToolArtifactRepo interface {
	Create(ctx context.Context, a *ToolArtifact) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*ToolArtifact, error)
	DeleteByProject(ctx context.Context, projectID uuid.UUID) error
	DeleteByChat(ctx context.Context, chatID uuid.UUID) error
}

// TodoRepo persists Todo entities.
type TodoRepo interface {
	// ReplaceAll overwrites a chat's whole todo list atomically — the
	// update_todo_list tool's contract (spec §4.3, idempotence property §8).
	ReplaceAll(ctx context.Context, chatID uuid.UUID, checkpointID *uuid.UUID, todos []*Todo) error
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*Todo, error)
	DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error
}

// ObservationRepo persists Observation entities.
type ObservationRepo interface {
	Create(ctx context.Context, o *Observation) error
	Latest(ctx context.Context, chatID uuid.UUID) (*Observation, error)
	// DeleteEarlierGenerations removes every Observation in chatID with
	// generation < keepGeneration (spec §3 invariant).
	DeleteEarlierGenerations(ctx context.Context, chatID uuid.UUID, keepGeneration int) error
	// PruneDangling removes observations whose observed_up_to_message_id no
	// longer exists (used by RevertEngine, spec §4.12).
	PruneDangling(ctx context.Context, chatID uuid.UUID) error
}

// MemoryStateRepo persists the single MemoryState row per chat.
type MemoryStateRepo interface {
	Get(ctx context.Context, chatID uuid.UUID) (*MemoryState, error)
	Upsert(ctx context.Context, m *MemoryState) error
}

// SubAgentRunRepo persists SubAgentRun entities.
type SubAgentRunRepo interface {
	Create(ctx context.Context, r *SubAgentRun) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status SubAgentStatus, output string, completedAt *time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*SubAgentRun, error)
}

// ProjectPlanRepo persists ProjectPlan and ProjectPlanRevision entities.
type ProjectPlanRepo interface {
	Create(ctx context.Context, p *ProjectPlan) error
	Get(ctx context.Context, id uuid.UUID) (*ProjectPlan, error)
	ListByChat(ctx context.Context, chatID uuid.UUID) ([]*ProjectPlan, error)
	// Update persists p with the ContentSHA256 the caller has set: a hash equal
	// to the stored one changes nothing; otherwise it bumps Revision and
	// appends a ProjectPlanRevision row in the same transaction (SPEC_FULL §3).
	Update(ctx context.Context, p *ProjectPlan, editor string) error
	ListRevisions(ctx context.Context, planID uuid.UUID) ([]*ProjectPlanRevision, error)
	// DeleteAfter removes every plan created after (or at) the given time,
	// used by RevertEngine (spec §4.12).
	DeleteAfter(ctx context.Context, chatID uuid.UUID, after time.Time) error
}

// AutoApproveRuleRepo persists per-project auto-approve rules.
type AutoApproveRuleRepo interface {
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*AutoApproveRuleRow, error)
	Create(ctx context.Context, r *AutoApproveRuleRow) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Repos aggregates every repository the core depends on, analogous to the
// teacher's store.Stores container (internal/store/pg/factory.go).
type Repos struct {
	Projects      ProjectRepo
	Chats         ChatRepo
	Messages      MessageRepo
	Checkpoints   CheckpointRepo
	ToolCalls     ToolCallRepo
	FileEdits     FileEditRepo
	FileSnapshots FileSnapshotRepo
	Reasoning     ReasoningBlockRepo
	Artifacts     ToolArtifactRepo
	Todos         TodoRepo
	Observations  ObservationRepo
	MemoryStates  MemoryStateRepo
	SubAgentRuns  SubAgentRunRepo
	Plans         ProjectPlanRepo
	AutoApprove   AutoApproveRuleRepo
}

// GenNewID returns a fresh random entity ID, mirroring the teacher's
// store.GenNewID convention so every repo generates IDs the same way.
func GenNewID() uuid.UUID { return uuid.New() }
