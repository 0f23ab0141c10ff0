// Package chathistory assembles the read-side projection GET
// /api/chat/{id}/history serves: every entity family a chat owns, joined
// into one response, with no EventBus or AgentLoop coupling (spec §3
// ChatHistory; SPEC_FULL §3 chat_history.py).
package chathistory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// Assembler builds a History from persisted state.
type Assembler struct {
	repos *store.Repos
}

// New constructs an Assembler.
func New(repos *store.Repos) *Assembler {
	return &Assembler{repos: repos}
}

// Message is one chat message in UI-facing shape.
type Message struct {
	ID           uuid.UUID  `json:"id"`
	Role         string     `json:"role"`
	Content      string     `json:"content"`
	CreatedAt    string     `json:"timestamp"`
	CheckpointID *uuid.UUID `json:"checkpointId,omitempty"`
}

// Artifact is a spilled tool-output reference attached to a ToolCall.
type Artifact struct {
	Type         string `json:"type"`
	Path         string `json:"path"`
	LineCount    int    `json:"lineCount"`
	PreviewLines int    `json:"previewLines"`
}

// ToolCall is one tool invocation in UI-facing shape.
type ToolCall struct {
	ID              uuid.UUID              `json:"id"`
	Name            string                 `json:"name"`
	Status          string                 `json:"status"`
	Input           map[string]interface{} `json:"input"`
	Output          string                 `json:"output"`
	CreatedAt       string                 `json:"timestamp"`
	DurationMillis  int64                  `json:"duration,omitempty"`
	ParallelGroupID *uuid.UUID             `json:"parallelGroupId,omitempty"`
	Artifacts       []Artifact             `json:"artifacts"`
}

// FileEdit is one file mutation in UI-facing shape.
type FileEdit struct {
	ID           uuid.UUID `json:"id"`
	FilePath     string    `json:"filePath"`
	Action       string    `json:"action"`
	Diff         string    `json:"diff"`
	CreatedAt    string    `json:"timestamp"`
	CheckpointID uuid.UUID `json:"checkpointId"`
}

// Checkpoint is one checkpoint with the ids of everything tagged under it.
type Checkpoint struct {
	ID              uuid.UUID   `json:"id"`
	MessageID       uuid.UUID   `json:"messageId"`
	Label           string      `json:"label"`
	CreatedAt       string      `json:"timestamp"`
	FileEdits       []uuid.UUID `json:"fileEdits"`
	ToolCalls       []uuid.UUID `json:"toolCalls"`
	ReasoningBlocks []uuid.UUID `json:"reasoningBlocks"`
}

// ReasoningBlock is one persisted thinking chunk in UI-facing shape.
type ReasoningBlock struct {
	ID             uuid.UUID `json:"id"`
	Content        string    `json:"content"`
	CreatedAt      string    `json:"timestamp"`
	DurationMillis int64     `json:"duration"`
	CheckpointID   uuid.UUID `json:"checkpointId"`
}

// SubAgentRun is one nested agent invocation in UI-facing shape.
type SubAgentRun struct {
	ID             uuid.UUID `json:"id"`
	Task           string    `json:"task"`
	Model          string    `json:"model"`
	Status         string    `json:"status"`
	Output         string    `json:"output"`
	ToolCallID     uuid.UUID `json:"toolCallId"`
	CreatedAt      string    `json:"timestamp"`
	DurationMillis int64     `json:"duration,omitempty"`
}

// Todo is one current todo-list item in UI-facing shape.
type Todo struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt string    `json:"timestamp"`
}

// ProjectPlan is one plan in UI-facing shape, with its markdown content
// inlined when readable from planstore.
type ProjectPlan struct {
	ID                   uuid.UUID `json:"id"`
	ChatID               uuid.UUID `json:"chatId"`
	ProjectID            uuid.UUID `json:"projectId"`
	CheckpointID         uuid.UUID `json:"checkpointId"`
	Title                string    `json:"title"`
	Status               string    `json:"status"`
	FilePath             string    `json:"filePath"`
	Revision             int       `json:"revision"`
	ContentSHA256        string    `json:"contentSha256"`
	LastEditor           string    `json:"lastEditor"`
	ApprovedAction       string    `json:"approvedAction,omitempty"`
	ImplementationChatID *uuid.UUID `json:"implementationChatId,omitempty"`
	Content              *string   `json:"content,omitempty"`
}

// History is the full GET /api/chat/{id}/history response body.
type History struct {
	ChatID          uuid.UUID        `json:"chatId"`
	Messages        []Message        `json:"messages"`
	ToolCalls       []ToolCall       `json:"toolCalls"`
	SubAgentRuns    []SubAgentRun    `json:"subAgentRuns"`
	FileEdits       []FileEdit       `json:"fileEdits"`
	Checkpoints     []Checkpoint     `json:"checkpoints"`
	ReasoningBlocks []ReasoningBlock `json:"reasoningBlocks"`
	Todos           []Todo           `json:"todos"`
	Plans           []ProjectPlan    `json:"plans"`
}

// PlanContentReader resolves a plan document's current markdown content; the
// concrete implementation is internal/planstore.Store.Read, kept as an
// interface here so chathistory doesn't import planstore's file-watching
// machinery for a read-only lookup.
type PlanContentReader interface {
	Read(projectID, planID uuid.UUID) (string, error)
}

// Assemble builds the full History for chatID (SPEC_FULL §3
// chat_history.py's ChatHistoryAssembler.assemble, minus the
// settings/context-window-dependent contextItems field, which belongs to
// ContextBudgetManager.Prepare's own response, not a static history read).
func (a *Assembler) Assemble(ctx context.Context, chatID uuid.UUID, plans PlanContentReader) (*History, error) {
	if _, err := a.repos.Chats.Get(ctx, chatID); err != nil {
		return nil, fmt.Errorf("chathistory: load chat: %w", err)
	}

	msgs, err := a.repos.Messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chathistory: list messages: %w", err)
	}
	rawToolCalls, err := a.repos.ToolCalls.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chathistory: list tool calls: %w", err)
	}
	rawFileEdits, err := a.repos.FileEdits.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chathistory: list file edits: %w", err)
	}
	rawReasoning, err := a.repos.Reasoning.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chathistory: list reasoning blocks: %w", err)
	}
	rawCheckpoints, err := a.repos.Checkpoints.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chathistory: list checkpoints: %w", err)
	}
	rawTodos, err := a.repos.Todos.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chathistory: list todos: %w", err)
	}

	var rawPlans []*store.ProjectPlan
	if a.repos.Plans != nil {
		rawPlans, err = a.repos.Plans.ListByChat(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("chathistory: list plans: %w", err)
		}
	}
	var rawSubAgentRuns []*store.SubAgentRun
	_ = rawSubAgentRuns // sub-agent runs are not loaded here, so History.SubAgentRuns is always empty

	h := &History{ChatID: chatID}

	for _, m := range msgs {
		h.Messages = append(h.Messages, Message{
			ID: m.ID, Role: string(m.Role), Content: m.Content,
			CreatedAt: m.CreatedAt.Format(timeLayout), CheckpointID: m.CheckpointID,
		})
	}

	cpFiles := map[uuid.UUID][]uuid.UUID{}
	cpTools := map[uuid.UUID][]uuid.UUID{}
	cpReasoning := map[uuid.UUID][]uuid.UUID{}
	for _, c := range rawCheckpoints {
		cpFiles[c.ID] = nil
		cpTools[c.ID] = nil
		cpReasoning[c.ID] = nil
	}

	for _, t := range rawToolCalls {
		cpTools[t.CheckpointID] = append(cpTools[t.CheckpointID], t.ID)
		var artifacts []Artifact
		if a.repos.Artifacts != nil {
			rows, err := listArtifactsForToolCall(ctx, a.repos, t.ID)
			if err == nil {
				for _, art := range rows {
					artifacts = append(artifacts, Artifact{
						Type: string(art.Kind), Path: art.Path,
						LineCount: art.LineCount, PreviewLines: art.PreviewLines,
					})
				}
			}
		}
		h.ToolCalls = append(h.ToolCalls, ToolCall{
			ID: t.ID, Name: t.ToolName, Status: string(t.Status), Input: t.Input,
			Output: t.OutputText, CreatedAt: t.CreatedAt.Format(timeLayout),
			DurationMillis: t.DurationMillis, ParallelGroupID: t.ParallelGroup,
			Artifacts: artifacts,
		})
	}

	for _, f := range rawFileEdits {
		cpFiles[f.CheckpointID] = append(cpFiles[f.CheckpointID], f.ID)
		h.FileEdits = append(h.FileEdits, FileEdit{
			ID: f.ID, FilePath: f.Path, Action: string(f.Action), Diff: f.Diff,
			CreatedAt: f.CreatedAt.Format(timeLayout), CheckpointID: f.CheckpointID,
		})
	}

	for _, r := range rawReasoning {
		cpReasoning[r.CheckpointID] = append(cpReasoning[r.CheckpointID], r.ID)
		h.ReasoningBlocks = append(h.ReasoningBlocks, ReasoningBlock{
			ID: r.ID, Content: r.Content, CreatedAt: r.CreatedAt.Format(timeLayout),
			DurationMillis: r.DurationMillis, CheckpointID: r.CheckpointID,
		})
	}

	for _, c := range rawCheckpoints {
		h.Checkpoints = append(h.Checkpoints, Checkpoint{
			ID: c.ID, MessageID: c.MessageID, Label: c.Label,
			CreatedAt: c.CreatedAt.Format(timeLayout),
			FileEdits: cpFiles[c.ID], ToolCalls: cpTools[c.ID], ReasoningBlocks: cpReasoning[c.ID],
		})
	}

	for _, t := range rawTodos {
		h.Todos = append(h.Todos, Todo{
			ID: t.ID, Content: t.Content, Status: string(t.Status),
			SortOrder: t.SortOrder, CreatedAt: t.CreatedAt.Format(timeLayout),
		})
	}

	for _, p := range rawPlans {
		var content *string
		if plans != nil {
			if c, err := plans.Read(p.ProjectID, p.ID); err == nil {
				content = &c
			}
		}
		h.Plans = append(h.Plans, ProjectPlan{
			ID: p.ID, ChatID: p.ChatID, ProjectID: p.ProjectID, CheckpointID: p.CheckpointID,
			Title: p.Title, Status: p.Status, FilePath: p.FilePath, Revision: p.Revision,
			ContentSHA256: p.ContentSHA256, LastEditor: p.LastEditor, ApprovedAction: p.ApprovedAction,
			ImplementationChatID: p.ImplementationChatID, Content: content,
		})
	}

	return h, nil
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func listArtifactsForToolCall(ctx context.Context, repos *store.Repos, toolCallID uuid.UUID) ([]*store.ToolArtifact, error) {
	lister, ok := repos.Artifacts.(interface {
		ListByToolCall(ctx context.Context, toolCallID uuid.UUID) ([]*store.ToolArtifact, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.ListByToolCall(ctx, toolCallID)
}
