// Package revert implements RevertEngine (spec §4.12): filesystem rollback
// from FileSnapshots plus deletion of every Message/ToolCall/FileEdit/
// ReasoningBlock/Todo/Plan created after a checkpoint, with dangling
// Observation/MemoryState pruning so waterlines never point past the cut.
package revert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/memory"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// AgentCanceller is the subset of agentloop.Loop RevertEngine needs to stop
// an in-flight turn before mutating chat state (spec §4.12 "Both operations
// cancel the observational memory runner ... before touching state" plus
// the §5 cancellation rule that revert cancels the AgentLoop task too).
type AgentCanceller interface {
	Cancel(chatID uuid.UUID)
}

// Engine implements RevertEngine.
type Engine struct {
	repos     *store.Repos
	bus       *bus.Bus
	memRunner *memory.Runner
	agentLoop AgentCanceller
}

// New constructs an Engine. agentLoop may be nil (tests, and the revert CLI
// command, which has no live loop); no in-flight turn is cancelled then.
func New(repos *store.Repos, b *bus.Bus, memRunner *memory.Runner, agentLoop AgentCanceller) *Engine {
	return &Engine{repos: repos, bus: b, memRunner: memRunner, agentLoop: agentLoop}
}

// RevertToCheckpoint implements spec §4.12 revert_to_checkpoint: restores
// every file touched at or after the checkpoint's timestamp from its
// snapshot, deletes every entity created after it, prunes dangling
// Observations/MemoryState, and updates the chat's updated_at.
func (e *Engine) RevertToCheckpoint(ctx context.Context, chatID, checkpointID uuid.UUID) error {
	if e.agentLoop != nil {
		e.agentLoop.Cancel(chatID)
	}
	if e.memRunner != nil {
		e.memRunner.Cancel(chatID)
	}

	cp, err := e.repos.Checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return fmt.Errorf("revert: load checkpoint: %w", err)
	}
	if cp.ChatID != chatID {
		return fmt.Errorf("revert: checkpoint %s does not belong to chat %s", checkpointID, chatID)
	}

	edits, err := e.repos.FileEdits.ListFrom(ctx, chatID, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("revert: list file edits from checkpoint: %w", err)
	}
	// Walk newest-first so that, for a path edited more than once, the
	// earliest snapshot (the content as of the checkpoint) is written last.
	for i := len(edits) - 1; i >= 0; i-- {
		fe := edits[i]
		if err := e.restoreFileEdit(ctx, fe); err != nil {
			slog.Error("revert: restore file edit", "chat", chatID, "fileEdit", fe.ID, "path", fe.Path, "error", err)
			return fmt.Errorf("revert: restore %s: %w", fe.Path, err)
		}
	}

	if err := e.repos.Todos.DeleteAfter(ctx, chatID, cp.CreatedAt); err != nil {
		return fmt.Errorf("revert: delete todos: %w", err)
	}
	if err := e.repos.Reasoning.DeleteAfter(ctx, chatID, cp.CreatedAt); err != nil {
		return fmt.Errorf("revert: delete reasoning blocks: %w", err)
	}
	if err := e.repos.ToolCalls.DeleteAfter(ctx, chatID, cp.CreatedAt); err != nil {
		return fmt.Errorf("revert: delete tool calls: %w", err)
	}
	if err := e.repos.FileEdits.DeleteAfter(ctx, chatID, cp.CreatedAt); err != nil {
		return fmt.Errorf("revert: delete file edits: %w", err)
	}
	if e.repos.Plans != nil {
		if err := e.repos.Plans.DeleteAfter(ctx, chatID, cp.CreatedAt); err != nil {
			return fmt.Errorf("revert: delete plans: %w", err)
		}
	}
	if err := e.repos.Checkpoints.DeleteAfter(ctx, chatID, cp.CreatedAt); err != nil {
		return fmt.Errorf("revert: delete checkpoints: %w", err)
	}
	// Messages delete last: checkpoints, tool calls, and snapshots above are
	// scoped by timestamp, not message id, so nothing downstream needs the
	// soon-to-be-deleted rows to still exist.
	if err := e.repos.Messages.DeleteAfter(ctx, chatID, cp.CreatedAt); err != nil {
		return fmt.Errorf("revert: delete messages: %w", err)
	}

	if err := e.pruneMemory(ctx, chatID); err != nil {
		slog.Warn("revert: prune memory state", "chat", chatID, "error", err)
	}

	if err := e.repos.Chats.Touch(ctx, chatID, cp.CreatedAt); err != nil {
		slog.Warn("revert: touch chat", "chat", chatID, "error", err)
	}

	e.publish(chatID, bus.EventCheckpoint, map[string]interface{}{
		"checkpointId": checkpointID.String(),
		"action":       "reverted",
	})
	return nil
}

// RevertFile implements spec §4.12 revert_file: restores a single file from
// its snapshot and deletes the FileEdit row, leaving every other entity
// (messages, other edits, checkpoints) untouched.
func (e *Engine) RevertFile(ctx context.Context, chatID, fileEditID uuid.UUID) error {
	if e.agentLoop != nil {
		e.agentLoop.Cancel(chatID)
	}
	if e.memRunner != nil {
		e.memRunner.Cancel(chatID)
	}

	fe, err := e.repos.FileEdits.Get(ctx, fileEditID)
	if err != nil {
		return fmt.Errorf("revert: load file edit: %w", err)
	}
	if fe.ChatID != chatID {
		return fmt.Errorf("revert: file edit %s does not belong to chat %s", fileEditID, chatID)
	}
	if err := e.restoreFileEdit(ctx, fe); err != nil {
		return fmt.Errorf("revert: restore %s: %w", fe.Path, err)
	}
	if err := e.repos.FileEdits.Delete(ctx, fileEditID); err != nil {
		return fmt.Errorf("revert: delete file edit: %w", err)
	}
	e.publish(chatID, bus.EventFileEdit, map[string]interface{}{
		"fileEditId": fileEditID.String(),
		"path":       fe.Path,
		"action":     "reverted",
	})
	return nil
}

// restoreFileEdit writes fe's pre-edit snapshot content back to disk, or
// unlinks the file when the edit created it from nothing (spec §4.12).
func (e *Engine) restoreFileEdit(ctx context.Context, fe *store.FileEdit) error {
	if fe.SnapshotID == nil {
		// Nothing to restore from; this FileEdit predates snapshotting or
		// the snapshot was never linked. Leave the file as-is.
		return nil
	}
	snap, err := e.repos.FileSnapshots.Get(ctx, *fe.SnapshotID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap.Content == nil {
		// FileEdit.action == created: the pre-edit state was "does not
		// exist", so reverting it means removing the file.
		if err := os.Remove(fe.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove created file: %w", err)
		}
		return nil
	}
	return writeFileAtomic(fe.Path, *snap.Content)
}

// writeFileAtomic replaces path via write-to-tempfile + rename. The edit_file
// tool does not: it writes files in place with os.WriteFile.
func writeFileAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".revert-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// pruneMemory implements spec §4.12 "prune observations and memory state so
// their waterlines do not reference deleted messages": drop any Observation
// whose observed_up_to_message_id no longer exists, and trim MemoryState's
// buffered chunks and up-to pointer the same way.
func (e *Engine) pruneMemory(ctx context.Context, chatID uuid.UUID) error {
	if e.repos.Observations != nil {
		if err := e.repos.Observations.PruneDangling(ctx, chatID); err != nil {
			return fmt.Errorf("prune observations: %w", err)
		}
	}
	if e.repos.MemoryStates == nil {
		return nil
	}
	ms, err := e.repos.MemoryStates.Get(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load memory state: %w", err)
	}

	var kept []store.BufferedChunk
	for _, chunk := range ms.Blob.Chunks {
		exists, err := e.repos.Messages.Exists(ctx, chunk.UpToMessageID)
		if err != nil {
			return fmt.Errorf("check chunk message: %w", err)
		}
		if exists {
			kept = append(kept, chunk)
		}
	}
	ms.Blob.Chunks = kept
	if ms.Blob.UpToMessageID != nil {
		exists, err := e.repos.Messages.Exists(ctx, *ms.Blob.UpToMessageID)
		if err != nil {
			return fmt.Errorf("check up-to message: %w", err)
		}
		if !exists {
			if len(kept) > 0 {
				last := kept[len(kept)-1]
				ms.Blob.UpToMessageID = &last.UpToMessageID
				t := last.UpToTimestamp
				ms.Blob.UpToTimestamp = &t
			} else {
				ms.Blob.UpToMessageID = nil
				ms.Blob.UpToTimestamp = nil
				ms.Blob.LastBoundary = 0
			}
		}
	}
	return e.repos.MemoryStates.Upsert(ctx, ms)
}

func (e *Engine) publish(chatID uuid.UUID, eventType string, payload map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(chatID.String(), eventType, payload)
}
