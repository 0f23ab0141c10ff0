package revert

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// fakeRepos is a minimal in-memory store.Repos stand-in covering exactly the
// repo methods RevertEngine calls, mirroring internal/spill's fakeArtifacts
// pattern rather than standing up a real Postgres connection.

type fakeFileEdits struct {
	edits []*store.FileEdit
}

func (f *fakeFileEdits) Create(_ context.Context, fe *store.FileEdit) error {
	f.edits = append(f.edits, fe)
	return nil
}
func (f *fakeFileEdits) Get(_ context.Context, id uuid.UUID) (*store.FileEdit, error) {
	for _, fe := range f.edits {
		if fe.ID == id {
			return fe, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *fakeFileEdits) ListByChat(_ context.Context, chatID uuid.UUID) ([]*store.FileEdit, error) {
	var out []*store.FileEdit
	for _, fe := range f.edits {
		if fe.ChatID == chatID {
			out = append(out, fe)
		}
	}
	return out, nil
}
func (f *fakeFileEdits) ListFrom(_ context.Context, chatID uuid.UUID, at time.Time) ([]*store.FileEdit, error) {
	var out []*store.FileEdit
	for _, fe := range f.edits {
		if fe.ChatID == chatID && !fe.CreatedAt.Before(at) {
			out = append(out, fe)
		}
	}
	return out, nil
}
func (f *fakeFileEdits) DeleteAfter(_ context.Context, chatID uuid.UUID, after time.Time) error {
	var kept []*store.FileEdit
	for _, fe := range f.edits {
		if fe.ChatID == chatID && fe.CreatedAt.After(after) {
			continue
		}
		kept = append(kept, fe)
	}
	f.edits = kept
	return nil
}
func (f *fakeFileEdits) Delete(_ context.Context, id uuid.UUID) error {
	var kept []*store.FileEdit
	for _, fe := range f.edits {
		if fe.ID != id {
			kept = append(kept, fe)
		}
	}
	f.edits = kept
	return nil
}

type fakeSnapshots struct {
	snaps map[uuid.UUID]*store.FileSnapshot
}

func (f *fakeSnapshots) Create(_ context.Context, s *store.FileSnapshot) error {
	f.snaps[s.ID] = s
	return nil
}
func (f *fakeSnapshots) Get(_ context.Context, id uuid.UUID) (*store.FileSnapshot, error) {
	if s, ok := f.snaps[id]; ok {
		return s, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeSnapshots) GetByFileEdit(_ context.Context, fileEditID uuid.UUID) (*store.FileSnapshot, error) {
	for _, s := range f.snaps {
		if s.FileEditID != nil && *s.FileEditID == fileEditID {
			return s, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeMessages struct {
	msgs []*store.Message
}

func (f *fakeMessages) Create(_ context.Context, m *store.Message) error {
	f.msgs = append(f.msgs, m)
	return nil
}
func (f *fakeMessages) Get(_ context.Context, id uuid.UUID) (*store.Message, error) {
	for _, m := range f.msgs {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *fakeMessages) ListByChat(_ context.Context, chatID uuid.UUID) ([]*store.Message, error) {
	var out []*store.Message
	for _, m := range f.msgs {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeMessages) ListAfter(_ context.Context, chatID uuid.UUID, afterID *uuid.UUID) ([]*store.Message, error) {
	return f.ListByChat(context.Background(), chatID)
}
func (f *fakeMessages) Rewrite(_ context.Context, id uuid.UUID, content string) error {
	for _, m := range f.msgs {
		if m.ID == id {
			m.Content = content
		}
	}
	return nil
}
func (f *fakeMessages) DeleteAfter(_ context.Context, chatID uuid.UUID, after time.Time) error {
	var kept []*store.Message
	for _, m := range f.msgs {
		if m.ChatID == chatID && m.CreatedAt.After(after) {
			continue
		}
		kept = append(kept, m)
	}
	f.msgs = kept
	return nil
}
func (f *fakeMessages) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	for _, m := range f.msgs {
		if m.ID == id {
			return true, nil
		}
	}
	return false, nil
}

type fakeSimpleRepo struct{}

func (fakeSimpleRepo) DeleteAfter(_ context.Context, _ uuid.UUID, _ time.Time) error { return nil }

type fakeTodos struct{ fakeSimpleRepo }

func (fakeTodos) ReplaceAll(_ context.Context, _ uuid.UUID, _ *uuid.UUID, _ []*store.Todo) error {
	return nil
}
func (fakeTodos) ListByChat(_ context.Context, _ uuid.UUID) ([]*store.Todo, error) { return nil, nil }

type fakeReasoning struct{ fakeSimpleRepo }

func (fakeReasoning) Create(_ context.Context, _ *store.ReasoningBlock) error { return nil }
func (fakeReasoning) ListByChat(_ context.Context, _ uuid.UUID) ([]*store.ReasoningBlock, error) {
	return nil, nil
}

type fakeToolCalls struct{ fakeSimpleRepo }

func (fakeToolCalls) Create(_ context.Context, _ *store.ToolCall) error           { return nil }
func (fakeToolCalls) CreateBatch(_ context.Context, _ []*store.ToolCall) error    { return nil }
func (fakeToolCalls) Get(_ context.Context, _ uuid.UUID) (*store.ToolCall, error) { return nil, store.ErrNotFound }
func (fakeToolCalls) UpdateStatus(_ context.Context, _ uuid.UUID, _ store.ToolCallStatus, _, _ string) error {
	return nil
}
func (fakeToolCalls) ListByChat(_ context.Context, _ uuid.UUID) ([]*store.ToolCall, error) {
	return nil, nil
}
func (fakeToolCalls) ListByCheckpoint(_ context.Context, _ uuid.UUID) ([]*store.ToolCall, error) {
	return nil, nil
}

type fakeCheckpoints struct {
	cps map[uuid.UUID]*store.Checkpoint
}

func (f *fakeCheckpoints) Create(_ context.Context, c *store.Checkpoint) error {
	f.cps[c.ID] = c
	return nil
}
func (f *fakeCheckpoints) Get(_ context.Context, id uuid.UUID) (*store.Checkpoint, error) {
	if c, ok := f.cps[id]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}
func (f *fakeCheckpoints) GetByMessage(_ context.Context, messageID uuid.UUID) (*store.Checkpoint, error) {
	for _, c := range f.cps {
		if c.MessageID == messageID {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}
func (f *fakeCheckpoints) ListByChat(_ context.Context, chatID uuid.UUID) ([]*store.Checkpoint, error) {
	var out []*store.Checkpoint
	for _, c := range f.cps {
		if c.ChatID == chatID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (f *fakeCheckpoints) DeleteAfter(_ context.Context, chatID uuid.UUID, after time.Time) error {
	for id, c := range f.cps {
		if c.ChatID == chatID && c.CreatedAt.After(after) {
			delete(f.cps, id)
		}
	}
	return nil
}

type fakeChats struct{}

func (fakeChats) Create(_ context.Context, _ *store.Chat) error                  { return nil }
func (fakeChats) Get(_ context.Context, _ uuid.UUID) (*store.Chat, error)        { return nil, store.ErrNotFound }
func (fakeChats) ListByProject(_ context.Context, _ uuid.UUID) ([]*store.Chat, error) {
	return nil, nil
}
func (fakeChats) Update(_ context.Context, _ *store.Chat) error              { return nil }
func (fakeChats) Touch(_ context.Context, _ uuid.UUID, _ time.Time) error    { return nil }
func (fakeChats) Delete(_ context.Context, _ uuid.UUID) error                { return nil }

func newTestRepos() (*store.Repos, *fakeFileEdits, *fakeSnapshots, *fakeMessages, *fakeCheckpoints) {
	fe := &fakeFileEdits{}
	snaps := &fakeSnapshots{snaps: map[uuid.UUID]*store.FileSnapshot{}}
	msgs := &fakeMessages{}
	cps := &fakeCheckpoints{cps: map[uuid.UUID]*store.Checkpoint{}}
	repos := &store.Repos{
		Chats:         fakeChats{},
		Messages:      msgs,
		Checkpoints:   cps,
		ToolCalls:     fakeToolCalls{},
		FileEdits:     fe,
		FileSnapshots: snaps,
		Reasoning:     fakeReasoning{},
		Todos:         fakeTodos{},
	}
	return repos, fe, snaps, msgs, cps
}

func TestRevertToCheckpointRestoresFileAndDeletesLaterState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main // modified"), 0o644); err != nil {
		t.Fatal(err)
	}

	repos, fe, snaps, msgs, cps := newTestRepos()
	chatID := uuid.New()
	cpTime := time.Now().UTC().Add(-time.Hour)

	userMsg := &store.Message{ID: uuid.New(), ChatID: chatID, Role: store.RoleUser, CreatedAt: cpTime}
	msgs.msgs = append(msgs.msgs, userMsg)
	cp := &store.Checkpoint{ID: uuid.New(), ChatID: chatID, MessageID: userMsg.ID, CreatedAt: cpTime}
	cps.cps[cp.ID] = cp

	original := "package main // original"
	snap := &store.FileSnapshot{ID: uuid.New(), ChatID: chatID, Path: path, Content: &original}
	snaps.snaps[snap.ID] = snap

	afterMsg := &store.Message{ID: uuid.New(), ChatID: chatID, Role: store.RoleAssistant, CreatedAt: cpTime.Add(time.Minute)}
	msgs.msgs = append(msgs.msgs, afterMsg)

	fileEdit := &store.FileEdit{
		ID: uuid.New(), ChatID: chatID, CheckpointID: cp.ID, Path: path,
		Action: store.FileEditModified, SnapshotID: &snap.ID, CreatedAt: cpTime.Add(time.Minute),
	}
	fe.edits = append(fe.edits, fileEdit)

	eng := New(repos, nil, nil, nil)
	if err := eng.RevertToCheckpoint(context.Background(), chatID, cp.ID); err != nil {
		t.Fatalf("RevertToCheckpoint: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != original {
		t.Fatalf("expected file restored to %q, got %q", original, got)
	}

	remaining, _ := msgs.ListByChat(context.Background(), chatID)
	if len(remaining) != 1 || remaining[0].ID != userMsg.ID {
		t.Fatalf("expected only the checkpoint's own message to remain, got %v", remaining)
	}
	if len(fe.edits) != 0 {
		t.Fatalf("expected file edit deleted, got %d remaining", len(fe.edits))
	}
}

func TestRevertToCheckpointRemovesCreatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.go")
	if err := os.WriteFile(path, []byte("package main"), 0o644); err != nil {
		t.Fatal(err)
	}

	repos, fe, snaps, msgs, cps := newTestRepos()
	chatID := uuid.New()
	cpTime := time.Now().UTC().Add(-time.Hour)

	userMsg := &store.Message{ID: uuid.New(), ChatID: chatID, Role: store.RoleUser, CreatedAt: cpTime}
	msgs.msgs = append(msgs.msgs, userMsg)
	cp := &store.Checkpoint{ID: uuid.New(), ChatID: chatID, MessageID: userMsg.ID, CreatedAt: cpTime}
	cps.cps[cp.ID] = cp

	snap := &store.FileSnapshot{ID: uuid.New(), ChatID: chatID, Path: path, Content: nil}
	snaps.snaps[snap.ID] = snap

	fileEdit := &store.FileEdit{
		ID: uuid.New(), ChatID: chatID, CheckpointID: cp.ID, Path: path,
		Action: store.FileEditCreated, SnapshotID: &snap.ID, CreatedAt: cpTime.Add(time.Minute),
	}
	fe.edits = append(fe.edits, fileEdit)

	eng := New(repos, nil, nil, nil)
	if err := eng.RevertToCheckpoint(context.Background(), chatID, cp.ID); err != nil {
		t.Fatalf("RevertToCheckpoint: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected created file to be removed, stat err: %v", err)
	}
}

func TestRevertFileOnlyTouchesOneEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	os.WriteFile(path, []byte("modified"), 0o644)

	repos, fe, snaps, _, _ := newTestRepos()
	chatID := uuid.New()
	original := "original"
	snap := &store.FileSnapshot{ID: uuid.New(), ChatID: chatID, Path: path, Content: &original}
	snaps.snaps[snap.ID] = snap
	edit := &store.FileEdit{ID: uuid.New(), ChatID: chatID, Path: path, SnapshotID: &snap.ID, CreatedAt: time.Now()}
	fe.edits = append(fe.edits, edit)

	eng := New(repos, nil, nil, nil)
	if err := eng.RevertFile(context.Background(), chatID, edit.ID); err != nil {
		t.Fatalf("RevertFile: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != original {
		t.Fatalf("expected restored content %q, got %q", original, got)
	}
	if len(fe.edits) != 0 {
		t.Fatalf("expected edit removed")
	}
}
