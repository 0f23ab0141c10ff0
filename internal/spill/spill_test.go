package spill

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

type fakeArtifacts struct {
	created []*store.ToolArtifact
}

func (f *fakeArtifacts) Create(_ context.Context, a *store.ToolArtifact) error {
	f.created = append(f.created, a)
	return nil
}
func (f *fakeArtifacts) ListByProject(_ context.Context, _ uuid.UUID) ([]*store.ToolArtifact, error) {
	return f.created, nil
}
func (f *fakeArtifacts) DeleteByProject(_ context.Context, _ uuid.UUID) error { return nil }
func (f *fakeArtifacts) DeleteByChat(_ context.Context, _ uuid.UUID) error    { return nil }

func TestShouldSpillThreshold(t *testing.T) {
	w := New(t.TempDir(), &fakeArtifacts{})
	short := "a short tool result"
	if w.ShouldSpill(short, "gpt-4") {
		t.Fatalf("short content should not spill")
	}
	long := strings.Repeat("line of output with some words in it\n", 2000)
	if !w.ShouldSpill(long, "gpt-4") {
		t.Fatalf("long content should spill")
	}
}

func TestSpillWritesFileAndArtifact(t *testing.T) {
	dir := t.TempDir()
	artifacts := &fakeArtifacts{}
	w := New(dir, artifacts)

	projectID := uuid.New()
	chatID := uuid.New()
	toolCallID := uuid.New()
	content := strings.Repeat("some line of tool output\n", 3000)

	replacement, artifact, err := w.Spill(context.Background(), projectID, chatID, toolCallID, "gpt-4", content)
	if err != nil {
		t.Fatalf("Spill: %v", err)
	}
	if !strings.Contains(replacement, "truncated") {
		t.Fatalf("expected replacement to mention truncation, got: %s", replacement)
	}
	if !strings.Contains(replacement, artifact.Path) {
		t.Fatalf("expected replacement to reference the artifact path")
	}
	if len(artifacts.created) != 1 {
		t.Fatalf("expected one artifact to be persisted, got %d", len(artifacts.created))
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("reading spilled file: %v", err)
	}
	if string(data) != content {
		t.Fatalf("spilled file content mismatch")
	}
	wantDir := filepath.Join(dir, "projects", projectID.String())
	if filepath.Dir(artifact.Path) != wantDir {
		t.Fatalf("artifact path %s not under expected dir %s", artifact.Path, wantDir)
	}
}

func TestSpillShortContentNotTruncatedInPreview(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, &fakeArtifacts{})
	content := "a handful of short lines\nline two\nline three\n"
	replacement, _, err := w.Spill(context.Background(), uuid.New(), uuid.New(), uuid.New(), "gpt-4", content)
	if err != nil {
		t.Fatalf("Spill: %v", err)
	}
	if !strings.Contains(replacement, content) {
		t.Fatalf("expected short content to appear in full in the preview")
	}
}

func TestWithThresholdOverride(t *testing.T) {
	w := New(t.TempDir(), &fakeArtifacts{}).WithThreshold(1)
	if !w.ShouldSpill("even a short string", "gpt-4") {
		t.Fatalf("expected a threshold of 1 token to spill almost anything")
	}
}
