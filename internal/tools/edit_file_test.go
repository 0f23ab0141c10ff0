package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

func TestEditFileToolCreatesNewFile(t *testing.T) {
	root := t.TempDir()
	tool := NewEditFileTool(pathresolver.New(root))

	result := tool.Execute(context.Background(), map[string]interface{}{
		"path":     "new.txt",
		"new_text": "hello world",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	data, err := os.ReadFile(filepath.Join(root, "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q", data)
	}
	if len(result.Edits) != 1 || result.Edits[0].ChangeType != "create" {
		t.Fatalf("expected one create edit record, got %+v", result.Edits)
	}
}

func TestEditFileToolReplacesText(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo bar baz"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewEditFileTool(pathresolver.New(root))

	result := tool.Execute(context.Background(), map[string]interface{}{
		"path":     "a.txt",
		"old_text": "bar",
		"new_text": "qux",
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "foo qux baz" {
		t.Fatalf("got %q", data)
	}
	if len(result.Edits) != 1 || result.Edits[0].ChangeType != "modify" {
		t.Fatalf("expected one modify edit record, got %+v", result.Edits)
	}
}

func TestEditFileToolOldTextNotFound(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("foo bar"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewEditFileTool(pathresolver.New(root))

	result := tool.Execute(context.Background(), map[string]interface{}{
		"path":     "a.txt",
		"old_text": "nope",
		"new_text": "qux",
	})
	if !result.IsError {
		t.Fatal("expected error when old_text is not found")
	}
}

func TestEditFileToolExistingOldTextRequiredForNonexistentFile(t *testing.T) {
	root := t.TempDir()
	tool := NewEditFileTool(pathresolver.New(root))

	result := tool.Execute(context.Background(), map[string]interface{}{
		"path":     "missing.txt",
		"old_text": "foo",
		"new_text": "bar",
	})
	if !result.IsError {
		t.Fatal("expected error for old_text against nonexistent file")
	}
}
