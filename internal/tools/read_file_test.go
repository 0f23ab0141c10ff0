package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

func TestReadFileToolWholeFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("line1\nline2\nline3"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFileTool(pathresolver.New(root))

	result := tool.Execute(context.Background(), map[string]interface{}{"path": "a.txt"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if result.ForLLM != "line1\nline2\nline3" {
		t.Fatalf("got %q", result.ForLLM)
	}
}

func TestReadFileToolLineRange(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("line1\nline2\nline3"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewReadFileTool(pathresolver.New(root))

	result := tool.Execute(context.Background(), map[string]interface{}{
		"path":       "a.txt",
		"start_line": float64(2),
		"end_line":   float64(3),
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if result.ForLLM != "line2\nline3" {
		t.Fatalf("got %q", result.ForLLM)
	}
}

func TestReadFileToolMissingPath(t *testing.T) {
	tool := NewReadFileTool(pathresolver.New(t.TempDir()))
	result := tool.Execute(context.Background(), map[string]interface{}{})
	if !result.IsError {
		t.Fatal("expected error for missing path")
	}
}

func TestReadFileToolEscapeRejected(t *testing.T) {
	tool := NewReadFileTool(pathresolver.New(t.TempDir()))
	result := tool.Execute(context.Background(), map[string]interface{}{"path": "/etc/passwd"})
	if !result.IsError {
		t.Fatal("expected error for system path")
	}
}
