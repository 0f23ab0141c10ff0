package tools

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"
)

func TestExecuteCommandToolRunsInWorkspace(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	root := t.TempDir()
	tool := NewExecuteCommandTool(root)

	result := tool.Execute(context.Background(), map[string]interface{}{"command": "pwd"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, root) {
		t.Fatalf("expected output to contain workspace %q, got %q", root, result.ForLLM)
	}
}

func TestExecuteCommandToolDeniesDestructivePattern(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tool := NewExecuteCommandTool(t.TempDir())

	result := tool.Execute(context.Background(), map[string]interface{}{"command": "rm -rf /"})
	if !result.IsError {
		t.Fatalf("expected denial, got success: %s", result.ForLLM)
	}
}

func TestExecuteCommandToolOutputAtCapIsNotTruncated(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tool := NewExecuteCommandTool(t.TempDir())

	cmd := fmt.Sprintf("head -c %d /dev/zero | tr '\\0' 'A'", maxOutputBytes)
	result := tool.Execute(context.Background(), map[string]interface{}{"command": cmd})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if len(result.ForLLM) != maxOutputBytes {
		t.Fatalf("expected exactly %d bytes, got %d", maxOutputBytes, len(result.ForLLM))
	}
}

func TestExecuteCommandToolOutputOverCapIsTruncated(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	tool := NewExecuteCommandTool(t.TempDir())

	cmd := fmt.Sprintf("head -c %d /dev/zero | tr '\\0' 'A'", maxOutputBytes+1)
	result := tool.Execute(context.Background(), map[string]interface{}{"command": cmd})
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.ForLLM)
	}
	if len(result.ForLLM) != maxOutputBytes {
		t.Fatalf("expected output capped at %d bytes, got %d", maxOutputBytes, len(result.ForLLM))
	}
}
