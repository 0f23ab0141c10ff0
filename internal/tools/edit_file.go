package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

// EditFileTool performs a find-and-replace edit on a file (creating it if it
// doesn't exist and old_text is empty), recording a unified diff via
// sergi/go-diff so the caller can persist a FileEdit row (spec §3).
type EditFileTool struct {
	BaseTool
	resolver *pathresolver.Resolver
}

// NewEditFileTool constructs an EditFileTool rooted at resolver.
func NewEditFileTool(resolver *pathresolver.Resolver) *EditFileTool {
	return &EditFileTool{resolver: resolver}
}

func (t *EditFileTool) Name() string        { return "edit_file" }
func (t *EditFileTool) Description() string { return "Replace an exact text match in a file, or create a new file." }

func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to edit, relative to the project root",
			},
			"old_text": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace; empty string creates a new file with new_text as its contents",
			},
			"new_text": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	existing, readErr := os.ReadFile(resolved)
	switch {
	case readErr != nil && !os.IsNotExist(readErr):
		return ErrorResult(fmt.Sprintf("failed to read file: %v", readErr))

	case os.IsNotExist(readErr):
		if oldText != "" {
			return ErrorResult(fmt.Sprintf("file does not exist: %s", path))
		}
		if err := os.WriteFile(resolved, []byte(newText), 0o644); err != nil {
			return ErrorResult(fmt.Sprintf("failed to create file: %v", err))
		}
		return SilentResult(fmt.Sprintf("created %s", path)).WithEdits(FileEditRecord{
			Path:       path,
			ChangeType: "create",
			Diff:       unifiedDiff("", newText),
			NewContent: newText,
		})

	default:
		oldContent := string(existing)
		if !strings.Contains(oldContent, oldText) {
			return ErrorResult(fmt.Sprintf("old_text not found in %s", path))
		}
		updated := strings.Replace(oldContent, oldText, newText, 1)
		if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
			return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
		}
		return SilentResult(fmt.Sprintf("edited %s", path)).WithEdits(FileEditRecord{
			Path:       path,
			ChangeType: "modify",
			Diff:       unifiedDiff(oldContent, updated),
			OldContent: oldContent,
			NewContent: updated,
		})
	}
}

// unifiedDiff renders a line-level unified diff between old and new content
// using go-diff's Myers-diff implementation.
func unifiedDiff(oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n") {
			sb.WriteString(prefix)
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
