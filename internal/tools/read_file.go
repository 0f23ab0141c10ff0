package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

// ReadFileTool reads file contents relative to a project's workspace root,
// grounded on the teacher's ReadFileTool but simplified to drop the
// goclaw-specific sandbox/virtual-fs routing this spec has no equivalent for.
type ReadFileTool struct {
	BaseTool
	resolver *pathresolver.Resolver
}

// NewReadFileTool constructs a ReadFileTool rooted at resolver.
func NewReadFileTool(resolver *pathresolver.Resolver) *ReadFileTool {
	return &ReadFileTool{resolver: resolver}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file, optionally a specific line range." }
func (t *ReadFileTool) RequiresApproval() bool { return false }

func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read, relative to the project root",
			},
			"start_line": map[string]interface{}{
				"type":        "integer",
				"description": "1-indexed first line to include (optional)",
			},
			"end_line": map[string]interface{}{
				"type":        "integer",
				"description": "1-indexed last line to include, inclusive (optional)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	start, hasStart := argInt(args, "start_line")
	end, hasEnd := argInt(args, "end_line")
	if !hasStart && !hasEnd {
		return SilentResult(string(data))
	}

	lines := strings.Split(string(data), "\n")
	if !hasStart {
		start = 1
	}
	if !hasEnd {
		end = len(lines)
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return SilentResult("")
	}
	return SilentResult(strings.Join(lines[start-1:end], "\n"))
}

func argInt(args map[string]interface{}, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
