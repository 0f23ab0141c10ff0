package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

// ListFilesTool lists directory entries under the project root, optionally
// recursing, while staying inside the path-resolver boundary for every
// candidate it visits.
type ListFilesTool struct {
	BaseTool
	resolver *pathresolver.Resolver
}

// NewListFilesTool constructs a ListFilesTool rooted at resolver.
func NewListFilesTool(resolver *pathresolver.Resolver) *ListFilesTool {
	return &ListFilesTool{resolver: resolver}
}

func (t *ListFilesTool) Name() string          { return "list_files" }
func (t *ListFilesTool) Description() string   { return "List files and directories under a path." }
func (t *ListFilesTool) RequiresApproval() bool { return false }

func (t *ListFilesTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list, relative to the project root; defaults to the root",
			},
			"recursive": map[string]interface{}{
				"type":        "boolean",
				"description": "Recurse into subdirectories",
			},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	recursive, _ := args["recursive"].(bool)

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to stat path: %v", err))
	}
	if !info.IsDir() {
		return ErrorResult(fmt.Sprintf("%s is not a directory", path))
	}

	var entries []string
	if recursive {
		err = filepath.WalkDir(resolved, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if p == resolved {
				return nil
			}
			if d.IsDir() && (d.Name() == ".git" || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			rel, _ := filepath.Rel(resolved, p)
			if d.IsDir() {
				rel += "/"
			}
			entries = append(entries, rel)
			return nil
		})
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to walk directory: %v", err))
		}
	} else {
		dirEntries, err := os.ReadDir(resolved)
		if err != nil {
			return ErrorResult(fmt.Sprintf("failed to read directory: %v", err))
		}
		for _, e := range dirEntries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			entries = append(entries, name)
		}
	}

	sort.Strings(entries)
	if len(entries) == 0 {
		return SilentResult("(empty directory)")
	}
	return SilentResult(strings.Join(entries, "\n"))
}
