package tools

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

// GrepTool searches file contents under the project root for a regex match,
// returning "path:line: text" hits the way command-line grep does.
type GrepTool struct {
	BaseTool
	resolver *pathresolver.Resolver
	maxHits  int
}

// NewGrepTool constructs a GrepTool rooted at resolver with a sane result cap.
func NewGrepTool(resolver *pathresolver.Resolver) *GrepTool {
	return &GrepTool{resolver: resolver, maxHits: 300}
}

func (t *GrepTool) Name() string          { return "grep" }
func (t *GrepTool) Description() string   { return "Search file contents under a path for a regular expression." }
func (t *GrepTool) RequiresApproval() bool { return false }

func (t *GrepTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory or file to search, relative to the project root; defaults to the root",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "Optional filename glob filter, e.g. '*.go'",
			},
		},
		"required": []string{"pattern"},
	}
}

func (t *GrepTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	pattern, _ := args["pattern"].(string)
	if pattern == "" {
		return ErrorResult("pattern is required")
	}
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	glob, _ := args["glob"].(string)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid pattern: %v", err))
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return ErrorResult(err.Error())
	}

	var hits []string
	walkErr := filepath.WalkDir(resolved, func(p string, d os.DirEntry, err error) error {
		if err != nil || len(hits) >= t.maxHits {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if glob != "" {
			if ok, _ := filepath.Match(glob, d.Name()); !ok {
				return nil
			}
		}
		if isLikelyBinary(p) {
			return nil
		}

		rel, _ := filepath.Rel(resolved, p)
		f, openErr := os.Open(p)
		if openErr != nil {
			return nil
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() && len(hits) < t.maxHits {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				hits = append(hits, fmt.Sprintf("%s:%d: %s", rel, lineNum, strings.TrimSpace(line)))
			}
		}
		return nil
	})
	if walkErr != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", walkErr))
	}

	if len(hits) == 0 {
		return SilentResult("(no matches)")
	}
	return SilentResult(strings.Join(hits, "\n"))
}

func isLikelyBinary(path string) bool {
	switch filepath.Ext(path) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".ico", ".pdf", ".zip", ".gz",
		".tar", ".so", ".dylib", ".dll", ".exe", ".bin", ".woff", ".woff2":
		return true
	}
	return false
}
