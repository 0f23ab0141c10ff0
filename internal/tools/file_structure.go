package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	sittergo "github.com/smacker/go-tree-sitter/golang"
	sitterjs "github.com/smacker/go-tree-sitter/javascript"
	sitterpy "github.com/smacker/go-tree-sitter/python"
	sitterts "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

// Declaration is one top-level declaration extracted from a source file,
// with its 1-indexed line range.
type Declaration struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// declarationNodeTypes maps a tree-sitter grammar's top-level node types to
// a human-readable declaration kind, per language.
var declarationNodeTypes = map[string]map[string]string{
	"go": {
		"function_declaration": "function",
		"method_declaration":   "method",
		"type_declaration":     "type",
	},
	"python": {
		"function_definition": "function",
		"class_definition":    "class",
	},
	"javascript": {
		"function_declaration": "function",
		"class_declaration":    "class",
	},
	"typescript": {
		"function_declaration": "function",
		"class_declaration":    "class",
		"interface_declaration": "interface",
	},
}

func languageForExt(ext string) (sitter.Language, string, bool) {
	switch ext {
	case ".go":
		return sittergo.GetLanguage(), "go", true
	case ".py":
		return sitterpy.GetLanguage(), "python", true
	case ".js", ".jsx", ".mjs":
		return sitterjs.GetLanguage(), "javascript", true
	case ".ts", ".tsx":
		return sitterts.GetLanguage(), "typescript", true
	default:
		return nil, "", false
	}
}

// GetFileStructureTool extracts top-level declarations and their line
// ranges from a source file, using tree-sitter grammars for supported
// languages and a line-heuristic fallback otherwise.
type GetFileStructureTool struct {
	BaseTool
	resolver *pathresolver.Resolver
}

// NewGetFileStructureTool constructs a GetFileStructureTool rooted at resolver.
func NewGetFileStructureTool(resolver *pathresolver.Resolver) *GetFileStructureTool {
	return &GetFileStructureTool{resolver: resolver}
}

func (t *GetFileStructureTool) Name() string        { return "get_file_structure" }
func (t *GetFileStructureTool) Description() string { return "List top-level declarations (functions, types, classes) in a source file with their line ranges." }
func (t *GetFileStructureTool) RequiresApproval() bool { return false }

func (t *GetFileStructureTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the source file, relative to the project root",
			},
		},
		"required": []string{"path"},
	}
}

func (t *GetFileStructureTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
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

	ext := filepath.Ext(resolved)
	lang, langName, ok := languageForExt(ext)
	var decls []Declaration
	if ok {
		decls, err = parseDeclarations(ctx, data, lang, langName)
		if err != nil {
			return ErrorResult(fmt.Sprintf("parse failed: %v", err))
		}
	} else {
		decls = heuristicDeclarations(data)
	}

	if len(decls) == 0 {
		return SilentResult("(no top-level declarations found)")
	}

	var sb strings.Builder
	for _, d := range decls {
		fmt.Fprintf(&sb, "%s %s (lines %d-%d)\n", d.Kind, d.Name, d.StartLine, d.EndLine)
	}
	return SilentResult(sb.String())
}

func parseDeclarations(ctx context.Context, data []byte, lang sitter.Language, langName string) ([]Declaration, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, data)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	kinds := declarationNodeTypes[langName]
	var decls []Declaration
	root := tree.RootNode()
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		kind, ok := kinds[child.Type()]
		if !ok {
			continue
		}
		decls = append(decls, Declaration{
			Kind:      kind,
			Name:      declarationName(child, data),
			StartLine: int(child.StartPoint().Row) + 1,
			EndLine:   int(child.EndPoint().Row) + 1,
		})
	}
	return decls, nil
}

func declarationName(node *sitter.Node, src []byte) string {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return "(anonymous)"
	}
	return nameNode.Content(src)
}

// heuristicDeclarations is the fallback for languages without a wired
// tree-sitter grammar: it treats any line starting at column 0 with a
// recognizable keyword as a top-level declaration boundary.
func heuristicDeclarations(data []byte) []Declaration {
	keywords := []string{"func ", "function ", "class ", "def ", "type ", "struct ", "interface "}
	lines := strings.Split(string(data), "\n")
	var decls []Declaration
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed != line {
			continue // only top-level (unindented) lines
		}
		for _, kw := range keywords {
			if strings.HasPrefix(trimmed, kw) {
				name := strings.Fields(strings.TrimPrefix(trimmed, kw))
				decl := Declaration{Kind: strings.TrimSpace(kw), StartLine: i + 1, EndLine: i + 1}
				if len(name) > 0 {
					decl.Name = strings.TrimRight(name[0], "({:")
				}
				decls = append(decls, decl)
				break
			}
		}
	}
	return decls
}
