package tools

import (
	"path/filepath"
	"regexp"
	"strings"
)

// AutoApproveRule is a single rule in a project's auto-approve list. A rule
// matches a tool call when every non-empty field matches; Path, Extension
// and Directory test the call's "path" argument.
type AutoApproveRule struct {
	Tool      string `json:"tool,omitempty"`      // exact tool name, empty = any tool
	Path      string `json:"path,omitempty"`       // glob against a "path" argument
	Extension string `json:"extension,omitempty"`  // file extension, with or without leading dot
	Directory string `json:"directory,omitempty"`  // path prefix a "path" argument must fall under
	Pattern   string `json:"pattern,omitempty"`     // regex matched against the "path" argument, else the command/query/content argument
}

// MatchesAutoApproveRules reports whether any rule in rules matches a call
// to tool with the given arguments, ported from the original auto-approve
// matcher (tool/path/extension/directory/pattern rule fields).
func MatchesAutoApproveRules(rules []AutoApproveRule, tool string, args map[string]interface{}) bool {
	for _, rule := range rules {
		if ruleMatches(rule, tool, args) {
			return true
		}
	}
	return false
}

func ruleMatches(rule AutoApproveRule, tool string, args map[string]interface{}) bool {
	if rule.Tool != "" && rule.Tool != tool {
		return false
	}

	path, _ := argString(args, "path")

	if rule.Path != "" {
		if path == "" {
			return false
		}
		ok, err := filepath.Match(rule.Path, path)
		if err != nil || !ok {
			return false
		}
	}

	if rule.Extension != "" {
		if path == "" {
			return false
		}
		want := rule.Extension
		if !strings.HasPrefix(want, ".") {
			want = "." + want
		}
		if filepath.Ext(path) != want {
			return false
		}
	}

	if rule.Directory != "" {
		if path == "" {
			return false
		}
		dir := filepath.Clean(rule.Directory)
		cleanedPath := filepath.Clean(path)
		if cleanedPath != dir && !strings.HasPrefix(cleanedPath, dir+string(filepath.Separator)) {
			return false
		}
	}

	if rule.Pattern != "" {
		target := firstNonEmpty(path, argFallback(args))
		re, err := regexp.Compile(rule.Pattern)
		if err != nil || !re.MatchString(target) {
			return false
		}
	}

	return true
}

func argString(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

// argFallback picks a reasonable string to match Pattern rules against when
// the call has no "path" argument — the command for execute_command, the
// query for a search tool, etc.
func argFallback(args map[string]interface{}) string {
	for _, key := range []string{"command", "query", "content"} {
		if v, ok := args[key].(string); ok {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
