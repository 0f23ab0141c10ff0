package tools

import "sync"

// groups tracks named sets of tool names, used by the MCP bridge (spec
// §4.13) to tag which tools came from which server so they can be bulk
// unregistered on disconnect/refresh without touching builtins.
var (
	groupsMu sync.Mutex
	groups   = map[string][]string{}
)

// RegisterToolGroup records toolNames under group, replacing any prior set.
func RegisterToolGroup(group string, toolNames []string) {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	cp := make([]string, len(toolNames))
	copy(cp, toolNames)
	groups[group] = cp
}

// UnregisterToolGroup forgets a group's tool-name set (it does not remove
// the tools from any Registry; callers do that themselves).
func UnregisterToolGroup(group string) {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	delete(groups, group)
}

// ToolGroup returns the tool names recorded under group.
func ToolGroup(group string) []string {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	out := make([]string, len(groups[group]))
	copy(out, groups[group])
	return out
}
