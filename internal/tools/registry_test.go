package tools

import (
	"context"
	"testing"
)

type stubTool struct {
	BaseTool
	name string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object"}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	return SilentResult("ok")
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "alpha"})

	tool, ok := r.Get("alpha")
	if !ok {
		t.Fatal("expected alpha to be registered")
	}
	if tool.Name() != "alpha" {
		t.Fatalf("got %s", tool.Name())
	}
}

func TestRegistryListIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "zeta"})
	r.Register(&stubTool{name: "alpha"})
	r.Register(&stubTool{name: "mike"})

	got := r.List()
	want := []string{"alpha", "mike", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRegistryExecuteNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil)
	if err != ErrToolNotFound {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "alpha"})
	r.Unregister("alpha")
	if _, ok := r.Get("alpha"); ok {
		t.Fatal("expected alpha to be gone after unregister")
	}
}

func TestMatchesAutoApproveRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []AutoApproveRule
		tool  string
		args  map[string]interface{}
		want  bool
	}{
		{
			name:  "matches by tool name",
			rules: []AutoApproveRule{{Tool: "read_file"}},
			tool:  "read_file",
			args:  map[string]interface{}{"path": "x.go"},
			want:  true,
		},
		{
			name:  "no match on different tool",
			rules: []AutoApproveRule{{Tool: "read_file"}},
			tool:  "edit_file",
			args:  map[string]interface{}{"path": "x.go"},
			want:  false,
		},
		{
			name:  "matches by extension",
			rules: []AutoApproveRule{{Extension: ".md"}},
			tool:  "edit_file",
			args:  map[string]interface{}{"path": "README.md"},
			want:  true,
		},
		{
			name:  "matches by directory",
			rules: []AutoApproveRule{{Directory: "docs"}},
			tool:  "edit_file",
			args:  map[string]interface{}{"path": "docs/readme.md"},
			want:  true,
		},
		{
			name:  "directory mismatch",
			rules: []AutoApproveRule{{Directory: "docs"}},
			tool:  "edit_file",
			args:  map[string]interface{}{"path": "src/main.go"},
			want:  false,
		},
		{
			name:  "matches by pattern against command",
			rules: []AutoApproveRule{{Tool: "execute_command", Pattern: `^git status`}},
			tool:  "execute_command",
			args:  map[string]interface{}{"command": "git status"},
			want:  true,
		},
		{
			name:  "no rules never matches",
			rules: nil,
			tool:  "read_file",
			args:  map[string]interface{}{"path": "x.go"},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchesAutoApproveRules(tt.rules, tt.tool, tt.args)
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
