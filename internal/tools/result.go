package tools

import "github.com/nextlevelbuilder/codeloom/internal/providers"

// Result is the unified return value from executing a tool (spec §4.3).
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent back to the LLM
	ForUser string `json:"for_user,omitempty"` // content surfaced to the user, if different
	Silent  bool   `json:"silent"`             // suppress a separate user-facing message
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"`

	// Usage is set by tools that make their own provider call internally
	// (e.g. spawn_sub_agent), so the caller can fold it into turn accounting.
	Usage *providers.Usage `json:"-"`

	// Edits lists any FileEdit records produced by this call, in order, so
	// the executor can persist them and publish one file_edit event each.
	Edits []FileEditRecord `json:"-"`
}

// FileEditRecord is a single file mutation produced by a tool call, ready to
// be persisted as a FileEdit row (spec §3).
type FileEditRecord struct {
	Path       string
	ChangeType string // "create", "modify", "delete"
	Diff       string
	OldContent string
	NewContent string
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

func (r *Result) WithEdits(edits ...FileEditRecord) *Result {
	r.Edits = append(r.Edits, edits...)
	return r
}
