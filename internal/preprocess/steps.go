package preprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/tokencount"
)

// systemPromptStep prepends pc.DefaultSystemPrompt as the first message if
// one isn't already present (spec §4.5 priority 10).
type systemPromptStep struct{}

func SystemPromptStep() Preprocessor { return systemPromptStep{} }

func (systemPromptStep) Name() string  { return "system_prompt" }
func (systemPromptStep) Priority() int { return PrioritySystemPrompt }

func (systemPromptStep) Process(_ context.Context, pc *Context) error {
	if pc.DefaultSystemPrompt == "" {
		return nil
	}
	if len(pc.Messages) > 0 && pc.Messages[0].Role == string(store.RoleSystem) {
		return nil
	}
	sys := providers.Message{Role: string(store.RoleSystem), Content: pc.DefaultSystemPrompt}
	pc.Messages = append([]providers.Message{sys}, pc.Messages...)
	return nil
}

// todoReminderStep appends a system message summarizing the chat's open
// todos right before the final user turn, so the model is reminded of
// outstanding work without the caller baking it into the prompt itself
// (spec §4.5 priority 12).
type todoReminderStep struct{}

func TodoReminderStep() Preprocessor { return todoReminderStep{} }

func (todoReminderStep) Name() string  { return "todo_reminder" }
func (todoReminderStep) Priority() int { return PriorityTodoReminder }

func (s todoReminderStep) Process(ctx context.Context, pc *Context) error {
	if pc.Repos == nil || pc.Repos.Todos == nil {
		return nil
	}
	todos, err := pc.Repos.Todos.ListByChat(ctx, pc.ChatID)
	if err != nil {
		return fmt.Errorf("todo_reminder: list todos: %w", err)
	}
	var open []*store.Todo
	for _, t := range todos {
		if t.Status != store.TodoCompleted {
			open = append(open, t)
		}
	}
	if len(open) == 0 {
		return nil
	}
	sort.Slice(open, func(i, j int) bool { return open[i].SortOrder < open[j].SortOrder })

	var b strings.Builder
	b.WriteString("Current todo list:\n")
	for _, t := range open {
		mark := " "
		if t.Status == store.TodoInProgress {
			mark = "~"
		}
		fmt.Fprintf(&b, "[%s] %s\n", mark, t.Content)
	}
	reminder := providers.Message{Role: string(store.RoleSystem), Content: b.String()}
	pc.Messages = insertBeforeLastUser(pc.Messages, reminder)
	return nil
}

// insertBeforeLastUser inserts msg immediately before the last user-role
// message in messages, or appends it if there is none.
func insertBeforeLastUser(messages []providers.Message, msg providers.Message) []providers.Message {
	idx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == string(store.RoleUser) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return append(messages, msg)
	}
	out := make([]providers.Message, 0, len(messages)+1)
	out = append(out, messages[:idx]...)
	out = append(out, msg)
	out = append(out, messages[idx:]...)
	return out
}

// projectOverviewStep injects a directory-tree summary of the project root
// as a system message, walking at most 3 levels deep and skipping hidden and
// vendor-ish directories, sized to a fixed token budget (spec §4.5 priority
// 15, §9 "project overview sized to a fixed token budget").
type projectOverviewStep struct {
	maxTokens int
}

// ProjectOverviewMaxTokens bounds how much of the prompt the project
// overview preprocessor may consume.
const ProjectOverviewMaxTokens = 1500

func ProjectOverviewStep() Preprocessor { return projectOverviewStep{maxTokens: ProjectOverviewMaxTokens} }

func (projectOverviewStep) Name() string  { return "project_overview" }
func (projectOverviewStep) Priority() int { return PriorityProjectOverview }

var skipDirNames = map[string]bool{
	"node_modules": true, "vendor": true, ".idea": true, "dist": true, "build": true,
	"target": true, "__pycache__": true, ".venv": true, "venv": true,
}

func (s projectOverviewStep) Process(_ context.Context, pc *Context) error {
	if pc.ProjectPath == "" {
		pc.ProjectOverviewAt = -1
		return nil
	}
	counter := tokencount.NewCounter(pc.Model)
	var tree string
	for depth := 3; depth >= 1; depth-- {
		t, err := buildProjectTree(pc.ProjectPath, depth)
		if err != nil {
			pc.ProjectOverviewAt = -1
			return fmt.Errorf("project_overview: %w", err)
		}
		tree = t
		if counter.Count(tree) <= s.maxTokens || depth == 1 {
			break
		}
	}
	if tree == "" {
		pc.ProjectOverviewAt = -1
		return nil
	}
	tree = truncateToTokens(tree, counter, s.maxTokens)

	msg := providers.Message{
		Role:    string(store.RoleSystem),
		Content: "Project structure:\n" + tree,
	}
	pc.Messages = insertAfterSystemPrompt(pc.Messages, msg)
	pc.ProjectOverviewAt = indexOf(pc.Messages, msg)
	return nil
}

func insertAfterSystemPrompt(messages []providers.Message, msg providers.Message) []providers.Message {
	pos := 0
	if len(messages) > 0 && messages[0].Role == string(store.RoleSystem) {
		pos = 1
	}
	out := make([]providers.Message, 0, len(messages)+1)
	out = append(out, messages[:pos]...)
	out = append(out, msg)
	out = append(out, messages[pos:]...)
	return out
}

func indexOf(messages []providers.Message, msg providers.Message) int {
	for i := range messages {
		if messages[i].Content == msg.Content && messages[i].Role == msg.Role {
			return i
		}
	}
	return -1
}

func buildProjectTree(root string, maxDepth int) (string, error) {
	var b strings.Builder
	err := walkTree(&b, root, "", 0, maxDepth)
	return b.String(), err
}

func walkTree(b *strings.Builder, dir, prefix string, depth, maxDepth int) error {
	if depth > maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if depth == 0 {
			return err
		}
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || skipDirNames[name] {
			continue
		}
		if e.IsDir() {
			fmt.Fprintf(b, "%s%s/\n", prefix, name)
			walkTree(b, filepath.Join(dir, name), prefix+"  ", depth+1, maxDepth)
		} else {
			fmt.Fprintf(b, "%s%s\n", prefix, name)
		}
	}
	return nil
}

// truncateToTokens trims s to at most maxTokens tokens under counter, cutting
// on a line boundary.
func truncateToTokens(s string, counter *tokencount.Counter, maxTokens int) string {
	if counter.Count(s) <= maxTokens {
		return s
	}
	lines := strings.Split(s, "\n")
	var out strings.Builder
	tokens := 0
	for _, line := range lines {
		t := counter.Count(line)
		if tokens+t > maxTokens {
			out.WriteString("... (truncated)\n")
			break
		}
		out.WriteString(line)
		out.WriteString("\n")
		tokens += t
	}
	return out.String()
}

// tokenEstimationStep records the running token estimate of pc.Messages so
// later steps (and the caller) know where the conversation sits relative to
// pc.ContextLimit (spec §4.5 priority 20).
type tokenEstimationStep struct{}

func TokenEstimationStep() Preprocessor { return tokenEstimationStep{} }

func (tokenEstimationStep) Name() string  { return "token_estimation" }
func (tokenEstimationStep) Priority() int { return PriorityTokenEstimation }

func (tokenEstimationStep) Process(_ context.Context, pc *Context) error {
	pc.EstimatedTokens = tokencount.NewCounter(pc.Model).CountMessages(pc.Messages)
	return nil
}
