package preprocess

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/spill"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

type fakeTodoRepo struct {
	todos []*store.Todo
}

func (f *fakeTodoRepo) ReplaceAll(context.Context, uuid.UUID, *uuid.UUID, []*store.Todo) error {
	return nil
}
func (f *fakeTodoRepo) ListByChat(context.Context, uuid.UUID) ([]*store.Todo, error) {
	return f.todos, nil
}
func (f *fakeTodoRepo) DeleteAfter(context.Context, uuid.UUID, time.Time) error { return nil }

type fakeArtifacts struct{}

func (fakeArtifacts) Create(context.Context, *store.ToolArtifact) error              { return nil }
func (fakeArtifacts) ListByProject(context.Context, uuid.UUID) ([]*store.ToolArtifact, error) {
	return nil, nil
}
func (fakeArtifacts) DeleteByProject(context.Context, uuid.UUID) error { return nil }
func (fakeArtifacts) DeleteByChat(context.Context, uuid.UUID) error    { return nil }

type fakeProvider struct {
	response string
}

func (p *fakeProvider) Chat(_ context.Context, _ providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: p.response, FinishReason: "stop"}, nil
}
func (p *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	onChunk(providers.StreamChunk{Content: p.response, Done: true})
	return p.Chat(ctx, req)
}
func (p *fakeProvider) DefaultModel() string { return "gpt-4" }
func (p *fakeProvider) Name() string         { return "fake" }

func TestSystemPromptStepInsertsOnce(t *testing.T) {
	pc := &Context{DefaultSystemPrompt: "be helpful", Messages: []providers.Message{{Role: "user", Content: "hi"}}}
	if err := SystemPromptStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if len(pc.Messages) != 2 || pc.Messages[0].Role != "system" {
		t.Fatalf("expected system prompt prepended, got %+v", pc.Messages)
	}
	if err := SystemPromptStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if len(pc.Messages) != 2 {
		t.Fatalf("expected system prompt step to be idempotent, got %d messages", len(pc.Messages))
	}
}

func TestTodoReminderStepSkipsWhenNoneOpen(t *testing.T) {
	pc := &Context{
		Repos:    &store.Repos{Todos: &fakeTodoRepo{}},
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	}
	if err := TodoReminderStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if len(pc.Messages) != 1 {
		t.Fatalf("expected no reminder injected, got %+v", pc.Messages)
	}
}

func TestTodoReminderStepInsertsBeforeLastUser(t *testing.T) {
	repo := &fakeTodoRepo{todos: []*store.Todo{
		{Content: "write tests", Status: store.TodoPending, SortOrder: 0},
	}}
	pc := &Context{
		Repos: &store.Repos{Todos: repo},
		Messages: []providers.Message{
			{Role: "assistant", Content: "ok"},
			{Role: "user", Content: "continue"},
		},
	}
	if err := TodoReminderStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if len(pc.Messages) != 3 {
		t.Fatalf("expected reminder inserted, got %+v", pc.Messages)
	}
	if pc.Messages[1].Role != "system" || !strings.Contains(pc.Messages[1].Content, "write tests") {
		t.Fatalf("expected reminder message before last user turn, got %+v", pc.Messages[1])
	}
	if pc.Messages[2].Role != "user" {
		t.Fatalf("expected last user message to remain last, got %+v", pc.Messages[2])
	}
}

func TestProjectOverviewStepWalksTree(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "src"), 0o755)
	os.WriteFile(filepath.Join(dir, "src", "main.go"), []byte("package main"), 0o644)
	os.MkdirAll(filepath.Join(dir, "node_modules", "x"), 0o755)
	os.WriteFile(filepath.Join(dir, "node_modules", "x", "y.js"), []byte("x"), 0o644)

	pc := &Context{ProjectPath: dir, Model: "gpt-4", Messages: []providers.Message{{Role: "user", Content: "hi"}}}
	if err := ProjectOverviewStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.ProjectOverviewAt < 0 {
		t.Fatalf("expected project overview to be injected")
	}
	overview := pc.Messages[pc.ProjectOverviewAt].Content
	if !strings.Contains(overview, "main.go") {
		t.Fatalf("expected overview to mention main.go, got: %s", overview)
	}
	if strings.Contains(overview, "node_modules") {
		t.Fatalf("expected node_modules to be skipped, got: %s", overview)
	}
}

func TestTokenEstimationStep(t *testing.T) {
	pc := &Context{Model: "gpt-4", Messages: []providers.Message{{Role: "user", Content: "hello there"}}}
	if err := TokenEstimationStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.EstimatedTokens <= 0 {
		t.Fatalf("expected positive token estimate, got %d", pc.EstimatedTokens)
	}
}

func TestToolResultPruneStepSpillsLargeOutput(t *testing.T) {
	w := spill.New(t.TempDir(), fakeArtifacts{}).WithThreshold(10)
	pc := &Context{
		Model:     "gpt-4",
		ProjectID: uuid.New(),
		ChatID:    uuid.New(),
		Spill:     w,
		Messages: []providers.Message{
			{Role: "tool", ToolCallID: uuid.New().String(), Content: strings.Repeat("a tool result line\n", 500)},
		},
	}
	if err := ToolResultPruneStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(pc.Messages[0].Content, "truncated") {
		t.Fatalf("expected tool message to be replaced with spilled preview, got: %s", pc.Messages[0].Content)
	}
}

func TestAutoCompactionStepCompactsOverThreshold(t *testing.T) {
	provider := &fakeProvider{response: "summary of earlier turns"}
	pc := &Context{
		Model:                "gpt-4",
		ContextLimit:         100,
		Provider:             provider,
		RecentWindowMessages: 2,
		Messages: []providers.Message{
			{Role: "system", Content: strings.Repeat("padding ", 200)},
			{Role: "user", Content: strings.Repeat("padding ", 200)},
			{Role: "assistant", Content: strings.Repeat("padding ", 200)},
			{Role: "user", Content: "final question"},
			{Role: "assistant", Content: "final answer"},
		},
	}
	if err := AutoCompactionStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if !pc.CompactionApplied {
		t.Fatalf("expected compaction to apply when over threshold")
	}
	if pc.Messages[0].Content != "Summary of earlier conversation (compacted to stay within the context window):\nsummary of earlier turns" {
		t.Fatalf("expected compacted summary message, got: %+v", pc.Messages[0])
	}
	if len(pc.Messages) != 3 {
		t.Fatalf("expected summary + 2 recent messages, got %d: %+v", len(pc.Messages), pc.Messages)
	}
}

func TestAutoCompactionStepSkipsUnderThreshold(t *testing.T) {
	provider := &fakeProvider{response: "should not be called"}
	pc := &Context{
		Model:        "gpt-4",
		ContextLimit: 1_000_000,
		Provider:     provider,
		Messages:     []providers.Message{{Role: "user", Content: "hi"}},
	}
	if err := AutoCompactionStep().Process(context.Background(), pc); err != nil {
		t.Fatal(err)
	}
	if pc.CompactionApplied {
		t.Fatalf("expected no compaction under threshold")
	}
}

func TestPipelineRunsInPriorityOrder(t *testing.T) {
	var order []string
	mk := func(name string, prio int) Preprocessor {
		return recordingStep{name: name, priority: prio, order: &order}
	}
	p := New(mk("c", 30), mk("a", 10), mk("b", 20))
	p.Run(context.Background(), &Context{})
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

type recordingStep struct {
	name     string
	priority int
	order    *[]string
}

func (r recordingStep) Name() string  { return r.name }
func (r recordingStep) Priority() int { return r.priority }
func (r recordingStep) Process(_ context.Context, _ *Context) error {
	*r.order = append(*r.order, r.name)
	return nil
}

func TestPipelineSwallowsPanicsAndErrors(t *testing.T) {
	p := New(panicStep{}, errorStep{}, recordingStep{name: "after", priority: 99, order: &[]string{}})
	// Should not panic.
	p.Run(context.Background(), &Context{})
}

type panicStep struct{}

func (panicStep) Name() string  { return "panic" }
func (panicStep) Priority() int { return 1 }
func (panicStep) Process(context.Context, *Context) error {
	panic("boom")
}

type errorStep struct{}

func (errorStep) Name() string  { return "error" }
func (errorStep) Priority() int { return 2 }
func (errorStep) Process(context.Context, *Context) error {
	return context.DeadlineExceeded
}
