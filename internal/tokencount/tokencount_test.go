package tokencount

import (
	"testing"

	"github.com/nextlevelbuilder/codeloom/internal/providers"
)

func TestCountEmpty(t *testing.T) {
	c := NewCounter("gpt-4")
	if n := c.Count(""); n != 0 {
		t.Fatalf("Count(\"\") = %d, want 0", n)
	}
}

func TestCountIncreasesWithContent(t *testing.T) {
	c := NewCounter("gpt-4")
	short := c.Count("hi")
	long := c.Count("hi there, this is a much longer sentence with many more tokens in it")
	if long <= short {
		t.Fatalf("expected longer text to have more tokens: short=%d long=%d", short, long)
	}
}

func TestCountMessageIncludesToolCallArgs(t *testing.T) {
	c := NewCounter("gpt-4")
	base := c.CountMessage(providers.Message{Role: "assistant", Content: "ok"})
	withTool := c.CountMessage(providers.Message{
		Role:    "assistant",
		Content: "ok",
		ToolCalls: []providers.ToolCall{
			{ID: "1", Name: "read_file", Arguments: map[string]interface{}{"path": "/root/module/main.go"}},
		},
	})
	if withTool <= base {
		t.Fatalf("expected tool call to add tokens: base=%d withTool=%d", base, withTool)
	}
}

func TestCountMessagesSumsPlusPriming(t *testing.T) {
	c := NewCounter("gpt-4")
	messages := []providers.Message{
		{Role: "system", Content: "be helpful"},
		{Role: "user", Content: "hello"},
	}
	total := c.CountMessages(messages)
	sumOnly := c.CountMessage(messages[0]) + c.CountMessage(messages[1])
	if total <= sumOnly {
		t.Fatalf("expected CountMessages to add priming overhead: total=%d sumOnly=%d", total, sumOnly)
	}
}

func TestUnknownModelFallsBackToCl100k(t *testing.T) {
	c := NewCounter("some-unknown-model-xyz")
	if c.Count("hello world") == 0 {
		t.Fatalf("expected fallback encoding to still count tokens")
	}
}
