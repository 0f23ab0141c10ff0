package llmstream

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
)

type fakeProvider struct {
	chunks []providers.StreamChunk
	final  *providers.ChatResponse
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return f.final, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.final, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestStreamer_ReasoningThenContent(t *testing.T) {
	b := bus.New()
	chatID := uuid.New()
	ch, unsub := b.Subscribe(chatID.String())
	defer unsub()

	p := &fakeProvider{
		chunks: []providers.StreamChunk{
			{Thinking: "considering "},
			{Thinking: "options"},
			{Content: "Hello"},
			{Content: ", world"},
			{Done: true},
		},
		final: &providers.ChatResponse{Content: "Hello, world", FinishReason: "stop"},
	}

	s := New(b)
	result, err := s.Stream(context.Background(), chatID, p, providers.ChatRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if result.Text != "Hello, world" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if len(result.Reasoning) != 1 || result.Reasoning[0].Content != "considering options" {
		t.Fatalf("unexpected reasoning blocks: %+v", result.Reasoning)
	}

	var types []string
	for {
		select {
		case evt := <-ch:
			types = append(types, evt.Type)
		default:
			goto done
		}
	}
done:
	wantFirst := bus.EventReasoningStart
	if len(types) == 0 || types[0] != wantFirst {
		t.Fatalf("expected first event %s, got %v", wantFirst, types)
	}
	foundEnd := false
	for _, ty := range types {
		if ty == bus.EventReasoningEnd {
			foundEnd = true
		}
	}
	if !foundEnd {
		t.Fatalf("expected a reasoning_end event, got %v", types)
	}
}

func TestStreamer_NoProvider(t *testing.T) {
	s := New(nil)
	if _, err := s.Stream(context.Background(), uuid.New(), nil, providers.ChatRequest{}); err == nil {
		t.Fatal("expected error for nil provider")
	}
}
