package memory

import (
	"reflect"
	"testing"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

func TestLastNChunkContentsTruncatesFromEnd(t *testing.T) {
	chunks := []store.BufferedChunk{
		{Content: "one"}, {Content: "two"}, {Content: "three"},
	}
	got := lastNChunkContents(chunks, 2)
	want := []string{"two", "three"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestLastNChunkContentsFewerThanN(t *testing.T) {
	chunks := []store.BufferedChunk{{Content: "only"}}
	got := lastNChunkContents(chunks, 2)
	want := []string{"only"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestJoinChunks(t *testing.T) {
	got := joinChunks([]string{"a", "b", "c"})
	want := "a\n\nb\n\nc"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBufferIntervalFloorsAt500(t *testing.T) {
	cfg := Config{BufferIntervalTokens: 100}
	if cfg.bufferInterval() != 500 {
		t.Fatalf("expected floor of 500, got %d", cfg.bufferInterval())
	}
	cfg2 := Config{BufferIntervalTokens: 3000}
	if cfg2.bufferInterval() != 3000 {
		t.Fatalf("expected 3000, got %d", cfg2.bufferInterval())
	}
}
