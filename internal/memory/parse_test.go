package memory

import (
	"strings"
	"testing"
)

func TestParseObservationStripsTags(t *testing.T) {
	raw := "Critical: fixed the bug in auth.go\n" +
		"<current-task>refactor the login handler</current-task>\n" +
		"<suggested-response>I'll continue refactoring login.go next.</suggested-response>"
	p := parseObservation(raw)
	if p.CurrentTask != "refactor the login handler" {
		t.Fatalf("CurrentTask = %q", p.CurrentTask)
	}
	if p.SuggestedResponse != "I'll continue refactoring login.go next." {
		t.Fatalf("SuggestedResponse = %q", p.SuggestedResponse)
	}
	if strings.Contains(p.Content, "current-task") {
		t.Fatalf("expected tags stripped from content, got: %q", p.Content)
	}
}

func TestParseObservationWithoutTags(t *testing.T) {
	p := parseObservation("just a plain summary, no tags here")
	if p.CurrentTask != "" || p.SuggestedResponse != "" {
		t.Fatalf("expected no tags extracted, got %+v", p)
	}
	if p.Content != "just a plain summary, no tags here" {
		t.Fatalf("expected content unchanged, got %q", p.Content)
	}
}
