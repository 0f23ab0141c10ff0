// Package spill implements spillover of oversized tool output to disk (spec
// §4.11): the ArtifactStore/SpillWriter pair that ContextBudgetManager and
// ToolExecutor use to keep huge tool results out of the prompt while leaving
// a path the model can read back from with read_file.
package spill

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/tokencount"
)

// DefaultThresholdTokens is the token count above which a tool result is
// spilled to disk instead of inlined (spec §4.11).
const DefaultThresholdTokens = 2000

// PreviewTokens is how many tokens are kept from each end of a spilled
// result for the in-prompt preview (spec §4.11).
const PreviewTokens = 500

// Writer persists oversized tool output under tool_outputs/projects/<projectId>/
// and records a ToolArtifact row describing it.
type Writer struct {
	rootDir   string // base "tool_outputs" directory
	artifacts store.ToolArtifactRepo
	threshold int
}

// New constructs a Writer rooted at rootDir (spec §6 "tool_outputs/projects/<projectId>/").
func New(rootDir string, artifacts store.ToolArtifactRepo) *Writer {
	return &Writer{rootDir: rootDir, artifacts: artifacts, threshold: DefaultThresholdTokens}
}

// WithThreshold overrides the default spill threshold, in tokens.
func (w *Writer) WithThreshold(tokens int) *Writer {
	if tokens > 0 {
		w.threshold = tokens
	}
	return w
}

// ShouldSpill reports whether content's estimated token count under model's
// encoding exceeds the spill threshold.
func (w *Writer) ShouldSpill(content, model string) bool {
	return tokencount.NewCounter(model).Count(content) > w.threshold
}

// Spill writes content to disk under the project's artifact directory,
// persists a ToolArtifact row, and returns the in-prompt replacement text: a
// preview of the first and last PreviewTokens tokens plus an instruction to
// read the absolute path (spec §4.11).
func (w *Writer) Spill(ctx context.Context, projectID, chatID, toolCallID uuid.UUID, model, content string) (string, *store.ToolArtifact, error) {
	dir := filepath.Join(w.rootDir, "projects", projectID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("spill: create dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", nil, fmt.Errorf("spill: write file: %w", err)
	}

	lines := strings.Count(content, "\n") + 1
	artifact := &store.ToolArtifact{
		ID:           store.GenNewID(),
		ToolCallID:   toolCallID,
		ChatID:       chatID,
		ProjectID:    projectID,
		Kind:         store.ArtifactKindToolOutput,
		Path:         path,
		LineCount:    lines,
		PreviewLines: previewLineCount(content),
		CreatedAt:    time.Now().UTC(),
	}
	if w.artifacts != nil {
		if err := w.artifacts.Create(ctx, artifact); err != nil {
			return "", nil, fmt.Errorf("spill: persist artifact: %w", err)
		}
	}

	preview := buildPreview(content, model)
	replacement := fmt.Sprintf(
		"%s\n\n[Output truncated: %d lines total. Full output saved to %s — use read_file to view more.]",
		preview, lines, path,
	)
	return replacement, artifact, nil
}

// previewLineCount returns content's line count capped at PreviewTokens. It
// does not measure the lines the token-based preview actually keeps.
func previewLineCount(content string) int {
	lines := strings.Split(content, "\n")
	if len(lines) < PreviewTokens {
		return len(lines)
	}
	return PreviewTokens
}

// buildPreview renders the first PreviewTokens and last PreviewTokens tokens
// of content, joined with an ellipsis marker, using model's encoding so the
// preview size tracks the same token budget the rest of the prompt does.
func buildPreview(content, model string) string {
	if content == "" {
		return ""
	}
	counter := tokencount.NewCounter(model)
	if counter.Count(content) <= 2*PreviewTokens {
		return content
	}
	// tiktoken operates on byte-level BPE; approximating token boundaries by
	// walking the content and re-encoding growing prefixes/suffixes would be
	// expensive for large outputs, so fall back to a line-based approximation
	// bounded by token count on each candidate slice.
	head := headByTokens(content, counter)
	tail := tailByTokens(content, counter)
	return head + "\n\n[... middle of output omitted ...]\n\n" + tail
}

func headByTokens(content string, counter *tokencount.Counter) string {
	lines := strings.Split(content, "\n")
	var sb strings.Builder
	tokens := 0
	for _, line := range lines {
		t := counter.Count(line)
		if tokens+t > PreviewTokens && sb.Len() > 0 {
			break
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		tokens += t
	}
	return strings.TrimRight(sb.String(), "\n")
}

func tailByTokens(content string, counter *tokencount.Counter) string {
	lines := strings.Split(content, "\n")
	var kept []string
	tokens := 0
	for i := len(lines) - 1; i >= 0; i-- {
		t := counter.Count(lines[i])
		if tokens+t > PreviewTokens && len(kept) > 0 {
			break
		}
		kept = append([]string{lines[i]}, kept...)
		tokens += t
	}
	return strings.Join(kept, "\n")
}
