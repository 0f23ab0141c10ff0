package agentloop

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// verificationTimeout bounds any single checker invocation (spec §4.9 scope
// note: "static analysis ... linter, type checker, compile check").
const verificationTimeout = 60 * time.Second

// verificationPrefix opens every synthetic verification follow-up message
// formatIssues builds; IsVerificationMessage tests for it. finishTurn itself
// skips a second round by checking TurnInput.IsVerificationTurn.
const verificationPrefix = "The following lint/type issues were found"

// Issue is one finding from a single checker run against an edited file.
type Issue struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Tool    string `json:"tool"`
}

// Verifier runs static checkers (gated on file extension, spec SPEC_FULL §3
// post_agent_verifier.py) over the files a turn edited.
type Verifier struct {
	repos *store.Repos
}

// NewVerifier constructs a Verifier.
func NewVerifier(repos *store.Repos) *Verifier {
	return &Verifier{repos: repos}
}

// Verify runs every applicable checker over the files touched since
// checkpointID was opened and returns the combined findings.
func (v *Verifier) Verify(ctx context.Context, chatID, checkpointID uuid.UUID, projectRoot string) ([]Issue, error) {
	if v.repos == nil || v.repos.FileEdits == nil {
		return nil, nil
	}
	cp, err := v.repos.Checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("verifier: load checkpoint: %w", err)
	}
	edits, err := v.repos.FileEdits.ListFrom(ctx, chatID, cp.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("verifier: list edits: %w", err)
	}

	seen := make(map[string]bool)
	var goPaths, pyPaths, tsPaths []string
	for _, e := range edits {
		if e.Action == store.FileEditDeleted || seen[e.Path] {
			continue
		}
		seen[e.Path] = true
		switch strings.ToLower(filepath.Ext(e.Path)) {
		case ".go":
			goPaths = append(goPaths, e.Path)
		case ".py":
			pyPaths = append(pyPaths, e.Path)
		case ".ts", ".tsx", ".js", ".jsx":
			tsPaths = append(tsPaths, e.Path)
		}
	}

	var issues []Issue
	if len(goPaths) > 0 {
		issues = append(issues, v.runGoVet(ctx, projectRoot)...)
		issues = append(issues, v.runGofmt(ctx, projectRoot, goPaths)...)
	}
	if len(pyPaths) > 0 {
		issues = append(issues, v.runPyCompile(ctx, projectRoot, pyPaths)...)
	}
	if len(tsPaths) > 0 {
		issues = append(issues, v.runTsc(ctx, projectRoot, tsPaths)...)
	}
	return issues, nil
}

func (v *Verifier) run(ctx context.Context, dir string, name string, args ...string) (string, string, error) {
	cctx, cancel := context.WithTimeout(ctx, verificationTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if cctx.Err() != nil {
		slog.Warn("agentloop: verification checker timed out", "tool", name)
	}
	return stdout.String(), stderr.String(), err
}

var goVetLineRe = regexp.MustCompile(`^(.+?):(\d+):(\d+):\s*(.+)$`)

func (v *Verifier) runGoVet(ctx context.Context, dir string) []Issue {
	_, stderr, err := v.run(ctx, dir, "go", "vet", "./...")
	if err == nil {
		return nil
	}
	var issues []Issue
	for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
		m := goVetLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		col, _ := strconv.Atoi(m[3])
		lineNo, _ := strconv.Atoi(m[2])
		issues = append(issues, Issue{File: m[1], Line: lineNo, Column: col, Message: m[4], Tool: "go vet"})
	}
	return issues
}

func (v *Verifier) runGofmt(ctx context.Context, dir string, paths []string) []Issue {
	args := append([]string{"-l"}, paths...)
	stdout, _, _ := v.run(ctx, dir, "gofmt", args...)
	var issues []Issue
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}
		issues = append(issues, Issue{File: line, Message: "file is not gofmt-formatted", Tool: "gofmt"})
	}
	return issues
}

func (v *Verifier) runPyCompile(ctx context.Context, dir string, paths []string) []Issue {
	var issues []Issue
	for _, p := range paths {
		_, stderr, err := v.run(ctx, dir, "python3", "-m", "py_compile", p)
		if err == nil {
			continue
		}
		lineNo := 0
		if m := regexp.MustCompile(`line\s+(\d+)`).FindStringSubmatch(stderr); m != nil {
			lineNo, _ = strconv.Atoi(m[1])
		}
		issues = append(issues, Issue{File: p, Line: lineNo, Message: strings.TrimSpace(stderr), Tool: "py_compile"})
	}
	return issues
}

var tscLineRe = regexp.MustCompile(`^([^(]+)\((\d+),(\d+)\):\s*error\s+(TS\d+):?\s*(.*)$`)

func (v *Verifier) runTsc(ctx context.Context, dir string, paths []string) []Issue {
	stdout, stderr, err := v.run(ctx, dir, "npx", "tsc", "--noEmit")
	if err == nil {
		return nil
	}
	edited := make(map[string]bool, len(paths))
	for _, p := range paths {
		edited[filepath.Base(p)] = true
	}
	var issues []Issue
	for _, line := range strings.Split(strings.TrimSpace(stdout+"\n"+stderr), "\n") {
		m := tscLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if !edited[filepath.Base(strings.TrimSpace(m[1]))] {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		issues = append(issues, Issue{File: m[1], Line: lineNo, Column: col, Code: m[4], Message: strings.TrimSpace(m[5]), Tool: "tsc"})
	}
	return issues
}

// formatIssues renders issues as the synthetic follow-up user message AgentLoop
// appends after a verification run finds problems (spec §4.9).
func formatIssues(issues []Issue) string {
	var b strings.Builder
	b.WriteString(verificationPrefix)
	b.WriteString(" in files you edited. Please verify they are real problems and fix them:\n\n")
	for _, iss := range issues {
		loc := iss.File
		if iss.Line > 0 {
			loc = fmt.Sprintf("%s:%d", loc, iss.Line)
			if iss.Column > 0 {
				loc = fmt.Sprintf("%s:%d", loc, iss.Column)
			}
		}
		if iss.Code != "" {
			fmt.Fprintf(&b, "[%s] %s: %s %s\n", iss.Tool, loc, iss.Code, iss.Message)
		} else {
			fmt.Fprintf(&b, "[%s] %s: %s\n", iss.Tool, loc, iss.Message)
		}
	}
	return b.String()
}

// IsVerificationMessage reports whether content is a synthetic verification
// follow-up, i.e. starts with verificationPrefix. No caller in this module
// uses it; verification turns are marked through TurnInput.IsVerificationTurn
// where finishTurn schedules them.
func IsVerificationMessage(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), verificationPrefix)
}
