package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
)

// denyPatterns is a defense-in-depth blocklist of shell constructs that stay
// denied regardless of approval, trimmed from the teacher's exec tool to the
// categories that matter once a real sandbox/container boundary isn't
// assumed to exist: destructive filesystem ops, exfiltration, reverse
// shells, and privilege escalation.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bnsenter\b|\bunshare\b`),
	regexp.MustCompile(`\b(mount|umount)\b`),
	regexp.MustCompile(`/var/run/docker\.sock`),
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
}

// maxOutputBytes caps each of stdout/stderr independently, matching the
// Python tool this was ported from (_MAX_OUTPUT_BYTES = 100 * 1024): a
// command exactly at the cap returns the full capped output, one byte over
// is truncated.
const maxOutputBytes = 100 * 1024

// cappedBuffer accumulates at most maxOutputBytes bytes, silently dropping
// anything past the cap rather than growing unbounded. It always reports a
// full write so exec.Cmd never sees it as a broken pipe.
type cappedBuffer struct {
	buf bytes.Buffer
	max int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room > 0 {
		if room > len(p) {
			room = len(p)
		}
		c.buf.Write(p[:room])
	}
	return len(p), nil
}

// ExecuteCommandTool runs a shell command in the project workspace.
// Arguments are validated as parseable shell syntax via mvdan.cc/sh before
// being matched against the deny-pattern list and handed to /bin/sh -c.
type ExecuteCommandTool struct {
	BaseTool
	workspace string
	timeout   time.Duration
}

// NewExecuteCommandTool constructs an ExecuteCommandTool rooted at workspace.
func NewExecuteCommandTool(workspace string) *ExecuteCommandTool {
	return &ExecuteCommandTool{workspace: workspace, timeout: 60 * time.Second}
}

func (t *ExecuteCommandTool) Name() string        { return "execute_command" }
func (t *ExecuteCommandTool) Description() string { return "Execute a shell command in the project workspace and return its output." }

func (t *ExecuteCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecuteCommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	if err := validateShellSyntax(command); err != nil {
		return ErrorResult(fmt.Sprintf("command rejected: %v", err))
	}
	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult("command denied by safety policy")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = t.workspace

	stdout := &cappedBuffer{max: maxOutputBytes}
	stderr := &cappedBuffer{max: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	var result string
	if stdout.buf.Len() > 0 {
		result = stdout.buf.String()
	}
	if stderr.buf.Len() > 0 {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr.buf.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("command timed out after %s", t.timeout))
		}
		if result == "" {
			result = err.Error()
		}
		return ErrorResult(result)
	}

	if result == "" {
		result = "(command completed with no output)"
	}
	return SilentResult(result)
}

// validateShellSyntax parses command with mvdan.cc/sh to reject malformed
// shell before it ever reaches /bin/sh -c, surfacing syntax errors up front
// rather than as an opaque shell failure.
func validateShellSyntax(command string) error {
	parser := syntax.NewParser()
	_, err := parser.Parse(strings.NewReader(command), "")
	return err
}
