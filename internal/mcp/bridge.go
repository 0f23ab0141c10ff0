package mcp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/codeloom/internal/tools"
)

// BridgeTool forwards a tools.Tool.Execute call to `tools/call` on an MCP
// server (spec §4.13). Its registered name is prefixed
// "mcp__<serverId>__<toolName>" per spec §4.3.
type BridgeTool struct {
	tools.BaseTool
	serverName string
	toolName   string
	bareName   string
	desc       string
	schema     map[string]interface{}
	client     *mcpclient.Client
	timeout    time.Duration
	connected  *atomic.Bool
}

// NewBridgeTool wraps an MCP-discovered tool descriptor as a local Tool.
func NewBridgeTool(serverName string, t mcpgo.Tool, client *mcpclient.Client, toolPrefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	prefix := toolPrefix
	if prefix == "" {
		prefix = serverName
	}
	return &BridgeTool{
		serverName: serverName,
		toolName:   fmt.Sprintf("mcp__%s__%s", prefix, t.Name),
		bareName:   t.Name,
		desc:       t.Description,
		schema:     convertInputSchema(t.InputSchema),
		client:     client,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

// OriginalName returns the tool's name as the MCP server exposes it,
// stripped of the "mcp__<server>__" prefix — used by Manager.filterTools to
// match per-server allow/deny lists.
func (b *BridgeTool) OriginalName() string { return b.bareName }

func (b *BridgeTool) Name() string             { return b.toolName }
func (b *BridgeTool) Description() string      { return b.desc }
func (b *BridgeTool) RequiresApproval() bool    { return true }
func (b *BridgeTool) Parameters() map[string]interface{} { return b.schema }

// Execute calls tools/call on the bridged MCP server. Connection failures
// fall back to returning an error — the cached tool descriptor stays
// registered so a subsequent call can lazily reconnect once the server's
// health loop restores connectivity (spec §4.13).
func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %q is currently disconnected", b.serverName))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.bareToolName()
	req.Params.Arguments = args

	resp, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp call to %s failed: %v", b.toolName, err))
	}

	text, isError := extractMCPText(resp)
	if isError || resp.IsError {
		return tools.ErrorResult(text)
	}
	return tools.SilentResult(text)
}

// bareToolName returns the tool's name without the "mcp__<prefix>__"
// registry prefix this bridge was registered under: the name the upstream
// MCP server knows it by.
func (b *BridgeTool) bareToolName() string {
	return b.bareName
}

func extractMCPText(resp *mcpgo.CallToolResult) (string, bool) {
	if resp == nil {
		return "", true
	}
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == 0 {
		return "", resp.IsError
	}
	joined := texts[0]
	for _, t := range texts[1:] {
		joined += "\n" + t
	}
	return joined, resp.IsError
}

// convertInputSchema adapts an MCP tool's JSON schema to the map shape the
// rest of the registry expects (spec §4.3 input_schema).
func convertInputSchema(s mcpgo.ToolInputSchema) map[string]interface{} {
	out := map[string]interface{}{
		"type": "object",
	}
	if s.Properties != nil {
		out["properties"] = s.Properties
	} else {
		out["properties"] = map[string]interface{}{}
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}
