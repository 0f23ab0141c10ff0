package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultAgentID is used when no agent is explicitly selected.
const DefaultAgentID = "default"

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the codeloom backend.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Server    ServerConfig    `json:"server"`
	Tools     ToolsConfig     `json:"tools"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// DatabaseConfig configures the Postgres persistence layer.
// PostgresDSN is NEVER read from config.json (secret) — only from env CODELOOM_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default settings for the agent loop.
type AgentDefaults struct {
	Workspace           string           `json:"workspace"`
	RestrictToWorkspace bool             `json:"restrict_to_workspace"`
	Provider            string           `json:"provider"`
	Model               string           `json:"model"`
	MaxTokens           int              `json:"max_tokens"`
	Temperature         float64          `json:"temperature"`
	MaxToolIterations   int              `json:"max_tool_iterations"`
	ContextWindow       int              `json:"context_window"`
	Subagents           *SubagentsConfig `json:"subagents,omitempty"`
	Memory              *MemoryConfig    `json:"memory,omitempty"`
	Compaction          *CompactionConfig `json:"compaction,omitempty"`
	ContextPruning      *ContextPruningConfig `json:"contextPruning,omitempty"`
}

// CompactionConfig configures context budget compaction behaviour.
type CompactionConfig struct {
	ReserveTokensFloor int                `json:"reserveTokensFloor,omitempty"` // min reserve tokens (default 20000)
	MaxHistoryShare    float64            `json:"maxHistoryShare,omitempty"`    // max share of context window for history (default 0.75)
	MinMessages        int                `json:"minMessages,omitempty"`        // min messages before compaction triggers (default 50)
	KeepLastMessages   int                `json:"keepLastMessages,omitempty"`   // messages kept verbatim after compaction (default 4)
	MemoryFlush        *MemoryFlushConfig `json:"memoryFlush,omitempty"`
}

// MemoryFlushConfig configures the pre-compaction observational memory flush.
type MemoryFlushConfig struct {
	Enabled             *bool  `json:"enabled,omitempty"`             // default true (nil = enabled)
	SoftThresholdTokens int    `json:"softThresholdTokens,omitempty"` // flush when within N tokens of compaction (default 4000)
}

// ContextPruningConfig configures in-memory pruning of old tool results
// before the context budget manager spills them to disk.
type ContextPruningConfig struct {
	Mode                 string                   `json:"mode,omitempty"`                 // "off" (default), "cache-ttl"
	KeepLastAssistants   int                      `json:"keepLastAssistants,omitempty"`   // protect last N assistant msgs (default 3)
	SoftTrimRatio        float64                  `json:"softTrimRatio,omitempty"`        // start soft trim at this % of window (default 0.3)
	HardClearRatio       float64                  `json:"hardClearRatio,omitempty"`       // start hard clear at this % (default 0.5)
	MinPrunableToolChars int                      `json:"minPrunableToolChars,omitempty"` // min chars in prunable tools before acting (default 50000)
	SoftTrim             *ContextPruningSoftTrim  `json:"softTrim,omitempty"`
	HardClear            *ContextPruningHardClear `json:"hardClear,omitempty"`
}

// ContextPruningSoftTrim configures how long tool results are trimmed.
type ContextPruningSoftTrim struct {
	MaxChars  int `json:"maxChars,omitempty"`  // tool results longer than this get trimmed (default 4000)
	HeadChars int `json:"headChars,omitempty"` // keep first N chars (default 1500)
	TailChars int `json:"tailChars,omitempty"` // keep last N chars (default 1500)
}

// ContextPruningHardClear configures replacement of old tool results.
type ContextPruningHardClear struct {
	Enabled     *bool  `json:"enabled,omitempty"`     // default true
	Placeholder string `json:"placeholder,omitempty"` // replacement text
}

// MemoryConfig configures the observational memory subsystem.
type MemoryConfig struct {
	Enabled               *bool `json:"enabled,omitempty"`                 // default true (nil = enabled)
	TriggerTokens         int   `json:"trigger_tokens,omitempty"`          // observer_threshold: activate when unobserved_active tokens reach this (default 6000)
	BufferIntervalTokens  int   `json:"buffer_interval_tokens,omitempty"`  // buffer_interval: passive-buffering boundary size (default 2000, floored at 500)
	ReflectorThresholdTokens int `json:"reflector_threshold_tokens,omitempty"` // reflector_threshold: compress when an Observation grows past this (default 8000)
	ReflectIntervalTurns  int   `json:"reflect_interval_turns,omitempty"`  // reflector cadence in turns (default 5)
	MaxObservationTokens  int   `json:"max_observation_tokens,omitempty"`  // cap on rendered observation size (default 1500)
}

// SandboxConfig records Docker/runtime sandbox knobs carried through from the
// teacher but not wired: no sandbox runner exists anywhere in the retrieved
// example corpus, so this struct is data-only (see DESIGN.md).
type SandboxConfig struct {
	Mode       string `json:"mode,omitempty"`       // "off" (default), "non-main", "all"
	Image      string `json:"image,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// SubagentsConfig configures the sub-agent spawning system.
type SubagentsConfig struct {
	MaxConcurrent int `json:"maxConcurrent,omitempty"` // default 8
	MaxSpawnDepth int `json:"maxSpawnDepth,omitempty"` // default 1, range 1-5
}

// AgentSpec is the per-agent configuration override.
type AgentSpec struct {
	DisplayName       string  `json:"displayName,omitempty"`
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	MaxToolIterations int     `json:"max_tool_iterations,omitempty"`
	ContextWindow     int     `json:"context_window,omitempty"`
	Workspace         string  `json:"workspace,omitempty"`
	Default           bool    `json:"default,omitempty"`
}

// ProvidersConfig maps provider name to its config.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	Gemini     ProviderConfig `json:"gemini"`
	DeepSeek   ProviderConfig `json:"deepseek"`
	Mistral    ProviderConfig `json:"mistral"`
	XAI        ProviderConfig `json:"xai"`
	DashScope  ProviderConfig `json:"dashscope"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
}

// HasAnyProvider returns true if at least one provider has an API key configured.
func (c *Config) HasAnyProvider() bool {
	p := c.Providers
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != "" || p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" || p.Gemini.APIKey != "" || p.DeepSeek.APIKey != "" ||
		p.Mistral.APIKey != "" || p.XAI.APIKey != "" || p.DashScope.APIKey != ""
}

// ServerConfig controls the inbound HTTP + SSE API.
type ServerConfig struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Token             string   `json:"token,omitempty"`              // bearer token for API auth
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`    // CORS whitelist (empty = allow all)
	MaxMessageChars   int      `json:"max_message_chars,omitempty"`  // max user message characters (default 32000)
	RateLimitRPM      int      `json:"rate_limit_rpm,omitempty"`     // requests per minute per client (default 60, 0 = disabled)
	InboundDebounceMs int      `json:"inbound_debounce_ms,omitempty"`
}

// ToolsConfig controls tool availability and execution policy.
type ToolsConfig struct {
	Profile          string                      `json:"profile,omitempty"` // "minimal", "coding" (default), "full"
	Allow            []string                    `json:"allow,omitempty"`
	Deny             []string                    `json:"deny,omitempty"`
	ExecApproval     ExecApprovalCfg             `json:"execApproval,omitempty"`
	RateLimitPerHour int                         `json:"rate_limit_per_hour,omitempty"` // max tool executions per hour per chat (0 = disabled)
	ScrubCredentials *bool                       `json:"scrub_credentials,omitempty"`   // auto-redact API keys/tokens in tool output (default true)
	MaxOutputBytes   int                         `json:"max_output_bytes,omitempty"`    // default 200000; not read by any tool: execute_command caps stdout and stderr at a fixed 100 KiB each
	McpServers       map[string]*MCPServerConfig `json:"mcp_servers,omitempty"`
	WebSearch        WebSearchCfg                `json:"web_search,omitempty"`
}

// WebSearchCfg configures the web_search builtin's provider chain.
type WebSearchCfg struct {
	BraveAPIKey  string `json:"-"` // read from env CODELOOM_BRAVE_API_KEY, never config.json
	BraveEnabled bool   `json:"brave_enabled,omitempty"`
	DDGEnabled   bool   `json:"ddg_enabled,omitempty"`
}

// MCPServerConfig configures a single external MCP server connection.
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	ToolPrefix string            `json:"tool_prefix,omitempty"`
	TimeoutSec int               `json:"timeout_sec,omitempty"`
	AllowTools []string          `json:"allow_tools,omitempty"`
	DenyTools  []string          `json:"deny_tools,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ExecApprovalCfg configures execute_command approval.
type ExecApprovalCfg struct {
	Security  string   `json:"security,omitempty"`  // "deny", "allowlist", "full" (default "full")
	Ask       string   `json:"ask,omitempty"`       // "off", "on-miss", "always" (default "on-miss")
	Allowlist []string `json:"allowlist,omitempty"` // glob patterns for auto-approved commands
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Providers = src.Providers
	c.Server = src.Server
	c.Tools = src.Tools
	c.Database = src.Database
	c.Telemetry = src.Telemetry
}
