package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.codeloom/workspace",
				RestrictToWorkspace: true,
				Provider:            "anthropic",
				Model:               "claude-sonnet-4-5-20250929",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   40,
				ContextWindow:       200000,
				Subagents: &SubagentsConfig{
					MaxConcurrent: 8,
					MaxSpawnDepth: 1,
				},
			},
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			MaxMessageChars: 32000,
			RateLimitRPM:    60,
		},
		Tools: ToolsConfig{
			Profile: "coding",
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "on-miss",
			},
			MaxOutputBytes: 200_000,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyContextPruningDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyContextPruningDefaults()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values and are the only source for secrets.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CODELOOM_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("CODELOOM_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("CODELOOM_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("CODELOOM_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("CODELOOM_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("CODELOOM_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("CODELOOM_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("CODELOOM_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("CODELOOM_XAI_API_KEY", &c.Providers.XAI.APIKey)
	envStr("CODELOOM_DASHSCOPE_API_KEY", &c.Providers.DashScope.APIKey)

	envStr("CODELOOM_SERVER_TOKEN", &c.Server.Token)
	envStr("CODELOOM_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("CODELOOM_MODEL", &c.Agents.Defaults.Model)
	envStr("CODELOOM_WORKSPACE", &c.Agents.Defaults.Workspace)

	envStr("CODELOOM_HOST", &c.Server.Host)
	if v := os.Getenv("CODELOOM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}

	envStr("CODELOOM_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CODELOOM_BRAVE_API_KEY", &c.Tools.WebSearch.BraveAPIKey)

	envStr("CODELOOM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CODELOOM_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CODELOOM_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CODELOOM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CODELOOM_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// applyContextPruningDefaults auto-enables context pruning once a provider
// is configured, mirroring the teacher's applyContextPruningDefaults.
func (c *Config) applyContextPruningDefaults() {
	if !c.HasAnyProvider() {
		return
	}
	defaults := &c.Agents.Defaults
	if defaults.ContextPruning == nil {
		defaults.ContextPruning = &ContextPruningConfig{Mode: "cache-ttl"}
	} else if defaults.ContextPruning.Mode == "" {
		defaults.ContextPruning.Mode = "cache-ttl"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash prefix of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// ResolveAgent returns the effective config for a given agent ID, merging
// defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
	}

	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default, or
// DefaultAgentID if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name for an agent.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "codeloom"
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after modifying config to restore runtime secrets from env.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
	c.applyContextPruningDefaults()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
