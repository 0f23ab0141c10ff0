package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/nextlevelbuilder/codeloom/internal/config"
	"github.com/nextlevelbuilder/codeloom/internal/tools"
)

// clientVersion is reported to every MCP server during the initialize
// handshake. runServe (cmd/serve.go) sets it from the codeloom binary's own
// Version at startup; tests and other callers that never set it fall back to "dev".
var clientVersion = "dev"

// SetClientVersion overrides the version string this Manager's connections
// advertise to MCP servers during initialize.
func SetClientVersion(v string) { clientVersion = v }

const (
	clientName           = "codeloom"
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// ServerStatus reports the connection status of an MCP server.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// serverState tracks a single MCP server connection.
type serverState struct {
	name       string
	transport  string
	client     *mcpclient.Client
	connected  atomic.Bool
	toolNames  []string // registered tool names in the registry
	timeoutSec int
	cancel     context.CancelFunc

	mu              sync.Mutex
	reconnAttempts  int
	lastErr         string
}

// Manager orchestrates MCP server connections and tool registration, reading
// its server set from config.MCPServerConfig (spec §4.13) — one server list
// shared across every chat, since this spec has no per-agent/user MCP grant
// concept (the teacher's managed-mode per-agent MCPServerStore lookup was
// dropped, see DESIGN.md).
type Manager struct {
	mu       sync.RWMutex
	servers  map[string]*serverState
	registry *tools.Registry

	configs map[string]*config.MCPServerConfig

	watcher    *fsnotify.Watcher
	watchStop  chan struct{}
	configPath string
	reload     func() (map[string]*config.MCPServerConfig, error)
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithConfigs sets static MCP server configs.
func WithConfigs(cfgs map[string]*config.MCPServerConfig) ManagerOption {
	return func(m *Manager) {
		m.configs = cfgs
	}
}

// WithConfigWatch makes the Manager watch configPath with fsnotify and call
// reload to re-fetch the mcp_servers block whenever the file changes on
// disk outside the API (an operator editing config.json directly).
func WithConfigWatch(configPath string, reload func() (map[string]*config.MCPServerConfig, error)) ManagerOption {
	return func(m *Manager) {
		m.configPath = configPath
		m.reload = reload
	}
}

// NewManager creates a new MCP Manager.
func NewManager(registry *tools.Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		servers:  make(map[string]*serverState),
		registry: registry,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start connects to all configured MCP servers (standalone mode).
// Non-fatal: logs warnings for servers that fail to connect and continues.
func (m *Manager) Start(ctx context.Context) error {
	if m.configPath != "" && m.reload != nil && m.watcher == nil {
		if err := m.startConfigWatch(ctx); err != nil {
			slog.Warn("mcp.config_watch.start_failed", "path", m.configPath, "error", err)
		}
	}

	if len(m.configs) == 0 {
		return nil
	}

	var errs []string
	for name, cfg := range m.configs {
		if !cfg.IsEnabled() {
			slog.Info("mcp.server.disabled", "server", name)
			continue
		}

		if err := m.connectServer(ctx, name, cfg.Transport, cfg.Command, cfg.Args, cfg.Env, cfg.URL, cfg.Headers, cfg.ToolPrefix, cfg.TimeoutSec); err != nil {
			slog.Warn("mcp.server.connect_failed", "server", name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if len(cfg.AllowTools) > 0 || len(cfg.DenyTools) > 0 {
			m.filterTools(name, cfg.AllowTools, cfg.DenyTools)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("some MCP servers failed to connect: %s", joinErrors(errs))
	}
	return nil
}

// Refresh reconnects every configured MCP server and re-registers its tools,
// without disturbing builtins (spec §4.3 "re-registration of MCP tools after
// a discovery refresh without disturbing built-ins").
func (m *Manager) Refresh(ctx context.Context) error {
	m.unregisterAllTools()
	return m.Start(ctx)
}

// startConfigWatch starts an fsnotify watch on m.configPath and spawns a
// goroutine that calls Refresh after a debounced write/create event.
func (m *Manager) startConfigWatch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(m.configPath); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", m.configPath, err)
	}
	m.watcher = w
	m.watchStop = make(chan struct{})
	go m.runConfigWatch(ctx)
	return nil
}

func (m *Manager) runConfigWatch(ctx context.Context) {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.watchStop:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(250 * time.Millisecond)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("mcp.config_watch.error", "error", err)
		case <-debounce.C:
			cfgs, err := m.reload()
			if err != nil {
				slog.Warn("mcp.config_watch.reload_failed", "error", err)
				continue
			}
			m.mu.Lock()
			m.configs = cfgs
			m.mu.Unlock()
			slog.Info("mcp.config_watch.reloading")
			if err := m.Refresh(ctx); err != nil {
				slog.Warn("mcp.config_watch.refresh_failed", "error", err)
			}
		}
	}
}

// Stop shuts down all MCP server connections and unregisters tools.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil {
		close(m.watchStop)
		m.watcher.Close()
		m.watcher = nil
	}

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		if ss.client != nil {
			if err := ss.client.Close(); err != nil {
				slog.Debug("mcp.server.close_error", "server", name, "error", err)
			}
		}
		// Unregister tools
		for _, toolName := range ss.toolNames {
			m.registry.Unregister(toolName)
		}
	}
	m.servers = make(map[string]*serverState)
}

// ServerStatus returns the status of all connected MCP servers.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		statuses = append(statuses, ServerStatus{
			Name:      ss.name,
			Transport: ss.transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			Error:     ss.lastErr,
		})
	}
	return statuses
}
