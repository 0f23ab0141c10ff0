package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/codeloom/internal/agentloop"
	"github.com/nextlevelbuilder/codeloom/internal/approval"
	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/chathistory"
	"github.com/nextlevelbuilder/codeloom/internal/config"
	"github.com/nextlevelbuilder/codeloom/internal/contextbudget"
	"github.com/nextlevelbuilder/codeloom/internal/httpapi"
	"github.com/nextlevelbuilder/codeloom/internal/llmstream"
	"github.com/nextlevelbuilder/codeloom/internal/mcp"
	"github.com/nextlevelbuilder/codeloom/internal/memory"
	"github.com/nextlevelbuilder/codeloom/internal/pathresolver"
	"github.com/nextlevelbuilder/codeloom/internal/planstore"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/revert"
	"github.com/nextlevelbuilder/codeloom/internal/spill"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/store/pg"
	"github.com/nextlevelbuilder/codeloom/internal/toolexec"
	"github.com/nextlevelbuilder/codeloom/internal/tools"
	"github.com/nextlevelbuilder/codeloom/internal/tracing"
)

const defaultSystemPrompt = "You are codeloom, an AI coding assistant working inside a checked-out " +
	"project. Use the available tools to read and edit files, run commands, and " +
	"report progress through update_todo_list before calling submit_task."

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/SSE API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.HasAnyProvider() {
		return fmt.Errorf("no provider API key configured (set one under providers.* in config or via env)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	repos := pg.NewRepos(db)

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if !filepath.IsAbs(workspace) {
		workspace, _ = filepath.Abs(workspace)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	msgBus := bus.New()
	waiter := approval.New()
	resolver := pathresolver.New(workspace)
	artifactRoot := filepath.Join(workspace, "tool_outputs")
	spillWriter := spill.New(artifactRoot, repos.Artifacts)

	agentCfg := cfg.ResolveAgent(cfg.ResolveDefaultAgentID())
	provider, err := buildProvider(cfg, agentCfg.Provider)
	if err != nil {
		return fmt.Errorf("build provider: %w", err)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(resolver))
	registry.Register(tools.NewEditFileTool(resolver))
	registry.Register(tools.NewListFilesTool(resolver))
	registry.Register(tools.NewGrepTool(resolver))
	registry.Register(tools.NewGetFileStructureTool(resolver))
	registry.Register(tools.NewExecuteCommandTool(workspace))
	registry.Register(tools.NewUpdateTodoListTool(todoStoreAdapter{repos: repos.Todos}))
	registry.Register(tools.NewSubmitTaskTool())
	registry.Register(tools.NewUserQueryTool())
	if cfg.Tools.WebSearch.BraveEnabled || cfg.Tools.WebSearch.DDGEnabled {
		if ws := tools.NewWebSearchTool(tools.WebSearchConfig{
			BraveAPIKey:  cfg.Tools.WebSearch.BraveAPIKey,
			BraveEnabled: cfg.Tools.WebSearch.BraveEnabled,
			DDGEnabled:   cfg.Tools.WebSearch.DDGEnabled,
		}); ws != nil {
			registry.Register(ws)
		}
	}

	mcp.SetClientVersion(Version)
	configPath := resolveConfigPath()
	mcpMgr := mcp.NewManager(registry,
		mcp.WithConfigs(cfg.Tools.McpServers),
		mcp.WithConfigWatch(configPath, func() (map[string]*config.MCPServerConfig, error) {
			reloaded, err := config.Load(configPath)
			if err != nil {
				return nil, err
			}
			return reloaded.Tools.McpServers, nil
		}),
	)
	if err := mcpMgr.Start(ctx); err != nil {
		slog.Warn("mcp: startup connect failed for one or more servers", "error", err)
	}
	defer mcpMgr.Stop()

	memCfg := memory.DefaultConfig()
	if mc := agentCfg.Memory; mc != nil {
		if mc.TriggerTokens > 0 {
			memCfg.ObserverThresholdTokens = mc.TriggerTokens
		}
		if mc.BufferIntervalTokens > 0 {
			memCfg.BufferIntervalTokens = mc.BufferIntervalTokens
		}
		if mc.ReflectorThresholdTokens > 0 {
			memCfg.ReflectorThresholdTokens = mc.ReflectorThresholdTokens
		}
	}
	memRunner := memory.New(repos, msgBus, provider, agentCfg.Model, memCfg)

	ctxMgr := contextbudget.New(repos, spillWriter, memRunner, defaultSystemPrompt, 0)
	streamer := llmstream.New(msgBus)
	executor := toolexec.New(registry, repos, msgBus, waiter, spillWriter, toolexec.DefaultMaxParallel)
	verifier := agentloop.NewVerifier(repos)

	loop := agentloop.New(repos, msgBus, waiter, ctxMgr, streamer, executor, registry, memRunner, verifier, agentCfg.MaxToolIterations)
	loop.SetDefaultModel(provider, agentCfg.Model)
	registry.Register(tools.NewSpawnSubAgentTool(loop))

	revertEngine := revert.New(repos, msgBus, memRunner, loop)
	assembler := chathistory.New(repos)

	plans, err := planstore.New(filepath.Join(workspace, "project_plans"), repos, msgBus)
	if err != nil {
		return fmt.Errorf("init plan store: %w", err)
	}
	go func() {
		if err := plans.Run(ctx); err != nil {
			slog.Error("planstore: run exited", "error", err)
		}
	}()

	srv := httpapi.New(httpapi.Deps{
		Repos:           repos,
		Bus:             msgBus,
		Waiter:          waiter,
		Loop:            loop,
		CtxMgr:          ctxMgr,
		Assembler:       assembler,
		Revert:          revertEngine,
		Plans:           plans,
		Provider:        provider,
		Model:           agentCfg.Model,
		ContextLimit:    agentCfg.ContextWindow,
		SystemPrompt:    defaultSystemPrompt,
		Token:           cfg.Server.Token,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimitPerMin: cfg.Server.RateLimitRPM,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}

	go func() {
		slog.Info("codeloom: listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("codeloom: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func buildProvider(cfg *config.Config, name string) (providers.Provider, error) {
	switch name {
	case "anthropic":
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("providers.anthropic.api_key is not set")
		}
		return providers.NewAnthropicProvider(cfg.Providers.Anthropic.APIKey), nil
	case "openai", "":
		p := cfg.Providers.OpenAI
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.openai.api_key is not set")
		}
		return providers.NewOpenAIProvider("openai", p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	case "openrouter":
		p := cfg.Providers.OpenRouter
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.openrouter.api_key is not set")
		}
		return providers.NewOpenAIProvider("openrouter", p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	case "groq":
		p := cfg.Providers.Groq
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.groq.api_key is not set")
		}
		return providers.NewOpenAIProvider("groq", p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	case "deepseek":
		p := cfg.Providers.DeepSeek
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.deepseek.api_key is not set")
		}
		return providers.NewOpenAIProvider("deepseek", p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	case "mistral":
		p := cfg.Providers.Mistral
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.mistral.api_key is not set")
		}
		return providers.NewOpenAIProvider("mistral", p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	case "xai":
		p := cfg.Providers.XAI
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.xai.api_key is not set")
		}
		return providers.NewOpenAIProvider("xai", p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	case "gemini":
		p := cfg.Providers.Gemini
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.gemini.api_key is not set")
		}
		return providers.NewOpenAIProvider("gemini", p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	case "dashscope":
		p := cfg.Providers.DashScope
		if p.APIKey == "" {
			return nil, fmt.Errorf("providers.dashscope.api_key is not set")
		}
		return providers.NewDashScopeProvider(p.APIKey, p.APIBase, cfg.Agents.Defaults.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// todoStoreAdapter implements tools.TodoStore over store.TodoRepo, bridging
// the tool layer's deliberately store-agnostic Todo/TodoStore types (see
// internal/tools/update_todo_list.go) to the persisted entity shape.
type todoStoreAdapter struct {
	repos store.TodoRepo
}

func (a todoStoreAdapter) ReplaceTodos(ctx context.Context, chatID string, todos []tools.Todo) error {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return fmt.Errorf("todoStoreAdapter: invalid chat id: %w", err)
	}
	rows := make([]*store.Todo, len(todos))
	now := time.Now().UTC()
	for i, t := range todos {
		rows[i] = &store.Todo{
			ID:        store.GenNewID(),
			ChatID:    id,
			Content:   t.Content,
			Status:    store.TodoStatus(t.Status),
			SortOrder: i,
			CreatedAt: now,
		}
	}
	return a.repos.ReplaceAll(ctx, id, nil, rows)
}
