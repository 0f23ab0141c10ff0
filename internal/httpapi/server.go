package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/codeloom/internal/agentloop"
	"github.com/nextlevelbuilder/codeloom/internal/approval"
	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/chathistory"
	"github.com/nextlevelbuilder/codeloom/internal/contextbudget"
	"github.com/nextlevelbuilder/codeloom/internal/providers"
	"github.com/nextlevelbuilder/codeloom/internal/revert"
	"github.com/nextlevelbuilder/codeloom/internal/store"
	"github.com/nextlevelbuilder/codeloom/internal/tools"
)

// Server wires the core's process-scoped singletons (spec §9 "application
// container") behind the HTTP/SSE endpoint table in spec §6.
type Server struct {
	repos      *store.Repos
	bus        *bus.Bus
	waiter     *approval.Waiter
	loop       *agentloop.Loop
	ctxMgr     *contextbudget.Manager
	assembler  *chathistory.Assembler
	revert     *revert.Engine
	plans      chathistory.PlanContentReader

	provider      providers.Provider
	model         string
	contextLimit  int
	systemPrompt  string
	maxIterations int

	token          string
	allowedOrigins []string
	limiters       *clientLimiters
}

// Deps collects every dependency Server needs; all fields are required
// except Plans, which may be nil until internal/planstore is wired in.
type Deps struct {
	Repos     *store.Repos
	Bus       *bus.Bus
	Waiter    *approval.Waiter
	Loop      *agentloop.Loop
	CtxMgr    *contextbudget.Manager
	Assembler *chathistory.Assembler
	Revert    *revert.Engine
	Plans     chathistory.PlanContentReader

	Provider     providers.Provider
	Model        string
	ContextLimit int
	SystemPrompt string

	Token             string
	AllowedOrigins    []string
	RateLimitPerMin   int
}

// New constructs a Server from Deps.
func New(d Deps) *Server {
	return &Server{
		repos:          d.Repos,
		bus:            d.Bus,
		waiter:         d.Waiter,
		loop:           d.Loop,
		ctxMgr:         d.CtxMgr,
		assembler:      d.Assembler,
		revert:         d.Revert,
		plans:          d.Plans,
		provider:       d.Provider,
		model:          d.Model,
		contextLimit:   d.ContextLimit,
		systemPrompt:   d.SystemPrompt,
		token:          d.Token,
		allowedOrigins: d.AllowedOrigins,
		limiters:       newClientLimiters(d.RateLimitPerMin),
	}
}

// Routes builds the mux of spec §6's endpoint table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chat/{id}/history", s.wrap(s.handleHistory))
	mux.HandleFunc("POST /api/chat/{id}/messages", s.wrap(s.handlePostMessage))
	mux.HandleFunc("POST /api/chat/{id}/continue", s.wrap(s.handleContinue))
	mux.HandleFunc("PUT /api/chat/{id}/messages/{mid}", s.wrap(s.handleEditMessage))
	mux.HandleFunc("POST /api/chat/{id}/cancel", s.wrap(s.handleCancel))
	mux.HandleFunc("POST /api/chat/{id}/approve", s.wrap(s.handleApprove))
	mux.HandleFunc("POST /api/chat/{id}/reject", s.wrap(s.handleReject))
	mux.HandleFunc("POST /api/chat/{id}/revert/{cpId}", s.wrap(s.handleRevertCheckpoint))
	mux.HandleFunc("POST /api/chat/{id}/revert-file/{feId}", s.wrap(s.handleRevertFile))
	mux.HandleFunc("POST /api/chat/{id}/summarize", s.wrap(s.handleSummarize))
	mux.HandleFunc("GET /api/chat/{id}/events", s.wrap(s.handleEvents))
	return mux
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(key))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

// startTurn persists a new checkpoint tagged to msgID and schedules an
// AgentLoop run for chatID (spec §4.9, §6 "schedule AgentLoop").
func (s *Server) startTurn(ctx context.Context, chatID, msgID uuid.UUID, isVerification bool) error {
	chat, err := s.repos.Chats.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load chat: %w", err)
	}
	project, err := s.repos.Projects.Get(ctx, chat.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	cp := &store.Checkpoint{
		ID:        store.GenNewID(),
		ChatID:    chatID,
		MessageID: msgID,
		Label:     "",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repos.Checkpoints.Create(ctx, cp); err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	s.bus.Publish(chatID.String(), bus.EventCheckpoint, map[string]interface{}{
		"checkpointId": cp.ID.String(),
		"messageId":    msgID.String(),
	})

	var autoApprove []tools.AutoApproveRule
	if s.repos.AutoApprove != nil {
		rows, err := s.repos.AutoApprove.ListByProject(ctx, project.ID)
		if err == nil {
			for _, row := range rows {
				if !row.Enabled {
					continue
				}
				autoApprove = append(autoApprove, tools.AutoApproveRule{
					Tool: row.Tool, Path: row.Path, Extension: row.Extension,
					Directory: row.Directory, Pattern: row.Pattern,
				})
			}
		}
	}

	s.loop.Start(ctx, agentloop.TurnInput{
		ChatID:             chatID,
		ProjectID:          project.ID,
		CheckpointID:       cp.ID,
		ProjectPath:        project.Path,
		Model:              s.model,
		Provider:           s.provider,
		SystemPrompt:       s.systemPrompt,
		ContextLimit:       s.contextLimit,
		AutoApprove:        autoApprove,
		IsVerificationTurn: isVerification,
	})
	return nil
}
