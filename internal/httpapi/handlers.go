package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/codeloom/internal/approval"
	"github.com/nextlevelbuilder/codeloom/internal/bus"
	"github.com/nextlevelbuilder/codeloom/internal/store"
)

// DefaultMaxMessageChars bounds an inbound user message's length absent an
// explicit server config override (spec §6 "max_message_chars").
const DefaultMaxMessageChars = 32000

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	history, err := s.assembler.Assemble(r.Context(), chatID, s.plans)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, history)
}

type postMessageRequest struct {
	Content      string  `json:"content"`
	Mode         string  `json:"mode,omitempty"`
	ActivePlanID *string `json:"activePlanId,omitempty"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > DefaultMaxMessageChars {
		writeError(w, http.StatusBadRequest, "content exceeds max_message_chars")
		return
	}

	msg := &store.Message{
		ID:        store.GenNewID(),
		ChatID:    chatID,
		Role:      store.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repos.Messages.Create(r.Context(), msg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Publish(chatID.String(), bus.EventMessage, map[string]interface{}{
		"id": msg.ID.String(), "role": string(msg.Role), "content": msg.Content,
	})

	if err := s.startTurn(r.Context(), chatID, msg.ID, false); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusAccepted, map[string]interface{}{"messageId": msg.ID})
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	checkpoints, err := s.repos.Checkpoints.ListByChat(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(checkpoints) == 0 {
		writeError(w, http.StatusBadRequest, "chat has no checkpoint to continue from")
		return
	}
	last := checkpoints[len(checkpoints)-1]
	if err := s.startTurn(r.Context(), chatID, last.MessageID, false); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusAccepted, map[string]interface{}{"checkpointId": last.ID})
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// handleEditMessage implements spec §6 PUT .../messages/{mid}: revert to
// that message's checkpoint, rewrite its content, and reschedule (spec §8
// "rewriting the same content is a no-op on the checkpoint label").
func (s *Server) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgID, err := pathUUID(r, "mid")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req editMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	cp, err := s.repos.Checkpoints.GetByMessage(r.Context(), msgID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no checkpoint for message: "+err.Error())
		return
	}
	if err := s.revert.RevertToCheckpoint(r.Context(), chatID, cp.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.repos.Messages.Rewrite(r.Context(), msgID, req.Content); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Publish(chatID.String(), bus.EventMessageEdited, map[string]interface{}{
		"id": msgID.String(), "content": req.Content,
	})

	if err := s.startTurn(r.Context(), chatID, msgID, false); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusAccepted, map[string]interface{}{"checkpointId": cp.ID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.loop.Cancel(chatID)
	s.bus.Publish(chatID.String(), bus.EventAgentDone, map[string]interface{}{"reason": "cancelled"})
	writeData(w, http.StatusOK, map[string]interface{}{"cancelled": true})
}

type approveRequest struct {
	ToolCallID string `json:"toolCallId"`
}

// handleApprove signals the waiter AgentLoop's tool executor is blocked on;
// execution itself happens inline inside toolexec.Executor.runOne once it
// wakes (spec §4.8), so this handler only checks that the approval is
// pending and signals it.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToolCallID == "" {
		writeError(w, http.StatusBadRequest, "toolCallId is required")
		return
	}
	if !s.waiter.IsPending(chatID.String(), req.ToolCallID) {
		writeError(w, http.StatusConflict, "no pending approval for that tool call")
		return
	}
	s.waiter.Signal(chatID.String(), req.ToolCallID, approval.Approved)
	writeData(w, http.StatusOK, map[string]interface{}{"toolCallId": req.ToolCallID, "decision": "approved"})
}

type rejectRequest struct {
	ToolCallID string `json:"toolCallId"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToolCallID == "" {
		writeError(w, http.StatusBadRequest, "toolCallId is required")
		return
	}
	if !s.waiter.IsPending(chatID.String(), req.ToolCallID) {
		writeError(w, http.StatusConflict, "no pending approval for that tool call")
		return
	}
	s.waiter.Signal(chatID.String(), req.ToolCallID, approval.Rejected)
	writeData(w, http.StatusOK, map[string]interface{}{"toolCallId": req.ToolCallID, "decision": "rejected", "reason": req.Reason})
}

func (s *Server) handleRevertCheckpoint(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cpID, err := pathUUID(r, "cpId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.revert.RevertToCheckpoint(r.Context(), chatID, cpID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"checkpointId": cpID, "reverted": true})
}

func (s *Server) handleRevertFile(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	feID, err := pathUUID(r, "feId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.revert.RevertFile(r.Context(), chatID, feID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"fileEditId": feID, "reverted": true})
}

// handleSummarize implements spec §6's "force context compaction" contract.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chat, err := s.repos.Chats.Get(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	project, err := s.repos.Projects.Get(r.Context(), chat.ProjectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	history, err := s.repos.Messages.ListByChat(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusBadRequest, "chat has no messages to summarize")
		return
	}
	result, err := s.ctxMgr.ForceCompact(r.Context(), chatID, project.ID, project.Path, s.model, s.contextLimit, s.provider, toProviderMessages(history))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.bus.Publish(chatID.String(), bus.EventCompactionApplied, map[string]interface{}{
		"estimatedTokens": result.EstimatedTokens,
	})
	writeData(w, http.StatusOK, map[string]interface{}{
		"compactionApplied": result.CompactionApplied,
		"estimatedTokens":   result.EstimatedTokens,
	})
}
