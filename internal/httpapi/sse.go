package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/codeloom/internal/bus"
)

// heartbeatInterval matches spec §6 "heartbeat ... every second of idle".
const heartbeatInterval = time.Second

// handleEvents subscribes to the chat's EventBus stream and forwards every
// event as an SSE frame, interleaving a heartbeat whenever a second passes
// with nothing to send (spec §6 "SSE wire format").
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := s.bus.Subscribe(chatID.String())
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if !writeSSEEvent(w, evt) {
				return
			}
			flusher.Flush()
			ticker.Reset(heartbeatInterval)
		case <-ticker.C:
			hb := bus.Event{
				ChatID:    chatID.String(),
				Type:      "heartbeat",
				Payload:   map[string]interface{}{},
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			}
			if !writeSSEEvent(w, hb) {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt bus.Event) bool {
	payload, err := json.Marshal(evt)
	if err != nil {
		return false
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err == nil
}
