package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type chatRequest struct {
	Message string `json:"message"`
	Stream  bool   `json:"stream"`
}

type chatMetadata struct {
	Iterations     int `json:"iterations"`
	ToolCallsCount int `json:"toolCallsCount"`
	ToolCalls      any `json:"toolCalls"`
}

type chatResponse struct {
	Success  bool         `json:"success"`
	Response string       `json:"response,omitempty"`
	Error    string       `json:"error,omitempty"`
	Metadata chatMetadata `json:"metadata"`
}

// handleChat runs one conversation turn. Non-streaming requests receive a
// single JSON result; streaming requests receive SSE events: zero or more
// {"type":"text","content"}, then exactly one terminal {"type":"done"} or
// {"type":"error"}. Once any event is on the wire a failure can only be
// reported as an error event, not a status code.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "Message is required")
		return
	}

	exists, err := s.agents.Exists(r.Context(), agentID)
	if err != nil {
		s.logger.Error().Str("agent_id", agentID).Err(err).Msg("Agent lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "Agent lookup failed")
		return
	}
	if !exists {
		writeJSONError(w, http.StatusNotFound, "Agent not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.turnTimeout)
	defer cancel()

	if req.Stream {
		s.chatStream(ctx, w, agentID, req.Message)
		return
	}
	s.chatSync(ctx, w, agentID, req.Message)
}

func (s *Server) chatSync(ctx context.Context, w http.ResponseWriter, agentID, message string) {
	result, err := s.router.Run(ctx, agentID, message, nil)
	if err != nil {
		s.logger.Error().Str("agent_id", agentID).Err(err).Msg("Conversation turn failed")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(chatResponse{Success: false, Error: err.Error()}) //nolint:errcheck
		return
	}

	s.exchanges.LogExchange(ctx, agentID, message, result.Response)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatResponse{ //nolint:errcheck
		Success:  true,
		Response: result.Response,
		Metadata: chatMetadata{
			Iterations:     result.Iterations,
			ToolCallsCount: len(result.ToolCalls),
			ToolCalls:      result.ToolCalls,
		},
	})
}

func (s *Server) chatStream(ctx context.Context, w http.ResponseWriter, agentID, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	writeEvent := func(payload map[string]any) {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to marshal stream event")
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
		flusher.Flush()
	}

	result, err := s.router.Run(ctx, agentID, message, func(text string) error {
		writeEvent(map[string]any{"type": "text", "content": text})
		return ctx.Err()
	})
	if err != nil {
		s.logger.Error().Str("agent_id", agentID).Err(err).Msg("Streaming conversation turn failed")
		writeEvent(map[string]any{"type": "error", "error": err.Error()})
		return
	}

	s.exchanges.LogExchange(ctx, agentID, message, result.Response)

	writeEvent(map[string]any{
		"type":           "done",
		"iterations":     result.Iterations,
		"toolCallsCount": len(result.ToolCalls),
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
