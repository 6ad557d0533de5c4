package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/onion-salad/persona-lens-sub000/internal/logging"
)

// Message is one chat message in the request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body of POST /generate-expert-proposal.
type GenerateRequest struct {
	Messages []Message `json:"messages"`
}

// errorBody is the 400/500 response shape.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

var validRoles = map[string]bool{"user": true, "assistant": true, "system": true}

// handleGenerateExpertProposal runs one orchestration for the last user
// message in the conversation.
func (s *Server) handleGenerateExpertProposal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Message: "method not allowed"})
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "request body is not valid JSON", Error: err.Error()})
		return
	}
	userMessage, err := lastUserMessage(req)
	if err != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err})
		return
	}

	requestID := requestIDFrom(r.Context())
	reqLog := logging.WithRequestID(logging.CategoryServer, requestID)
	reqLog.Info("orchestration started: %d message(s)", len(req.Messages))

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()

	// Warn when a run uses more than half the request budget.
	timer := logging.StartTimer(logging.CategoryServer, "orchestration run")
	result, runErr := s.controller.Run(ctx, userMessage)
	timer.StopWithThreshold(s.cfg.RequestTimeout / 2)

	if runErr != nil {
		reqLog.Error("orchestration failed: %v", runErr)
		s.logger.Error("orchestration failed",
			zap.String("request_id", requestID),
			zap.Error(runErr))
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Message: "the request could not be processed",
			Error:   runErr.Error(),
		})
		return
	}

	reqLog.Info("orchestration finished: type=%s", result.Type)
	writeJSON(w, http.StatusOK, result)
}

// lastUserMessage validates the body and picks the message to process.
// Returns a user-facing validation message when the body is unusable.
func lastUserMessage(req GenerateRequest) (string, string) {
	if len(req.Messages) == 0 {
		return "", "messages must contain at least one message"
	}
	for _, m := range req.Messages {
		if !validRoles[m.Role] {
			return "", "message role must be one of user, assistant, system"
		}
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		m := req.Messages[i]
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			return m.Content, ""
		}
	}
	return "", "no user message found"
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Message: "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
