package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"codex-rag/internal/observability"
	"codex-rag/internal/usecase"
)

type chatRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversationId"`
}

type chatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversationId"`
	Overridden     bool   `json:"overridden"`
	ToolError      bool   `json:"toolError,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// serveChat decodes a chat request, runs it and returns the status and body
// to send.
func serveChat(ctx context.Context, uc ChatUseCase, base *slog.Logger, body []byte) (int, any) {
	log := observability.LoggerFromContext(ctx, base)

	var req chatRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		log.WarnContext(ctx, "invalid request body", "err", err)
		return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}
	}

	out, err := uc.Chat(ctx, usecase.ChatInput{Question: req.Question, ConversationID: req.ConversationID})
	if err != nil {
		return errorStatus(ctx, log, err)
	}
	log.InfoContext(ctx, "chat answered", "conversation_id", out.ConversationID, "overridden", out.Overridden, "tool_error", out.ToolError)
	return http.StatusOK, chatResponse{
		Answer:         out.Answer,
		ConversationID: out.ConversationID,
		Overridden:     out.Overridden,
		ToolError:      out.ToolError,
	}
}

// errorStatus maps a use case error to its HTTP status and body. Internal
// details are logged, not returned.
func errorStatus(ctx context.Context, log *slog.Logger, err error) (int, errorResponse) {
	code := usecase.CodeOf(err)
	resp := errorResponse{Error: string(code)}
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		resp.Reason = ucErr.Reason
	}

	status := http.StatusInternalServerError
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		status = http.StatusBadRequest
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		log.ErrorContext(ctx, "request failed", "code", code, "reason", resp.Reason, "err", err)
	} else {
		log.WarnContext(ctx, "request rejected", "code", code, "reason", resp.Reason, "err", err)
	}
	return status, resp
}

func correlationID(lookup func(string) string) string {
	if id := strings.TrimSpace(lookup(correlationHeader)); id != "" {
		return id
	}
	return uuid.NewString()
}

func mustJSON(v any) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return buf
}
