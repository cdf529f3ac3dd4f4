package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"codex-rag/internal/domain"
	"codex-rag/internal/observability"
	"codex-rag/internal/usecase"
)

const maxBodyBytes = 64 << 10

// Service is the full use case surface exposed by the local HTTP server.
type Service interface {
	ChatUseCase
	History(ctx context.Context, conversationID string) (*domain.Conversation, error)
	OverrideLatest(ctx context.Context, conversationID, answer string) error
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type historyResponse struct {
	ConversationID string           `json:"conversationId"`
	Messages       []historyMessage `json:"messages"`
}

type overrideRequest struct {
	Answer string `json:"answer"`
}

type router struct {
	svc Service
	log *slog.Logger
}

// NewRouter returns the chi router for the local server.
func NewRouter(svc Service, logger *slog.Logger) (http.Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &router{svc: svc, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.withCorrelationID)
	r.Use(rt.withLogging)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/chat", rt.handleChat)
	r.Route("/conversations/{conversationID}", func(cr chi.Router) {
		cr.Get("/", rt.handleHistory)
		cr.Post("/override", rt.handleOverride)
	})
	return r, nil
}

func (rt *router) withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := correlationID(r.Header.Get)
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(observability.WithCorrelationID(r.Context(), id)))
	})
}

func (rt *router) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		observability.LoggerFromContext(r.Context(), rt.log).InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (rt *router) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		return
	}
	status, payload := serveChat(r.Context(), rt.svc, rt.log, body)
	respondJSON(w, status, payload)
}

func (rt *router) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conv, err := rt.svc.History(ctx, chi.URLParam(r, "conversationID"))
	if err != nil {
		status, resp := errorStatus(ctx, observability.LoggerFromContext(ctx, rt.log), err)
		respondJSON(w, status, resp)
		return
	}
	resp := historyResponse{ConversationID: conv.ID, Messages: make([]historyMessage, 0, conv.Len())}
	for _, m := range conv.Messages {
		resp.Messages = append(resp.Messages, historyMessage{Role: m.Role, Content: m.Content})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (rt *router) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req overrideRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
		return
	}
	if err := rt.svc.OverrideLatest(ctx, chi.URLParam(r, "conversationID"), req.Answer); err != nil {
		status, resp := errorStatus(ctx, observability.LoggerFromContext(ctx, rt.log), err)
		respondJSON(w, status, resp)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(mustJSON(payload))
}
