package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"codex-rag/internal/observability"
	"codex-rag/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase answers one chat turn.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// Handler serves POST /chat behind an API Gateway proxy integration.
type Handler struct {
	uc  ChatUseCase
	log *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHandler(uc ChatUseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(headerLookup(req.Headers))
	ctx = observability.WithCorrelationID(ctx, corrID)

	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return proxyResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"}), nil
		}
		body = string(decoded)
	}

	status, payload := serveChat(ctx, h.uc, h.log, []byte(body))
	return proxyResponse(status, corrID, payload), nil
}

func proxyResponse(status int, corrID string, payload any) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(mustJSON(payload)),
	}
}

// headerLookup matches header names case-insensitively, as API Gateway does
// not normalise them.
func headerLookup(headers map[string]string) func(string) string {
	return func(name string) string {
		for k, v := range headers {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return ""
	}
}
