package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"codex-rag/internal/observability"
	"codex-rag/internal/usecase"
)

type stubUseCase struct {
	out     usecase.ChatOutput
	err     error
	in      usecase.ChatInput
	corrID  string
	invoked bool
}

func (s *stubUseCase) Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.in = in
	s.corrID = observability.CorrelationID(ctx)
	s.invoked = true
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Answer: "It costs $24.99.", ConversationID: "conv-1"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"question":"How much is it?","conversationId":"conv-1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{Question: "How much is it?", ConversationID: "conv-1"}, uc.in)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "It costs $24.99.", out.Answer)
	require.Equal(t, "conv-1", out.ConversationID)
	require.False(t, out.Overridden)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, resp.Headers["X-Correlation-Id"], uc.corrID)
}

func TestHandle_ReportsOverride(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Answer: "expert", ConversationID: "conv-1", Overridden: true}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"question":"Can I return it?"}`))
	require.NoError(t, err)
	out := parseBody[chatResponse](t, resp.Body)
	require.True(t, out.Overridden)
	require.JSONEq(t, `{"answer":"expert","conversationId":"conv-1","overridden":true}`, resp.Body)
}

func TestHandle_Base64Body(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Answer: "ok", ConversationID: "c"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"question":"hi"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", uc.in.Question)

	event = makeEvent("%%%")
	event.IsBase64Encoded = true
	resp, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	for _, body := range []string{`not-json`, `{"question":"q","extra":true}`} {
		resp, err := h.Handle(context.Background(), makeEvent(body))
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		out := parseBody[errorResponse](t, resp.Body)
		require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
		require.Equal(t, "invalid_body", out.Reason)
	}
	require.False(t, uc.invoked)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_question"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "invalid question", err: &usecase.Error{Code: usecase.ErrorInvalidQuestion, Reason: "moderation_flagged"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidQuestion)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "llm_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "tool_loop_exhausted"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "state_write_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{err: tc.err}
			h, err := NewHandler(uc)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"question":"How much is it?"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{out: usecase.ChatOutput{Answer: "ok", ConversationID: "conv-1"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`{"question":"How much is it?"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
	require.Equal(t, "corr-123", uc.corrID)
}
