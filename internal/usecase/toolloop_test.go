package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codex-rag/internal/domain"
	"codex-rag/internal/tools"
)

type scriptedGenerator struct {
	replies  []domain.ChatMessage
	errs     []error
	calls    int
	captured [][]domain.ChatMessage
	tools    []domain.ToolSpec
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, msgs []domain.ChatMessage, specs []domain.ToolSpec) (domain.ChatMessage, error) {
	idx := g.calls
	g.calls++
	g.captured = append(g.captured, append([]domain.ChatMessage(nil), msgs...))
	g.tools = specs
	if idx < len(g.errs) && g.errs[idx] != nil {
		return domain.ChatMessage{}, g.errs[idx]
	}
	if idx >= len(g.replies) {
		idx = len(g.replies) - 1
	}
	return g.replies[idx], nil
}

func toolCallReply(id, name, args string) domain.ChatMessage {
	return domain.ChatMessage{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: id, Name: name, Arguments: args}}}
}

func dateRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r, err := tools.NewRegistry(tools.NewDateTool(func() time.Time {
		return time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)
	return r
}

func TestRunToolLoop_KeepsTextSentWithToolCalls(t *testing.T) {
	withText := domain.ChatMessage{
		Role:    domain.RoleAssistant,
		Content: "Let me check the date.",
		ToolCalls: []domain.ToolCall{
			{ID: "tu_1", Name: tools.DateToolName, Arguments: `{"date_format":"%Y"}`},
			{ID: "tu_2", Name: tools.DateToolName, Arguments: `{"date_format":"%m"}`},
		},
	}
	gen := &scriptedGenerator{replies: []domain.ChatMessage{withText, {Content: "It is March 2025."}}}
	res, err := runToolLoop(context.Background(), gen, "m", []domain.ChatMessage{domain.UserMessage("q")}, dateRegistry(t), 3)
	require.NoError(t, err)
	require.Equal(t, "It is March 2025.", res.reply.Content)

	second := gen.captured[1]
	require.Len(t, second, 5)
	require.Equal(t, "Let me check the date.", second[1].Content)
	require.Equal(t, "tu_1", second[1].ToolCalls[0].ID)
	require.Equal(t, `"2025"`, second[2].Content)
	require.Empty(t, second[3].Content)
	require.Equal(t, "tu_2", second[3].ToolCalls[0].ID)
	require.Equal(t, `"03"`, second[4].Content)
}

func TestRunToolLoop_PlainAnswer(t *testing.T) {
	gen := &scriptedGenerator{replies: []domain.ChatMessage{{Content: "It costs $24.99."}}}
	res, err := runToolLoop(context.Background(), gen, "m", []domain.ChatMessage{domain.UserMessage("q")}, nil, 3)
	require.NoError(t, err)
	require.Equal(t, "It costs $24.99.", res.reply.Content)
	require.Equal(t, domain.RoleAssistant, res.reply.Role)
	require.Len(t, res.messages, 1)
	require.Zero(t, res.rounds)
	require.Nil(t, gen.tools)
}

func TestRunToolLoop_ExecutesToolAndContinues(t *testing.T) {
	gen := &scriptedGenerator{replies: []domain.ChatMessage{
		toolCallReply("call_1", tools.DateToolName, `{"date_format":"%Y"}`),
		{Content: "The bottle launched this year."},
	}}
	res, err := runToolLoop(context.Background(), gen, "m", []domain.ChatMessage{domain.UserMessage("q")}, dateRegistry(t), 3)
	require.NoError(t, err)
	require.False(t, res.toolError)
	require.Equal(t, 1, res.rounds)
	require.Equal(t, "The bottle launched this year.", res.reply.Content)
	require.Len(t, res.messages, 3)

	second := gen.captured[1]
	require.Len(t, second, 3)
	require.Equal(t, "call_1", second[1].ToolCalls[0].ID)
	require.Equal(t, domain.RoleTool, second[2].Role)
	require.Equal(t, `"2025"`, second[2].Content)
	require.Len(t, gen.tools, 1)
}

func TestRunToolLoop_ToolErrorStopsLoop(t *testing.T) {
	gen := &scriptedGenerator{replies: []domain.ChatMessage{
		toolCallReply("call_1", "missing_tool", `{"x":1}`),
		{Content: "should not be reached"},
	}}
	res, err := runToolLoop(context.Background(), gen, "m", []domain.ChatMessage{domain.UserMessage("q")}, dateRegistry(t), 3)
	require.NoError(t, err)
	require.True(t, res.toolError)
	require.Equal(t, 1, gen.calls)
	require.Equal(t, domain.RoleTool, res.reply.Role)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.reply.Content), &payload))
	require.Equal(t, "Tool 'missing_tool' not found or not callable.", payload["error"])
}

func TestRunToolLoop_BoundedRounds(t *testing.T) {
	gen := &scriptedGenerator{replies: []domain.ChatMessage{
		toolCallReply("call_1", tools.DateToolName, `{"date_format":"%d"}`),
	}}
	_, err := runToolLoop(context.Background(), gen, "m", []domain.ChatMessage{domain.UserMessage("q")}, dateRegistry(t), 2)
	require.ErrorIs(t, err, errToolLoopExhausted)
	require.Equal(t, 3, gen.calls)
}

func TestRunToolLoop_Errors(t *testing.T) {
	boom := errors.New("boom")
	gen := &scriptedGenerator{errs: []error{boom}, replies: []domain.ChatMessage{{}}}
	_, err := runToolLoop(context.Background(), gen, "m", nil, nil, 1)
	var genErr *generateError
	require.ErrorAs(t, err, &genErr)
	require.ErrorIs(t, err, boom)

	gen = &scriptedGenerator{replies: []domain.ChatMessage{toolCallReply("c", tools.DateToolName, `{}`)}}
	_, err = runToolLoop(context.Background(), gen, "m", nil, nil, 1)
	require.ErrorContains(t, err, "no tools are registered")
}
