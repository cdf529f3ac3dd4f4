package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codex-rag/internal/domain"
)

const CodexToolName = "consult_codex"

// NoExpertAnswer is returned to the model when the project has no answer yet.
const NoExpertAnswer = "No expert answer is available for this question yet."

// ExpertQuerier looks up SME answers; *codex.Client satisfies it.
type ExpertQuerier interface {
	Query(ctx context.Context, question string) (string, bool, error)
}

var codexToolSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"question": {
			"type": "string",
			"description": "The question to ask the expert knowledge base, phrased as the user would ask it."
		}
	},
	"required": ["question"]
}`)

// CodexTool lets the model consult the Codex project for an SME answer.
type CodexTool struct {
	querier ExpertQuerier
}

func NewCodexTool(q ExpertQuerier) (*CodexTool, error) {
	if q == nil {
		return nil, errors.New("tools: expert querier must not be nil")
	}
	return &CodexTool{querier: q}, nil
}

func (c *CodexTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        CodexToolName,
		Description: "Consults an expert knowledge base for questions the Context does not adequately answer. Returns an authoritative answer when one exists.",
		Parameters:  codexToolSchema,
	}
}

func (c *CodexTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if strings.TrimSpace(args.Question) == "" {
		return nil, errors.New("question is required")
	}
	answer, ok, err := c.querier.Query(ctx, args.Question)
	if err != nil {
		return nil, err
	}
	if !ok {
		return NoExpertAnswer, nil
	}
	return answer, nil
}
