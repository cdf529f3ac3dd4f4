package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	runtimetypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"codex-rag/internal/domain"
)

// runtimeAPI is the minimal Bedrock Runtime interface required by Converse.
// *bedrockruntime.Client satisfies it.
type runtimeAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Converse generates replies with the Bedrock Converse API.
type Converse struct {
	api runtimeAPI
}

func NewConverse(api runtimeAPI) (*Converse, error) {
	if api == nil {
		return nil, errors.New("bedrock: runtime api must not be nil")
	}
	return &Converse{api: api}, nil
}

// ThrottlingError marks a throttled Converse call so callers can treat it as
// a rate limit.
type ThrottlingError struct {
	Err error
}

func (e *ThrottlingError) Error() string { return e.Err.Error() }

func (e *ThrottlingError) Unwrap() error { return e.Err }

func (e *ThrottlingError) HTTPStatusCode() int { return 429 }

// Generate sends messages to modelID and converts the reply to a ChatMessage.
// System messages become the system prompt; tool results are sent back as
// user turns, as Converse requires.
func (c *Converse) Generate(ctx context.Context, modelID string, messages []domain.ChatMessage, tools []domain.ToolSpec) (domain.ChatMessage, error) {
	if strings.TrimSpace(modelID) == "" {
		return domain.ChatMessage{}, errors.New("bedrock: model id must not be empty")
	}

	in := &bedrockruntime.ConverseInput{ModelId: aws.String(modelID)}
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			in.System = append(in.System, &runtimetypes.SystemContentBlockMemberText{Value: m.Content})
		default:
			msg, err := toConverseMessage(m)
			if err != nil {
				return domain.ChatMessage{}, err
			}
			in.Messages = appendMerged(in.Messages, msg)
		}
	}
	if len(tools) > 0 {
		cfg, err := toToolConfig(tools)
		if err != nil {
			return domain.ChatMessage{}, err
		}
		in.ToolConfig = cfg
	}

	out, err := c.api.Converse(ctx, in)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
			return domain.ChatMessage{}, fmt.Errorf("bedrock: converse: %w", &ThrottlingError{Err: err})
		}
		return domain.ChatMessage{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	if out == nil {
		return domain.ChatMessage{}, errors.New("bedrock: empty converse response")
	}
	msgOut, ok := out.Output.(*runtimetypes.ConverseOutputMemberMessage)
	if !ok {
		return domain.ChatMessage{}, errors.New("bedrock: converse response has no message")
	}
	return fromConverseMessage(msgOut.Value)
}

func toConverseMessage(m domain.ChatMessage) (runtimetypes.Message, error) {
	switch m.Role {
	case domain.RoleUser:
		return runtimetypes.Message{
			Role:    runtimetypes.ConversationRoleUser,
			Content: []runtimetypes.ContentBlock{&runtimetypes.ContentBlockMemberText{Value: m.Content}},
		}, nil
	case domain.RoleAssistant:
		var blocks []runtimetypes.ContentBlock
		if m.Content != "" {
			blocks = append(blocks, &runtimetypes.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if strings.TrimSpace(tc.Arguments) != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return runtimetypes.Message{}, fmt.Errorf("bedrock: decode tool arguments for %q: %w", tc.Name, err)
				}
			}
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, &runtimetypes.ContentBlockMemberToolUse{Value: runtimetypes.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     document.NewLazyDocument(input),
			}})
		}
		return runtimetypes.Message{Role: runtimetypes.ConversationRoleAssistant, Content: blocks}, nil
	case domain.RoleTool:
		return runtimetypes.Message{
			Role: runtimetypes.ConversationRoleUser,
			Content: []runtimetypes.ContentBlock{&runtimetypes.ContentBlockMemberToolResult{Value: runtimetypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []runtimetypes.ToolResultContentBlock{&runtimetypes.ToolResultContentBlockMemberText{Value: m.Content}},
			}}},
		}, nil
	}
	return runtimetypes.Message{}, fmt.Errorf("bedrock: unsupported role %q", m.Role)
}

// appendMerged joins consecutive messages with the same role; Converse
// rejects two user turns in a row.
func appendMerged(msgs []runtimetypes.Message, m runtimetypes.Message) []runtimetypes.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == m.Role {
		msgs[n-1].Content = append(msgs[n-1].Content, m.Content...)
		return msgs
	}
	return append(msgs, m)
}

func toToolConfig(tools []domain.ToolSpec) (*runtimetypes.ToolConfiguration, error) {
	cfg := &runtimetypes.ToolConfiguration{}
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("bedrock: decode schema for tool %q: %w", t.Name, err)
			}
		}
		cfg.Tools = append(cfg.Tools, &runtimetypes.ToolMemberToolSpec{Value: runtimetypes.ToolSpecification{
			Name:        aws.String(t.Name),
			Description: aws.String(t.Description),
			InputSchema: &runtimetypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return cfg, nil
}

func fromConverseMessage(m runtimetypes.Message) (domain.ChatMessage, error) {
	out := domain.ChatMessage{Role: domain.RoleAssistant}
	var text strings.Builder
	for _, block := range m.Content {
		switch b := block.(type) {
		case *runtimetypes.ContentBlockMemberText:
			text.WriteString(b.Value)
		case *runtimetypes.ContentBlockMemberToolUse:
			args := "{}"
			if b.Value.Input != nil {
				raw, err := b.Value.Input.MarshalSmithyDocument()
				if err != nil {
					return domain.ChatMessage{}, fmt.Errorf("bedrock: encode tool input: %w", err)
				}
				args = string(raw)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        aws.ToString(b.Value.ToolUseId),
				Name:      aws.ToString(b.Value.Name),
				Arguments: args,
			})
		}
	}
	out.Content = text.String()
	return out, nil
}
