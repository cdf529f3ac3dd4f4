package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"codex-rag/internal/domain"
)

// chatRequest is the request shape for the streaming Chat Completions endpoint.
type chatRequest struct {
	Model             string        `json:"model"`
	Messages          []wireMessage `json:"messages"`
	Stream            bool          `json:"stream"`
	Tools             []wireTool    `json:"tools,omitempty"`
	ParallelToolCalls *bool         `json:"parallel_tool_calls,omitempty"`
	Temperature       *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// chatChunk is one server-sent event of a streamed completion.
type chatChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string  `json:"role"`
			Content   *string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate streams a chat completion and assembles the deltas into a single
// assistant message. When tools are supplied the model may answer with one
// tool call per turn; its arguments are concatenated across chunks.
func (c *Client) Generate(ctx context.Context, model string, messages []domain.ChatMessage, tools []domain.ToolSpec) (domain.ChatMessage, error) {
	if model == "" {
		return domain.ChatMessage{}, errors.New("openai: model must not be empty")
	}

	payload := chatRequest{
		Model:    model,
		Messages: toWireMessages(messages),
		Stream:   true,
	}
	if len(tools) > 0 {
		payload.Tools = toWireTools(tools)
		parallel := false
		payload.ParallelToolCalls = &parallel
	}

	url := chatURL(c.baseURL)
	req, err := c.newJSONRequest(ctx, url, payload)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("openai: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := c.do(req, url)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	msg, err := readChatStream(res.Body)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("openai: %w", err)
	}
	return msg, nil
}

// IncompleteError reports a completion the model stopped early, either at
// the token limit ("length") or by the content filter.
type IncompleteError struct {
	FinishReason string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("completion stopped early: finish_reason=%s", e.FinishReason)
}

type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

func readChatStream(r io.Reader) (domain.ChatMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		content  strings.Builder
		calls    = map[int]*toolCallBuilder{}
		sawChunk bool
		finish   string
	)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(data, []byte("[DONE]")) {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return domain.ChatMessage{}, fmt.Errorf("decode stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sawChunk = true
		if fr := chunk.Choices[0].FinishReason; fr != nil {
			finish = *fr
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != nil {
			content.WriteString(*delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			b, ok := calls[tc.Index]
			if !ok {
				b = &toolCallBuilder{}
				calls[tc.Index] = b
			}
			if tc.ID != "" {
				b.id = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("read stream: %w", err)
	}
	if !sawChunk {
		return domain.ChatMessage{}, errors.New("no choices in response")
	}
	switch finish {
	case "length", "content_filter":
		return domain.ChatMessage{}, &IncompleteError{FinishReason: finish}
	}

	msg := domain.ChatMessage{Role: domain.RoleAssistant, Content: content.String()}
	if len(calls) > 0 {
		idx := make([]int, 0, len(calls))
		for i := range calls {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			b := calls[i]
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:        b.id,
				Name:      b.name,
				Arguments: b.args.String(),
			})
		}
	}
	return msg, nil
}

func toWireMessages(messages []domain.ChatMessage) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, ToolCallID: m.ToolCallID}
		if len(m.ToolCalls) == 0 || m.Content != "" {
			content := m.Content
			wm.Content = &content
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: wireFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(tools []domain.ToolSpec) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{
			Type: "function",
			Function: wireToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
