package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codex-rag/internal/domain"
)

// Tool is a function the model may call by name.
type Tool interface {
	Spec() domain.ToolSpec
	Call(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry dispatches model tool calls to registered tools. It is populated at
// startup and read-only afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	if t == nil {
		return errors.New("tools: tool must not be nil")
	}
	name := t.Spec().Name
	if strings.TrimSpace(name) == "" {
		return errors.New("tools: tool name must not be empty")
	}
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tools: duplicate tool %q", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Specs lists tool specs in registration order.
func (r *Registry) Specs() []domain.ToolSpec {
	if r == nil {
		return nil
	}
	out := make([]domain.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec())
	}
	return out
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.tools[name]
	return ok
}

type errorPayload struct {
	Error     string `json:"error"`
	Arguments any    `json:"arguments"`
}

// Invoke runs the named tool and returns its JSON-encoded output. A missing
// tool, malformed arguments or a failing tool produce an error payload and
// isError=true instead of a Go error, so the result can still be shown to the
// caller.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (output string, isError bool) {
	args := json.RawMessage(strings.TrimSpace(rawArgs))
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var parsed map[string]any
	parseErr := json.Unmarshal(args, &parsed)
	var shown any = parsed
	if parseErr != nil {
		shown = rawArgs
	}

	t, ok := r.lookup(name)
	if !ok {
		return encodeError(fmt.Sprintf("Tool '%s' not found or not callable.", name), shown), true
	}
	if parseErr != nil {
		return encodeError(fmt.Sprintf("Exception in handling tool '%s': %v", name, parseErr), shown), true
	}

	result, err := t.Call(ctx, args)
	if err != nil {
		return encodeError(fmt.Sprintf("Exception in handling tool '%s': %v", name, err), shown), true
	}
	buf, err := json.Marshal(result)
	if err != nil {
		return encodeError(fmt.Sprintf("Exception in handling tool '%s': %v", name, err), shown), true
	}
	return string(buf), false
}

func (r *Registry) lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

func encodeError(msg string, args any) string {
	buf, _ := json.Marshal(errorPayload{Error: msg, Arguments: args})
	return string(buf)
}
