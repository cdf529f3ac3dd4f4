package usecase

import (
	"context"
	"errors"
	"fmt"

	"codex-rag/internal/domain"
)

const defaultMaxToolRounds = 5

var errToolLoopExhausted = errors.New("usecase: model kept requesting tools")

// Generator produces the next assistant message. A reply either carries text
// or requests tool calls.
type Generator interface {
	Generate(ctx context.Context, model string, messages []domain.ChatMessage, tools []domain.ToolSpec) (domain.ChatMessage, error)
}

// ToolInvoker executes tool calls requested by the model.
type ToolInvoker interface {
	Specs() []domain.ToolSpec
	Invoke(ctx context.Context, name, rawArgs string) (output string, isError bool)
}

type generateError struct {
	err error
}

func (e *generateError) Error() string { return e.err.Error() }

func (e *generateError) Unwrap() error { return e.err }

type loopResult struct {
	// messages holds every message the loop added after the prompt, ending
	// with the final reply.
	messages  []domain.ChatMessage
	reply     domain.ChatMessage
	toolError bool
	rounds    int
}

// runToolLoop generates until the model answers without requesting tools. A
// tool error payload ends the loop and is returned as the reply.
func runToolLoop(ctx context.Context, gen Generator, model string, prompt []domain.ChatMessage, invoker ToolInvoker, maxRounds int) (loopResult, error) {
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	var specs []domain.ToolSpec
	if invoker != nil {
		specs = invoker.Specs()
	}

	messages := append([]domain.ChatMessage(nil), prompt...)
	var res loopResult
	for {
		reply, err := gen.Generate(ctx, model, messages, specs)
		if err != nil {
			return loopResult{}, &generateError{err: err}
		}
		if len(reply.ToolCalls) == 0 {
			reply.Role = domain.RoleAssistant
			res.reply = reply
			res.messages = append(res.messages, reply)
			return res, nil
		}
		if invoker == nil {
			return loopResult{}, fmt.Errorf("usecase: model requested tool %q but no tools are registered", reply.ToolCalls[0].Name)
		}
		if res.rounds == maxRounds {
			return loopResult{}, errToolLoopExhausted
		}
		res.rounds++

		// Each call is replayed as its own assistant message followed by its
		// result; text sent with the request stays on the first one.
		for i, call := range reply.ToolCalls {
			output, isError := invoker.Invoke(ctx, call.Name, call.Arguments)
			callMsg := domain.ToolCallMessage(call)
			if i == 0 {
				callMsg.Content = reply.Content
			}
			resultMsg := domain.ToolResultMessage(call.ID, output)
			res.messages = append(res.messages, callMsg, resultMsg)
			if isError {
				res.reply = resultMsg
				res.toolError = true
				return res, nil
			}
			messages = append(messages, callMsg, resultMsg)
		}
	}
}
