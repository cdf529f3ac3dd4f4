package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"codex-rag/internal/domain"
	"codex-rag/internal/observability"
	"codex-rag/internal/retrieval"
	"codex-rag/internal/validation"
)

const (
	defaultMaxContext  = 20
	defaultMaxQuestion = 300
	defaultMaxTurns    = 10
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.Snippet, error)
}

type Validator interface {
	Validate(ctx context.Context, in validation.Input) (validation.Result, error)
}

type ConversationStore interface {
	GetConversationTurnCount(ctx context.Context, conversationID string) (int, error)
	GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	SaveCompletedTurn(ctx context.Context, turn domain.Turn) error
	OverrideLatestAnswer(ctx context.Context, conversationID, answer string) error
}

// Deps are the collaborators of ChatService. Moderator, Validator and Tools
// are optional.
type Deps struct {
	Params    ParamGetter
	Generator Generator
	Retriever Retriever
	Store     ConversationStore
	Moderator Moderator
	Validator Validator
	Tools     ToolInvoker
	Logger    *slog.Logger
}

// Settings tune ChatService. Zero values select defaults.
type Settings struct {
	ParamPrefix     string
	MaxContextItems int
	MaxQuestionLen  int
	MaxTurns        int
	MaxToolRounds   int
	FallbackAnswer  string
	// SystemPrompt overrides the prompt derived from FallbackAnswer.
	SystemPrompt string
}

type ChatService struct {
	deps     Deps
	settings Settings
	log      *slog.Logger

	cacheMu     sync.RWMutex
	cacheLoaded bool
	model       string
}

type ChatInput struct {
	Question       string
	ConversationID string
}

type ChatOutput struct {
	Answer         string
	ConversationID string
	// Overridden is set when an expert answer replaced the model's answer.
	Overridden bool
	// ToolError is set when a tool failed and its error payload is the answer.
	ToolError bool
	Context   string
}

func NewChatService(d Deps, s Settings) (*ChatService, error) {
	if d.Params == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if d.Generator == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if d.Retriever == nil {
		return nil, errors.New("usecase: retriever must not be nil")
	}
	if d.Store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	s.ParamPrefix = strings.TrimRight(strings.TrimSpace(s.ParamPrefix), "/")
	if s.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if s.MaxContextItems <= 0 {
		s.MaxContextItems = defaultMaxContext
	}
	if s.MaxQuestionLen <= 0 {
		s.MaxQuestionLen = defaultMaxQuestion
	}
	if s.MaxTurns <= 0 {
		s.MaxTurns = defaultMaxTurns
	}
	if s.MaxToolRounds <= 0 {
		s.MaxToolRounds = defaultMaxToolRounds
	}
	if strings.TrimSpace(s.FallbackAnswer) == "" {
		s.FallbackAnswer = DefaultFallbackAnswer
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = SystemPrompt(s.FallbackAnswer)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{deps: d, settings: s, log: logger}, nil
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.settings.MaxQuestionLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	if err := s.ensureConfig(ctx); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "param_load_error", err)
	}
	convID := strings.TrimSpace(in.ConversationID)
	existingTurns := 0
	if convID == "" {
		convID = newUUID()
	} else {
		turnCount, err := s.deps.Store.GetConversationTurnCount(ctx, convID)
		if err != nil {
			return ChatOutput{}, newError(ErrorInternal, "state_turn_count_error", err)
		}
		existingTurns = turnCount
		if existingTurns >= s.settings.MaxTurns {
			return ChatOutput{}, newError(ErrorInvalidInput, "conversation_turn_limit", nil)
		}
	}
	log := observability.LoggerFromContext(ctx, s.log).With("conversation_id", convID)

	if s.deps.Moderator != nil {
		flagged, err := s.deps.Moderator.Moderate(ctx, question)
		if err != nil {
			return ChatOutput{}, upstreamError("moderation", err)
		}
		if flagged {
			return ChatOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
		}
	}

	history, err := s.deps.Store.GetHistory(ctx, convID, s.settings.MaxContextItems)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "state_history_error", err)
	}

	snippets, err := s.deps.Retriever.Retrieve(ctx, question)
	if err != nil {
		return ChatOutput{}, upstreamError("retrieval", err)
	}
	contextText := retrieval.JoinSnippets(snippets)
	prompt := FormPrompt(question, contextText)
	log.DebugContext(ctx, "invoking model with prompt and context", "snippets", len(snippets), "history_turns", len(history))

	conv := domain.NewConversation(convID, buildPromptMessages(s.settings.SystemPrompt, history, prompt)...)
	res, err := runToolLoop(ctx, s.deps.Generator, s.currentModel(), conv.Messages, s.deps.Tools, s.settings.MaxToolRounds)
	if err != nil {
		return ChatOutput{}, classifyLoopError(err)
	}
	conv.Append(res.messages...)

	out := ChatOutput{
		Answer:         res.reply.Content,
		ConversationID: convID,
		ToolError:      res.toolError,
		Context:        contextText,
	}
	if res.toolError {
		// The turn is not completed, so it is neither validated nor persisted.
		log.WarnContext(ctx, "tool call failed", "payload", res.reply.Content)
		return out, nil
	}

	original := out.Answer
	if s.deps.Validator != nil {
		verdict, err := s.deps.Validator.Validate(ctx, validation.Input{
			Query:    question,
			Context:  contextText,
			Prompt:   prompt,
			Response: original,
		})
		if err != nil {
			return ChatOutput{}, upstreamError("codex_validation", err)
		}
		if verdict.ShouldOverride() {
			if err := conv.ReplaceLatestAssistant(verdict.ExpertAnswer); err != nil {
				return ChatOutput{}, newError(ErrorInternal, "override_error", err)
			}
			latest, _ := conv.LatestAssistant()
			out.Answer = latest.Content
			out.Overridden = true
			log.InfoContext(ctx, "response replaced by expert answer", "reasons", verdict.Reasons)
		} else if verdict.IsBad {
			log.InfoContext(ctx, "bad response without expert answer", "reasons", verdict.Reasons, "escalated", verdict.EscalatedToSME)
		}
	}

	turn := domain.Turn{
		ConversationID: convID,
		Question:       question,
		Answer:         out.Answer,
		Overridden:     out.Overridden,
		Turns:          existingTurns + 1,
	}
	if out.Overridden {
		turn.OriginalAnswer = original
	}
	if err := s.deps.Store.SaveCompletedTurn(ctx, turn); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "state_write_error", err)
	}
	return out, nil
}

// History returns the completed turns of a conversation as display messages.
func (s *ChatService) History(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	history, err := s.deps.Store.GetHistory(ctx, conversationID, s.settings.MaxContextItems)
	if err != nil {
		return nil, newError(ErrorInternal, "state_history_error", err)
	}
	return domain.ConversationFromHistory(conversationID, history), nil
}

// OverrideLatest replaces the answer of the newest persisted turn with an
// expert answer supplied after the fact.
func (s *ChatService) OverrideLatest(ctx context.Context, conversationID, answer string) error {
	conversationID = strings.TrimSpace(conversationID)
	answer = strings.TrimSpace(answer)
	if conversationID == "" {
		return newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	if answer == "" {
		return newError(ErrorInvalidInput, "empty_answer", nil)
	}
	if err := s.deps.Store.OverrideLatestAnswer(ctx, conversationID, answer); err != nil {
		if errors.Is(err, domain.ErrNoAssistantMessage) {
			return newError(ErrorInvalidInput, "no_assistant_message", err)
		}
		return newError(ErrorInternal, "state_write_error", err)
	}
	return nil
}

func classifyLoopError(err error) *Error {
	var genErr *generateError
	switch {
	case errors.As(err, &genErr):
		return upstreamError("llm", genErr.err)
	case errors.Is(err, errToolLoopExhausted):
		return newError(ErrorUpstream, "tool_loop_exhausted", err)
	default:
		return newError(ErrorUpstream, "tool_call_error", err)
	}
}

func (s *ChatService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	model, err := s.deps.Params.GetParameter(ctx, s.settings.ParamPrefix+"/config/model")
	if err != nil {
		return fmt.Errorf("usecase: load model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("usecase: model parameter is empty")
	}

	s.model = model
	s.cacheLoaded = true
	return nil
}

func (s *ChatService) currentModel() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.model
}

var newUUID = func() string {
	return uuid.NewString()
}
