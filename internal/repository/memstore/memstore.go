// Package memstore keeps conversations in process memory. State is lost on
// restart.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"codex-rag/internal/domain"
)

type conversation struct {
	turns    int
	messages []domain.Message
}

type Store struct {
	mu    sync.RWMutex
	convs map[string]*conversation
}

func New() *Store {
	return &Store{convs: map[string]*conversation{}}
}

func (s *Store) GetConversationTurnCount(_ context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.convs[conversationID]; ok {
		return c.turns, nil
	}
	return 0, nil
}

// GetHistory returns up to limit of the most recent turns in chronological order.
func (s *Store) GetHistory(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil, nil
	}
	msgs := c.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (s *Store) SaveCompletedTurn(_ context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.ConversationID) == "" {
		return errors.New("memstore: SaveCompletedTurn: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[turn.ConversationID]
	if !ok {
		c = &conversation{}
		s.convs[turn.ConversationID] = c
	}
	c.messages = append(c.messages, domain.Message{
		PK:             turn.ConversationID,
		SK:             strconv.Itoa(len(c.messages)),
		ConversationID: turn.ConversationID,
		Text:           turn.Question,
		Answer:         turn.Answer,
		OriginalAnswer: turn.OriginalAnswer,
		Overridden:     turn.Overridden,
		Status:         domain.StatusComplete,
	})
	c.turns = turn.Turns
	return nil
}

func (s *Store) OverrideLatestAnswer(_ context.Context, conversationID, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok || len(c.messages) == 0 {
		return fmt.Errorf("memstore: OverrideLatestAnswer %q: %w", conversationID, domain.ErrNoAssistantMessage)
	}
	latest := &c.messages[len(c.messages)-1]
	if !latest.Overridden {
		latest.OriginalAnswer = latest.Answer
	}
	latest.Answer = answer
	latest.Overridden = true
	return nil
}
