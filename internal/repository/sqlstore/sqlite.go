// Package sqlstore persists conversations in a local SQLite database through
// gorm. It backs the local server when DynamoDB is not available.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"codex-rag/internal/domain"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database at path, creating it when missing, and
// migrates the schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlstore: path must not be empty")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get sql db: %w", err)
	}
	// An in-memory database lives only as long as its single connection.
	sqlDB.SetMaxOpenConns(1)
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("sqlstore: enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("sqlstore: enable wal: %w", err)
	}

	if err := db.AutoMigrate(&conversation{}, &message{}); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetConversationTurnCount(ctx context.Context, conversationID string) (int, error) {
	var conv conversation
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlstore: GetConversationTurnCount: %w", err)
	}
	return conv.Turns, nil
}

// GetHistory returns up to limit of the most recent turns in chronological order.
func (s *Store) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	var conv conversation
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: GetHistory: %w", err)
	}

	var rows []message
	query := s.db.WithContext(ctx).Where("conversation_ref = ?", conv.ID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlstore: GetHistory: %w", err)
	}

	out := make([]domain.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = toDomain(conversationID, row)
	}
	return out, nil
}

// SaveCompletedTurn appends the turn and updates the conversation's turn count
// in one transaction.
func (s *Store) SaveCompletedTurn(ctx context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.ConversationID) == "" {
		return errors.New("sqlstore: SaveCompletedTurn: conversation id is required")
	}
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := conversation{ConversationID: turn.ConversationID}
		if err := tx.Where("conversation_id = ?", turn.ConversationID).FirstOrCreate(&conv).Error; err != nil {
			return err
		}
		row := message{
			ConversationRef: conv.ID,
			Question:        turn.Question,
			Answer:          turn.Answer,
			OriginalAnswer:  turn.OriginalAnswer,
			Overridden:      turn.Overridden,
			Status:          domain.StatusComplete,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&conv).Updates(map[string]any{"turns": turn.Turns, "last_activity": now}).Error
	})
	if err != nil {
		return fmt.Errorf("sqlstore: SaveCompletedTurn: %w", err)
	}
	return nil
}

// OverrideLatestAnswer replaces the newest turn's answer. The first override
// keeps the model's answer in OriginalAnswer.
func (s *Store) OverrideLatestAnswer(ctx context.Context, conversationID, answer string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv conversation
		if err := tx.Where("conversation_id = ?", conversationID).First(&conv).Error; err != nil {
			return err
		}
		var latest message
		if err := tx.Where("conversation_ref = ?", conv.ID).Order("id DESC").First(&latest).Error; err != nil {
			return err
		}
		if !latest.Overridden {
			latest.OriginalAnswer = latest.Answer
		}
		latest.Answer = answer
		latest.Overridden = true
		return tx.Save(&latest).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("sqlstore: OverrideLatestAnswer %q: %w", conversationID, domain.ErrNoAssistantMessage)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: OverrideLatestAnswer: %w", err)
	}
	return nil
}

func toDomain(conversationID string, row message) domain.Message {
	return domain.Message{
		PK:             conversationID,
		SK:             strconv.FormatUint(uint64(row.ID), 10),
		ConversationID: conversationID,
		Text:           row.Question,
		Answer:         row.Answer,
		OriginalAnswer: row.OriginalAnswer,
		Overridden:     row.Overridden,
		Status:         row.Status,
	}
}
