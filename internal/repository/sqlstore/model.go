package sqlstore

import (
	"time"

	"gorm.io/gorm"
)

type conversation struct {
	gorm.Model
	ConversationID string `gorm:"uniqueIndex;not null"`
	Turns          int
	LastActivity   time.Time
	Messages       []message `gorm:"foreignKey:ConversationRef"`
}

func (conversation) TableName() string { return "conversations" }

type message struct {
	gorm.Model
	ConversationRef uint `gorm:"index;not null"`
	Question        string
	Answer          string
	OriginalAnswer  string
	Overridden      bool
	Status          string
}

func (message) TableName() string { return "messages" }
