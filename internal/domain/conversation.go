package domain

import "errors"

// ErrNoAssistantMessage is returned when an override targets a conversation
// that has no assistant reply yet.
var ErrNoAssistantMessage = errors.New("domain: conversation has no assistant message")

// Conversation is the ordered message list for one chat. Order reflects turn
// order.
type Conversation struct {
	ID       string
	Messages []ChatMessage
}

func NewConversation(id string, messages ...ChatMessage) *Conversation {
	return &Conversation{ID: id, Messages: append([]ChatMessage(nil), messages...)}
}

func (c *Conversation) Append(msgs ...ChatMessage) {
	c.Messages = append(c.Messages, msgs...)
}

func (c *Conversation) Len() int {
	return len(c.Messages)
}

// LatestAssistant returns the most recent assistant message that carries text.
func (c *Conversation) LatestAssistant() (ChatMessage, bool) {
	i := c.latestAssistantIndex()
	if i < 0 {
		return ChatMessage{}, false
	}
	return c.Messages[i], true
}

// ReplaceLatestAssistant overwrites the content of the most recent assistant
// message in place. The conversation length is unchanged.
func (c *Conversation) ReplaceLatestAssistant(content string) error {
	i := c.latestAssistantIndex()
	if i < 0 {
		return ErrNoAssistantMessage
	}
	c.Messages[i].Content = content
	return nil
}

func (c *Conversation) latestAssistantIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Role == RoleAssistant && len(m.ToolCalls) == 0 {
			return i
		}
	}
	return -1
}

// Message is a single persisted conversation turn.
type Message struct {
	PK             string
	SK             string
	ConversationID string
	Text           string
	Answer         string
	OriginalAnswer string
	Overridden     bool
	Tokens         int
	Status         string
	TTL            int64
}

// ConversationMeta stores aggregate conversation state.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	LastActivity   string
	Turns          int
	TTL            int64
}

// Turn is a completed question/answer exchange ready to be persisted.
type Turn struct {
	ConversationID string
	Question       string
	Answer         string
	OriginalAnswer string
	Overridden     bool
	Turns          int
}

// ConversationFromHistory rebuilds the display conversation from persisted
// turns. Incomplete turns are skipped.
func ConversationFromHistory(id string, history []Message) *Conversation {
	conv := NewConversation(id)
	for _, m := range history {
		if m.Status != StatusComplete || m.Text == "" || m.Answer == "" {
			continue
		}
		conv.Append(UserMessage(m.Text), AssistantMessage(m.Answer))
	}
	return conv
}

const StatusComplete = "complete"
