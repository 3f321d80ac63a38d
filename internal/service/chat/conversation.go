package chat

import (
	"sync"

	"github.com/zhouzirui/gyb-chat/backend/internal/model/chat"
)

// Conversation is the append-only message list of one session.
type Conversation struct {
	mu       sync.RWMutex
	ids      *IDClock
	messages []chat.Message
}

// NewConversation returns an empty conversation. A nil clock gets a fresh one.
func NewConversation(ids *IDClock) *Conversation {
	if ids == nil {
		ids = NewIDClock()
	}
	return &Conversation{
		ids:      ids,
		messages: make([]chat.Message, 0, 16),
	}
}

// Append records a new turn and returns it.
func (c *Conversation) Append(sender chat.Sender, content string) chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := chat.Message{
		ID:      c.ids.Next(),
		Content: content,
		Sender:  sender,
	}
	c.messages = append(c.messages, msg)
	return msg
}

// Messages returns a copy of the turns in insertion order.
func (c *Conversation) Messages() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copied := make([]chat.Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
