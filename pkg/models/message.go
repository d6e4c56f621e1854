package models

import "fmt"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single message in a chat conversation.
type Message struct {
	Role    Role   `json:"role" cbor:"role"`
	Content string `json:"content" cbor:"content"`
}

// Conversation is an ordered message history. The first system message, if
// any, is treated as immutable; everything else is append-only apart from
// truncation of the oldest non-system entries.
type Conversation []Message

// NewConversation starts a conversation, optionally seeded with a system prompt.
func NewConversation(systemPrompt string) Conversation {
	if systemPrompt == "" {
		return Conversation{}
	}
	return Conversation{{Role: RoleSystem, Content: systemPrompt}}
}

// Append adds a turn to the end of the conversation.
func (c Conversation) Append(role Role, content string) (Conversation, error) {
	if !role.Valid() {
		return c, fmt.Errorf("invalid role %q", role)
	}
	return append(c, Message{Role: role, Content: content}), nil
}

// SystemPrompt returns the leading system message, if present.
func (c Conversation) SystemPrompt() (Message, bool) {
	if len(c) > 0 && c[0].Role == RoleSystem {
		return c[0], true
	}
	return Message{}, false
}

// LastUserIndex returns the index of the most recent user turn, or -1.
func (c Conversation) LastUserIndex() int {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no backing array with c.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}
