package story

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Role tags a chat message with its author
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel
}

// Message is a single chat turn. ImageURL is only meaningful for model turns
// that produced an illustration.
type Message struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// UserMessage creates a user turn
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ModelMessage creates an assistant turn, optionally carrying an image
func ModelMessage(content, imageURL string) Message {
	return Message{Role: RoleModel, Content: content, ImageURL: imageURL}
}

// Validate checks the role tag and role-specific fields
func (m Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if m.ImageURL != "" {
			return fmt.Errorf("user message cannot carry an image")
		}
	case RoleModel:
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// UnmarshalJSON rejects messages with an unknown role tag
func (m *Message) UnmarshalJSON(data []byte) error {
	type raw Message
	var r raw
	if err := sonic.Unmarshal(data, &r); err != nil {
		return err
	}
	msg := Message(r)
	if err := msg.Validate(); err != nil {
		return err
	}
	*m = msg
	return nil
}
