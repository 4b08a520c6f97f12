package models

import "time"

// ConversationMessage is one turn of a stored chat
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a chat transcript persisted per child
type Conversation struct {
	ID             string                `json:"id"`
	ChildProfileID string                `json:"child_profile_id"`
	Title          string                `json:"title"`
	Provider       string                `json:"provider"`
	Model          string                `json:"model"`
	Messages       []ConversationMessage `json:"messages"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// ChildProfile identifies a child using the companion
type ChildProfile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
