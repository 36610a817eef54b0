package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation is a direct messaging channel between two users. The participant
// pair is fixed at creation time and conversations are never deleted here.
type Conversation struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	ParticipantA  string    `gorm:"size:64;index:idx_conversation_pair,unique" json:"participant_a"`
	ParticipantB  string    `gorm:"size:64;index:idx_conversation_pair,unique" json:"participant_b"`
	LastMessageAt time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Participants returns both member ids of the conversation.
func (c Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether the given user belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant returns the member that is not the given user.
func (c Conversation) OtherParticipant(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Message is a single immutable chat payload inside a conversation.
type Message struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	ConversationID string    `gorm:"size:64;index" json:"conversation_id"`
	SenderID       string    `gorm:"size:64;index" json:"sender_id"`
	Body           string    `gorm:"type:text" json:"body"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// Profile is the denormalized user snapshot the dock renders next to threads
// and messages. The social-graph service is the system of record; rows here
// are read-only replicas.
type Profile struct {
	ID          string            `gorm:"primaryKey;size:64" json:"id"`
	DisplayName string            `gorm:"size:255" json:"display_name"`
	AvatarURL   string            `gorm:"size:512" json:"avatar_url"`
	Handle      string            `gorm:"size:128;index" json:"handle"`
	JobTitle    string            `gorm:"size:255" json:"job_title"`
	Metadata    datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
