package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aifeed/chatdock/internal/models"
)

// MessageRepository persists chat messages. Callers must not rely on the
// order ListByConversation returns rows in; the dock sorts by creation time.
type MessageRepository interface {
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	Append(ctx context.Context, conversationID, senderID, body string) (models.Message, error)
	LatestByConversation(ctx context.Context, conversationID string) (models.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *messageRepository) Append(ctx context.Context, conversationID, senderID, body string) (models.Message, error) {
	message := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}

	if err := r.db.WithContext(ctx).Create(&message).Error; err != nil {
		return models.Message{}, err
	}

	return message, nil
}

func (r *messageRepository) LatestByConversation(ctx context.Context, conversationID string) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&message).Error
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}
