package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aifeed/chatdock/internal/models"
)

// ErrConversationNotFound indicates the requested conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository persists direct-message conversations.
type ConversationRepository interface {
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	FindOrCreateDirect(ctx context.Context, userID, otherUserID string) (models.Conversation, error)
	GetByID(ctx context.Context, id string) (models.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a conversation repository backed by GORM.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := r.db.WithContext(ctx).
		Where("participant_a = ? OR participant_b = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}

	return conversations, nil
}

// FindOrCreateDirect resolves the conversation for a pair of users, creating it
// on first use. The pair is normalized so repeated calls with the arguments in
// either order resolve to the same row.
func (r *conversationRepository) FindOrCreateDirect(ctx context.Context, userID, otherUserID string) (models.Conversation, error) {
	a, b := normalizePair(userID, otherUserID)

	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Where("participant_a = ? AND participant_b = ?", a, b).
		First(&conversation).Error
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Conversation{}, err
	}

	conversation = models.Conversation{
		ID:            uuid.NewString(),
		ParticipantA:  a,
		ParticipantB:  b,
		LastMessageAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&conversation).Error; err != nil {
		// A concurrent create for the same pair loses the race on the unique
		// index; re-read the winning row.
		var existing models.Conversation
		if readErr := r.db.WithContext(ctx).
			Where("participant_a = ? AND participant_b = ?", a, b).
			First(&existing).Error; readErr == nil {
			return existing, nil
		}
		return models.Conversation{}, err
	}

	return conversation, nil
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (models.Conversation, error) {
	var conversation models.Conversation
	if err := r.db.WithContext(ctx).First(&conversation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Conversation{}, ErrConversationNotFound
		}
		return models.Conversation{}, err
	}
	return conversation, nil
}

func (r *conversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("last_message_at", at).Error
}

func normalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
