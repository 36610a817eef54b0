package service

import (
	"context"

	"github.com/aifeed/chatdock/internal/dock"
	"github.com/aifeed/chatdock/internal/models"
	"github.com/aifeed/chatdock/internal/repository"
)

// messagingStore adapts the conversation and message repositories into the
// single collaborator surface the dock core consumes, bumping conversation
// recency on every append.
type messagingStore struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
}

func messagingStoreFor(conversations repository.ConversationRepository, messages repository.MessageRepository) dock.MessagingStore {
	return messagingStore{conversations: conversations, messages: messages}
}

func (s messagingStore) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	return s.conversations.ListForUser(ctx, userID)
}

func (s messagingStore) FindOrCreateDirect(ctx context.Context, userID, otherUserID string) (models.Conversation, error) {
	return s.conversations.FindOrCreateDirect(ctx, userID, otherUserID)
}

func (s messagingStore) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	return s.messages.ListByConversation(ctx, conversationID)
}

func (s messagingStore) Append(ctx context.Context, conversationID, senderID, body string) (models.Message, error) {
	message, err := s.messages.Append(ctx, conversationID, senderID, body)
	if err != nil {
		return models.Message{}, err
	}

	// Recency drives thread ordering; an append that outlives the touch is
	// still a stored message, so the touch error is not propagated.
	_ = s.conversations.Touch(ctx, conversationID, message.CreatedAt)

	return message, nil
}
