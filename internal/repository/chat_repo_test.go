package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aifeed/chatdock/internal/models"
)

func setupChatTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Conversation{}, &models.Message{}, &models.Profile{}))
	return db
}

func TestConversationRepositoryFindOrCreateDirectIsIdempotent(t *testing.T) {
	db := setupChatTestDB(t)
	repo := NewConversationRepository(db)

	first, err := repo.FindOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	again, err := repo.FindOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	reversed, err := repo.FindOrCreateDirect(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, reversed.ID, "argument order must not create a second conversation")

	var count int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestConversationRepositoryListForUserOrdersByRecency(t *testing.T) {
	db := setupChatTestDB(t)
	repo := NewConversationRepository(db)

	older, err := repo.FindOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)
	newer, err := repo.FindOrCreateDirect(context.Background(), "alice", "carol")
	require.NoError(t, err)

	require.NoError(t, repo.Touch(context.Background(), older.ID, time.Now().Add(-time.Hour)))
	require.NoError(t, repo.Touch(context.Background(), newer.ID, time.Now()))

	conversations, err := repo.ListForUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	require.Equal(t, newer.ID, conversations[0].ID)
	require.Equal(t, older.ID, conversations[1].ID)

	none, err := repo.ListForUser(context.Background(), "mallory")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestConversationRepositoryGetByID(t *testing.T) {
	db := setupChatTestDB(t)
	repo := NewConversationRepository(db)

	created, err := repo.FindOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	fetched, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.True(t, fetched.HasParticipant("alice"))
	require.True(t, fetched.HasParticipant("bob"))
	require.Equal(t, "bob", fetched.OtherParticipant("alice"))

	_, err = repo.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestMessageRepositoryAppendAndList(t *testing.T) {
	db := setupChatTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	conversation, err := conversations.FindOrCreateDirect(context.Background(), "alice", "bob")
	require.NoError(t, err)

	first, err := messages.Append(context.Background(), conversation.ID, "alice", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	require.False(t, first.CreatedAt.IsZero())

	second, err := messages.Append(context.Background(), conversation.ID, "bob", "hi back")
	require.NoError(t, err)

	rows, err := messages.ListByConversation(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	ids := []string{rows[0].ID, rows[1].ID}
	require.Contains(t, ids, first.ID)
	require.Contains(t, ids, second.ID)

	empty, err := messages.ListByConversation(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestMessageRepositoryLatestByConversation(t *testing.T) {
	db := setupChatTestDB(t)
	messages := NewMessageRepository(db)

	base := time.Now().UTC().Add(-time.Hour)
	older := models.Message{ID: "m1", ConversationID: "conv-1", SenderID: "alice", Body: "old", CreatedAt: base}
	newer := models.Message{ID: "m2", ConversationID: "conv-1", SenderID: "bob", Body: "new", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, db.Create(&older).Error)
	require.NoError(t, db.Create(&newer).Error)

	latest, err := messages.LatestByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, "m2", latest.ID)

	_, err = messages.LatestByConversation(context.Background(), "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestProfileRepositoryResolveByIDsToleratesPartialResults(t *testing.T) {
	db := setupChatTestDB(t)
	repo := NewProfileRepository(db)

	require.NoError(t, db.Create(&models.Profile{ID: "u1", DisplayName: "Alice", Handle: "@alice"}).Error)
	require.NoError(t, db.Create(&models.Profile{ID: "u2", DisplayName: "Bob", Handle: "@bob"}).Error)

	profiles, err := repo.ResolveByIDs(context.Background(), []string{"u1", "u2", "ghost"})
	require.NoError(t, err, "unknown ids must not fail the batch")
	require.Len(t, profiles, 2)

	none, err := repo.ResolveByIDs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestProfileRepositoryResolveByID(t *testing.T) {
	db := setupChatTestDB(t)
	repo := NewProfileRepository(db)

	require.NoError(t, db.Create(&models.Profile{ID: "u1", DisplayName: "Alice"}).Error)

	profile, err := repo.ResolveByID(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "Alice", profile.DisplayName)

	_, err = repo.ResolveByID(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrProfileNotFound)
}
