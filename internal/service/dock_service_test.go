package service

import (
	"context"
	"io"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/aifeed/chatdock/internal/dock"
	"github.com/aifeed/chatdock/internal/models"
	"github.com/aifeed/chatdock/internal/repository"
)

type dockServiceFixture struct {
	service       DockService
	registry      *dock.Registry
	db            *gorm.DB
	redisClient   *redis.Client
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
}

func setupDockService(t *testing.T) *dockServiceFixture {
	t.Helper()

	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Conversation{}, &models.Message{}, &models.Profile{}))

	registry := dock.NewRegistry()
	conversations := repository.NewConversationRepository(db)
	messages := repository.NewMessageRepository(db)

	svc := NewDockService(Options{
		Conversations:  conversations,
		Messages:       messages,
		Profiles:       repository.NewProfileRepository(db),
		Redis:          redisClient,
		Registry:       registry,
		Validator:      validator.New(validator.WithRequiredStructEnabled()),
		Logger:         zerolog.New(io.Discard),
		ChannelBase:    "test",
		LastMessageTTL: time.Minute,
		PresenceTTL:    time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)

	return &dockServiceFixture{
		service:       svc,
		registry:      registry,
		db:            db,
		redisClient:   redisClient,
		conversations: conversations,
		messages:      messages,
	}
}

func seedProfile(t *testing.T, db *gorm.DB, id, name string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Profile{ID: id, DisplayName: name, Handle: "@" + id}).Error)
}

func TestDockServiceStartRegistersOpenChat(t *testing.T) {
	fixture := setupDockService(t)
	require.True(t, fixture.registry.Ready())
}

func TestDockServiceOpenChatRejectsMissingActor(t *testing.T) {
	fixture := setupDockService(t)

	opened, err := fixture.registry.Invoke(context.Background(), "u2", dock.OpenChatOptions{CreateIfMissing: true})
	require.NoError(t, err)
	require.False(t, opened, "no actor in context means nothing can open")
}

func TestDockServiceOpenChatRejectsSelf(t *testing.T) {
	fixture := setupDockService(t)

	ctx := dock.WithActor(context.Background(), "u1")
	opened, err := fixture.registry.Invoke(ctx, "u1", dock.OpenChatOptions{CreateIfMissing: true})
	require.NoError(t, err)
	require.False(t, opened)
}

func TestDockServiceOpenChatFallbackRequiresCreateFlag(t *testing.T) {
	fixture := setupDockService(t)
	seedProfile(t, fixture.db, "u2", "Bea")

	ctx := dock.WithActor(context.Background(), "u1")

	opened, err := fixture.registry.Invoke(ctx, "u2", dock.OpenChatOptions{})
	require.NoError(t, err)
	require.False(t, opened, "no existing thread and createIfMissing unset")

	opened, err = fixture.registry.Invoke(ctx, "u2", dock.OpenChatOptions{CreateIfMissing: true})
	require.NoError(t, err)
	require.True(t, opened)
}

func TestDockServiceOpenChatFallbackFindsExistingConversation(t *testing.T) {
	fixture := setupDockService(t)
	seedProfile(t, fixture.db, "u2", "Bea")

	_, err := fixture.conversations.FindOrCreateDirect(context.Background(), "u1", "u2")
	require.NoError(t, err)

	ctx := dock.WithActor(context.Background(), "u1")
	opened, err := fixture.registry.Invoke(ctx, "u2", dock.OpenChatOptions{})
	require.NoError(t, err)
	require.True(t, opened, "existing conversations open without the create flag")
}

func TestDockServiceOpenChatUnresolvableTarget(t *testing.T) {
	fixture := setupDockService(t)

	ctx := dock.WithActor(context.Background(), "u1")
	opened, err := fixture.registry.Invoke(ctx, "ghost", dock.OpenChatOptions{CreateIfMissing: true})
	require.NoError(t, err, "unknown users degrade to a no-op, not an error")
	require.False(t, opened)
}

func TestDockServiceThreads(t *testing.T) {
	fixture := setupDockService(t)
	seedProfile(t, fixture.db, "u2", "Bea")

	conversation, err := fixture.conversations.FindOrCreateDirect(context.Background(), "u1", "u2")
	require.NoError(t, err)

	threads, err := fixture.service.Threads(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Equal(t, conversation.ID, threads[0].ConversationID)
	require.Equal(t, "Bea", threads[0].OtherUser.DisplayName)
}

func TestDockServiceMessagesAscendingOrder(t *testing.T) {
	fixture := setupDockService(t)
	seedProfile(t, fixture.db, "u2", "Bea")

	conversation, err := fixture.conversations.FindOrCreateDirect(context.Background(), "u1", "u2")
	require.NoError(t, err)

	base := time.Now().UTC().Add(-time.Hour)
	rows := []models.Message{
		{ID: "m2", ConversationID: conversation.ID, SenderID: "u2", Body: "second", CreatedAt: base.Add(time.Minute)},
		{ID: "m1", ConversationID: conversation.ID, SenderID: "u1", Body: "first", CreatedAt: base},
	}
	for i := range rows {
		require.NoError(t, fixture.db.Create(&rows[i]).Error)
	}

	messages, err := fixture.service.Messages(context.Background(), "u1", conversation.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "first", messages[0].Body)
	require.Equal(t, "second", messages[1].Body)
}

func TestDockServiceOnline(t *testing.T) {
	fixture := setupDockService(t)

	online, err := fixture.service.Online(context.Background())
	require.NoError(t, err)
	require.Empty(t, online)

	require.NoError(t, fixture.redisClient.SAdd(context.Background(), "test:presence:online", "u1", "u2").Err())

	online, err = fixture.service.Online(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u1", "u2"}, online)
}
