package dock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aifeed/chatdock/internal/models"
)

// SocialGraph resolves denormalized user profile snapshots. Batched lookups
// tolerate partial results; missing ids simply produce no entry.
type SocialGraph interface {
	ResolveByIDs(ctx context.Context, ids []string) ([]models.Profile, error)
	ResolveByID(ctx context.Context, id string) (models.Profile, error)
}

// MessagingStore is the system of record for conversations and messages. The
// dock only ever holds cached, possibly-stale copies of its rows.
type MessagingStore interface {
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	FindOrCreateDirect(ctx context.Context, userID, otherUserID string) (models.Conversation, error)
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	Append(ctx context.Context, conversationID, senderID, body string) (models.Message, error)
}

// Tab is the coarse two-bucket thread classification the dock renders.
type Tab string

// Dock inbox tabs.
const (
	TabFocused Tab = "focused"
	TabOther   Tab = "other"
)

const placeholderLastMessage = "No messages yet"

// Thread is the dock's view of one conversation the user participates in,
// enriched with the other participant's profile snapshot and unread count.
type Thread struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	OtherUser      ProfileSnapshot `json:"other_user"`
	LastMessage    string          `json:"last_message"`
	LastMessageAt  time.Time       `json:"last_message_at"`
	UnreadCount    int             `json:"unread_count"`
	IsFocused      bool            `json:"is_focused"`

	// Synthetic marks a thread created locally by OpenChatWith before any
	// conversation row exists; sending the first message materializes it.
	Synthetic bool `json:"-"`
}

// ChatMessage is the dock's cached view of a message, with sender snapshot
// and local read/pending flags.
type ChatMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Sender         ProfileSnapshot `json:"sender"`
	Body           string          `json:"body"`
	CreatedAt      time.Time       `json:"created_at"`
	Read           bool            `json:"read"`
	Pending        bool            `json:"pending"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
}

// ThreadStore caches one user's threads and the messages of whichever
// conversation is active, and implements the resolve-or-create OpenChatWith
// state machine. It is the fallback implementation; when a window manager is
// wired in as delegate, OpenChatWith hands over to it entirely.
type ThreadStore struct {
	mu       sync.Mutex
	userID   string
	graph    SocialGraph
	store    MessagingStore
	delegate OpenChatFunc
	logger   zerolog.Logger
	now      func() time.Time

	threads       []*Thread
	messages      map[string][]ChatMessage
	activeThread  string
	dockOpen      bool
	dockMinimized bool
	activeTab     Tab
}

// NewThreadStore constructs the thread store for one signed-in user.
func NewThreadStore(userID string, graph SocialGraph, store MessagingStore, logger zerolog.Logger) *ThreadStore {
	return &ThreadStore{
		userID:    userID,
		graph:     graph,
		store:     store,
		logger:    logger.With().Str("component", "thread_store").Str("user_id", userID).Logger(),
		now:       time.Now,
		messages:  make(map[string][]ChatMessage),
		activeTab: TabFocused,
	}
}

// SetDelegate wires in a richer OpenChatWith implementation (the window
// manager path). Last call wins, mirroring the registry contract.
func (s *ThreadStore) SetDelegate(fn OpenChatFunc) {
	s.mu.Lock()
	s.delegate = fn
	s.mu.Unlock()
}

// FetchThreads loads all conversations the user participates in, resolves
// the other participants' profiles in one batched lookup and rebuilds the
// thread list. Unread counts already tracked locally survive the refresh.
func (s *ThreadStore) FetchThreads(ctx context.Context) ([]Thread, error) {
	conversations, err := s.store.ListForUser(ctx, s.userID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to fetch conversations, keeping cached threads")
		return s.Threads(), err
	}

	otherIDs := make([]string, 0, len(conversations))
	seen := make(map[string]struct{}, len(conversations))
	for _, conversation := range conversations {
		other := conversation.OtherParticipant(s.userID)
		if _, ok := seen[other]; !ok {
			seen[other] = struct{}{}
			otherIDs = append(otherIDs, other)
		}
	}

	profiles := s.resolveProfiles(ctx, otherIDs)

	s.mu.Lock()
	previousUnread := make(map[string]int, len(s.threads))
	for _, thread := range s.threads {
		previousUnread[thread.ConversationID] = thread.UnreadCount
	}

	threads := make([]*Thread, 0, len(conversations))
	for _, conversation := range conversations {
		other := conversation.OtherParticipant(s.userID)
		thread := &Thread{
			ID:             conversation.ID,
			ConversationID: conversation.ID,
			OtherUser:      snapshotFor(profiles, other),
			LastMessage:    placeholderLastMessage,
			LastMessageAt:  conversation.LastMessageAt,
			UnreadCount:    previousUnread[conversation.ID],
			IsFocused:      true,
		}
		if cached, ok := s.messages[conversation.ID]; ok && len(cached) > 0 {
			thread.LastMessage = cached[len(cached)-1].Body
		}
		threads = append(threads, thread)
	}
	s.threads = threads
	s.mu.Unlock()

	return s.Threads(), nil
}

// FetchMessages loads the full message list for a conversation, sorts it by
// creation time ascending regardless of storage order, resolves sender
// profiles in one batched lookup and replaces the local cache. Messages are
// marked read locally; unread state lives at the thread level.
func (s *ThreadStore) FetchMessages(ctx context.Context, conversationID string) ([]ChatMessage, error) {
	rows, err := s.store.ListByConversation(ctx, conversationID)
	if err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to fetch messages, keeping cache")
		return s.Messages(conversationID), err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})

	senderIDs := make([]string, 0, 2)
	seen := make(map[string]struct{}, 2)
	for _, row := range rows {
		if _, ok := seen[row.SenderID]; !ok {
			seen[row.SenderID] = struct{}{}
			senderIDs = append(senderIDs, row.SenderID)
		}
	}

	profiles := s.resolveProfiles(ctx, senderIDs)

	messages := make([]ChatMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, ChatMessage{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			SenderID:       row.SenderID,
			Sender:         snapshotFor(profiles, row.SenderID),
			Body:           row.Body,
			CreatedAt:      row.CreatedAt,
			Read:           true,
		})
	}

	s.mu.Lock()
	s.messages[conversationID] = messages
	if thread := s.findByConversation(conversationID); thread != nil && len(messages) > 0 {
		last := messages[len(messages)-1]
		thread.LastMessage = last.Body
		thread.LastMessageAt = last.CreatedAt
	}
	s.mu.Unlock()

	return s.Messages(conversationID), nil
}

// SendMessage appends the message optimistically, persists it, then
// reconciles the optimistic entry with the stored row keyed by a
// client-generated correlation id. Blank bodies are ignored silently and
// return a zero message. On persistence failure the optimistic entry is
// rolled back so cached state matches what the store last confirmed.
func (s *ThreadStore) SendMessage(ctx context.Context, conversationID, body string) (ChatMessage, error) {
	body = strings.TrimSpace(body)
	if body == "" || s.userID == "" {
		return ChatMessage{}, nil
	}

	s.mu.Lock()
	thread := s.findByConversation(conversationID)
	if thread != nil && thread.Synthetic {
		other := thread.OtherUser.ID
		s.mu.Unlock()

		conversation, err := s.store.FindOrCreateDirect(ctx, s.userID, other)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", other).Msg("failed to materialize conversation")
			return ChatMessage{}, err
		}

		s.mu.Lock()
		thread = s.findByConversation(conversationID)
		if thread != nil {
			thread.ConversationID = conversation.ID
			thread.ID = conversation.ID
			thread.Synthetic = false
		}
		if cached, ok := s.messages[conversationID]; ok {
			delete(s.messages, conversationID)
			s.messages[conversation.ID] = cached
		}
		if s.activeThread == conversationID {
			s.activeThread = conversation.ID
		}
		conversationID = conversation.ID
	}

	correlation := uuid.NewString()
	pending := ChatMessage{
		ID:             correlation,
		ConversationID: conversationID,
		SenderID:       s.userID,
		Body:           body,
		CreatedAt:      s.now().UTC(),
		Read:           true,
		Pending:        true,
		CorrelationID:  correlation,
	}
	s.messages[conversationID] = append(s.messages[conversationID], pending)

	var priorLast string
	var priorLastAt time.Time
	if thread = s.findByConversation(conversationID); thread != nil {
		priorLast, priorLastAt = thread.LastMessage, thread.LastMessageAt
		thread.LastMessage = body
		thread.LastMessageAt = pending.CreatedAt
	}
	s.mu.Unlock()

	stored, err := s.store.Append(ctx, conversationID, s.userID, body)

	s.mu.Lock()
	defer s.mu.Unlock()

	cache := s.messages[conversationID]
	index := -1
	for i := range cache {
		if cache[i].CorrelationID == correlation {
			index = i
			break
		}
	}

	if err != nil {
		if index >= 0 {
			s.messages[conversationID] = append(cache[:index], cache[index+1:]...)
		}
		if thread := s.findByConversation(conversationID); thread != nil {
			thread.LastMessage = priorLast
			thread.LastMessageAt = priorLastAt
		}
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("failed to persist message, rolled back optimistic append")
		return ChatMessage{}, err
	}

	reconciled := pending
	reconciled.ID = stored.ID
	reconciled.CreatedAt = stored.CreatedAt
	reconciled.Pending = false
	if index >= 0 {
		cache[index] = reconciled
	}
	if thread := s.findByConversation(conversationID); thread != nil {
		thread.LastMessageAt = stored.CreatedAt
	}

	return reconciled, nil
}

// MarkThreadAsRead zeroes the thread's unread count and flips all cached
// messages to read. Purely local.
func (s *ThreadStore) MarkThreadAsRead(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, thread := range s.threads {
		if thread.ID == threadID {
			thread.UnreadCount = 0
			cache := s.messages[thread.ConversationID]
			for i := range cache {
				cache[i].Read = true
			}
			return
		}
	}
}

// RecordIncoming folds a message that arrived over the realtime channel into
// the cache: appended to the conversation's message list when loaded, and
// bumps the owning thread's preview and unread count (unless the thread is
// currently active).
func (s *ThreadStore) RecordIncoming(message ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cache, ok := s.messages[message.ConversationID]; ok {
		message.Read = s.activeThread == message.ConversationID
		s.messages[message.ConversationID] = append(cache, message)
	}

	thread := s.findByConversation(message.ConversationID)
	if thread == nil {
		return
	}
	thread.LastMessage = message.Body
	thread.LastMessageAt = message.CreatedAt
	if s.activeThread != message.ConversationID && message.SenderID != s.userID {
		thread.UnreadCount++
	}
}

// OpenChatWith is the resolve-or-create entry point. When a richer window
// manager implementation is wired in it delegates entirely; otherwise it
// works against the local thread cache, synthesizing a new thread when
// allowed. Failures come back as (false, nil) so callers can degrade
// gracefully instead of crashing.
func (s *ThreadStore) OpenChatWith(ctx context.Context, userID string, opts OpenChatOptions) (bool, error) {
	s.mu.Lock()
	delegate := s.delegate
	s.mu.Unlock()

	if delegate != nil {
		return delegate(ctx, userID, opts)
	}

	s.mu.Lock()
	var found *Thread
	for _, thread := range s.threads {
		if thread.OtherUser.ID == userID {
			found = thread
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		if !opts.CreateIfMissing {
			return false, nil
		}

		snapshot, ok := s.resolveProfile(ctx, userID)
		if !ok {
			s.logger.Warn().Str("user_id", userID).Msg("could not resolve profile for new chat")
			return false, nil
		}

		found = &Thread{
			ID:            "local-" + uuid.NewString(),
			OtherUser:     snapshot,
			LastMessage:   placeholderLastMessage,
			LastMessageAt: s.now().UTC(),
			IsFocused:     true,
			Synthetic:     true,
		}
		found.ConversationID = found.ID

		s.mu.Lock()
		s.threads = append([]*Thread{found}, s.threads...)
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.dockOpen = true
	s.dockMinimized = false
	s.activeThread = found.ConversationID
	s.activeTab = TabFocused
	s.mu.Unlock()

	return true, nil
}

// Threads returns a copy of the cached thread list.
func (s *ThreadStore) Threads() []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Thread, 0, len(s.threads))
	for _, thread := range s.threads {
		out = append(out, *thread)
	}
	return out
}

// ThreadsForTab filters the cached list by the dock tab classification.
func (s *ThreadStore) ThreadsForTab(tab Tab) []Thread {
	threads := s.Threads()
	out := make([]Thread, 0, len(threads))
	for _, thread := range threads {
		if (tab == TabFocused) == thread.IsFocused {
			out = append(out, thread)
		}
	}
	return out
}

// Messages returns a copy of the cached message list for a conversation.
func (s *ThreadStore) Messages(conversationID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache := s.messages[conversationID]
	out := make([]ChatMessage, len(cache))
	copy(out, cache)
	return out
}

// ActiveThread returns the conversation id of the active thread, if any.
func (s *ThreadStore) ActiveThread() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeThread
}

// DockState reports the single-dock visibility flags the fallback path
// maintains.
func (s *ThreadStore) DockState() (open, minimized bool, tab Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dockOpen, s.dockMinimized, s.activeTab
}

func (s *ThreadStore) findByConversation(conversationID string) *Thread {
	for _, thread := range s.threads {
		if thread.ConversationID == conversationID {
			return thread
		}
	}
	return nil
}

// resolveProfiles batch-resolves ids into snapshots, falling back to an
// empty map on error; callers render id-only placeholders for misses.
func (s *ThreadStore) resolveProfiles(ctx context.Context, ids []string) map[string]ProfileSnapshot {
	out := make(map[string]ProfileSnapshot, len(ids))
	if len(ids) == 0 {
		return out
	}

	profiles, err := s.graph.ResolveByIDs(ctx, ids)
	if err != nil {
		s.logger.Warn().Err(err).Msg("batched profile lookup failed")
		return out
	}

	for _, profile := range profiles {
		out[profile.ID] = NewProfileSnapshot(profile)
	}
	return out
}

// resolveProfile resolves one user via the batched path, falling back to
// the direct single-row fetch before giving up.
func (s *ThreadStore) resolveProfile(ctx context.Context, id string) (ProfileSnapshot, bool) {
	if profiles, err := s.graph.ResolveByIDs(ctx, []string{id}); err == nil {
		for _, profile := range profiles {
			if profile.ID == id {
				return NewProfileSnapshot(profile), true
			}
		}
	}

	profile, err := s.graph.ResolveByID(ctx, id)
	if err != nil {
		return ProfileSnapshot{}, false
	}
	return NewProfileSnapshot(profile), true
}

// NewProfileSnapshot converts a profile row into the dock snapshot shape.
func NewProfileSnapshot(profile models.Profile) ProfileSnapshot {
	return ProfileSnapshot{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		AvatarURL:   profile.AvatarURL,
		Handle:      profile.Handle,
		JobTitle:    profile.JobTitle,
	}
}

func snapshotFor(profiles map[string]ProfileSnapshot, id string) ProfileSnapshot {
	if snapshot, ok := profiles[id]; ok {
		return snapshot
	}
	return ProfileSnapshot{ID: id}
}
