package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aifeed/chatdock/internal/dock"
	"github.com/aifeed/chatdock/internal/dto"
	"github.com/aifeed/chatdock/internal/observability"
	"github.com/aifeed/chatdock/internal/repository"
)

const (
	defaultSendBufferSize = 32
	defaultViewportWidth  = 1280
	keepaliveInterval     = 30 * time.Second
)

// ErrNotParticipant indicates the requesting user does not belong to the
// conversation they tried to read or write.
var ErrNotParticipant = errors.New("user is not a conversation participant")

// SessionOptions wraps metadata extracted during the HTTP upgrade.
type SessionOptions struct {
	UserID        string
	ViewportWidth int
	CorrelationID string
	Context       context.Context
}

// DockService owns every live dock session on this node, the registry
// integration and the cross-node event fanout.
type DockService interface {
	ServeConnection(conn *websocket.Conn, opts SessionOptions)
	Threads(ctx context.Context, userID string) ([]dto.ThreadResponse, error)
	Messages(ctx context.Context, userID, conversationID string) ([]dto.MessageResponse, error)
	OpenChat(ctx context.Context, userID string, opts dock.OpenChatOptions) (bool, error)
	Online(ctx context.Context) ([]string, error)
	Start(ctx context.Context)
}

// Options configures the dock service constructor.
type Options struct {
	Conversations   repository.ConversationRepository
	Messages        repository.MessageRepository
	Profiles        repository.ProfileRepository
	Redis           *redis.Client
	NATS            *nats.Conn
	Registry        *dock.Registry
	Validator       *validator.Validate
	Logger          zerolog.Logger
	ChannelBase     string
	LastMessageTTL  time.Duration
	PresenceTTL     time.Duration
	SendBufferSize  int
	DefaultViewport int
}

type dockService struct {
	store         dock.MessagingStore
	conversations repository.ConversationRepository
	graph         dock.SocialGraph
	redis         *redis.Client
	nats          *nats.Conn
	registry      *dock.Registry
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer

	channelBase string
	eventStream string
	cachePrefix string
	presenceSet string
	natsSubject string
	nodeID      string

	lastMessageTTL  time.Duration
	presenceTTL     time.Duration
	sendDepth       int
	defaultViewport int

	mu       sync.RWMutex
	sessions map[string]map[*dockSession]struct{}
}

// dockFanoutEvent is the cross-node envelope for a newly stored message.
type dockFanoutEvent struct {
	Source       string              `json:"source"`
	Message      dto.MessageResponse `json:"message"`
	Participants []string            `json:"participants"`
	SentAt       time.Time           `json:"sent_at"`
}

// NewDockService creates the dock service instance.
func NewDockService(opts Options) DockService {
	sanitizer := bluemonday.StrictPolicy()

	eventStream := ""
	cachePrefix := ""
	presenceSet := ""
	natsSubject := ""
	if opts.ChannelBase != "" {
		eventStream = opts.ChannelBase + ":dock:events"
		cachePrefix = opts.ChannelBase + ":dock:last"
		presenceSet = opts.ChannelBase + ":presence:online"
		natsSubject = strings.ReplaceAll(opts.ChannelBase, ":", ".") + ".dock"
	}

	sendDepth := opts.SendBufferSize
	if sendDepth <= 0 {
		sendDepth = defaultSendBufferSize
	}

	defaultViewport := opts.DefaultViewport
	if defaultViewport <= 0 {
		defaultViewport = defaultViewportWidth
	}

	return &dockService{
		store:           messagingStoreFor(opts.Conversations, opts.Messages),
		conversations:   opts.Conversations,
		graph:           opts.Profiles,
		redis:           opts.Redis,
		nats:            opts.NATS,
		registry:        opts.Registry,
		validator:       opts.Validator,
		sanitizer:       sanitizer,
		logger:          opts.Logger.With().Str("component", "dock_service").Logger(),
		tracer:          otel.Tracer("github.com/aifeed/chatdock/internal/service/dock"),
		channelBase:     opts.ChannelBase,
		eventStream:     eventStream,
		cachePrefix:     cachePrefix,
		presenceSet:     presenceSet,
		natsSubject:     natsSubject,
		nodeID:          uuid.NewString(),
		lastMessageTTL:  opts.LastMessageTTL,
		presenceTTL:     opts.PresenceTTL,
		sendDepth:       sendDepth,
		defaultViewport: defaultViewport,
		sessions:        make(map[string]map[*dockSession]struct{}),
	}
}

// Start registers the process-wide OpenChatWith implementation and begins
// consuming fanout events. Until Start runs, registry invocations fail with
// ErrNotInitialized.
func (s *dockService) Start(ctx context.Context) {
	if s.registry != nil {
		s.registry.Register(s.OpenChat)
	}
	if s.redis != nil && s.eventStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

// OpenChat is the registered OpenChatWith implementation. The acting user is
// carried in ctx; the target user is the argument. A live session routes
// through its window manager; otherwise the fallback thread-store path
// resolves the request without opening any window.
func (s *dockService) OpenChat(ctx context.Context, userID string, opts dock.OpenChatOptions) (bool, error) {
	actor := dock.ActorFromContext(ctx)
	if actor == "" || userID == "" || actor == userID {
		observability.OpenChats().WithLabelValues("rejected").Inc()
		return false, nil
	}

	ctx, span := s.tracer.Start(ctx, "dock.open_chat", trace.WithAttributes(
		attribute.String("dock.actor_id", actor),
		attribute.String("dock.target_id", userID),
		attribute.Bool("dock.create_if_missing", opts.CreateIfMissing),
	))
	defer span.End()

	if session := s.sessionFor(actor); session != nil {
		opened, err := session.openChatWith(ctx, userID, opts)
		s.recordOpenChat(opened, err)
		return opened, err
	}

	threads := dock.NewThreadStore(actor, s.graph, s.store, s.logger)
	if _, err := threads.FetchThreads(ctx); err != nil {
		s.recordOpenChat(false, nil)
		return false, nil
	}

	opened, err := threads.OpenChatWith(ctx, userID, opts)
	s.recordOpenChat(opened, err)
	return opened, err
}

// Threads resolves the thread list for the REST surface.
func (s *dockService) Threads(ctx context.Context, userID string) ([]dto.ThreadResponse, error) {
	threads := dock.NewThreadStore(userID, s.graph, s.store, s.logger)
	list, err := threads.FetchThreads(ctx)
	if err != nil {
		return nil, err
	}
	return dto.NewThreadResponseSlice(list), nil
}

// Messages resolves a conversation's message history for the REST surface,
// always in ascending creation order. Only participants may read it.
func (s *dockService) Messages(ctx context.Context, userID, conversationID string) ([]dto.MessageResponse, error) {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	threads := dock.NewThreadStore(userID, s.graph, s.store, s.logger)
	list, err := threads.FetchMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return dto.NewMessageResponseSlice(list), nil
}

// Online returns the shared presence snapshot.
func (s *dockService) Online(ctx context.Context) ([]string, error) {
	if s.redis == nil || s.presenceSet == "" {
		return nil, nil
	}
	return s.redis.SMembers(ctx, s.presenceSet).Result()
}

// newSession assembles the per-connection state: cancelable actor context,
// thread store, window manager and a logger stamped with the upgrade
// request's correlation id. An unreported viewport width falls back to the
// configured default.
func (s *dockService) newSession(conn *websocket.Conn, opts SessionOptions) *dockSession {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	sessionCtx, cancel := context.WithCancel(dock.WithActor(baseCtx, opts.UserID))

	logger := s.logger.With().Str("user_id", opts.UserID).Logger()
	if opts.CorrelationID != "" {
		logger = logger.With().Str("correlation_id", opts.CorrelationID).Logger()
	}

	width := opts.ViewportWidth
	if width <= 0 {
		width = s.defaultViewport
	}

	session := &dockSession{
		conn:    conn,
		send:    make(chan dto.DockEvent, s.sendDepth),
		opts:    opts,
		service: s,
		logger:  logger,
		closed:  make(chan struct{}),
		ctx:     sessionCtx,
		cancel:  cancel,
	}

	session.threads = dock.NewThreadStore(opts.UserID, s.graph, s.store, logger)
	session.windows = dock.NewWindowManager(dock.ViewportForWidth(width), session.loadMessages, logger)
	session.threads.SetDelegate(session.openChatWith)

	return session
}

// ServeConnection runs one dock session over the websocket until the client
// disconnects. Everything the session owns (thread store, window manager,
// presence tracker) is torn down with it.
func (s *dockService) ServeConnection(conn *websocket.Conn, opts SessionOptions) {
	session := s.newSession(conn, opts)
	sessionCtx := session.ctx

	if s.redis != nil && s.channelBase != "" {
		session.presence = dock.NewPresenceTracker(s.redis, s.channelBase, opts.UserID, s.presenceTTL, s.logger)
		session.presence.SetOnChange(func(event dock.PresenceEvent, online []string) {
			observability.PresenceEvents().WithLabelValues(event.Kind).Inc()
			session.emit(dto.DockEvent{Kind: dto.EventPresence, Presence: online})
		})
		if err := session.presence.Start(sessionCtx); err != nil {
			s.logger.Warn().Err(err).Msg("presence tracker failed to start")
			session.presence = nil
		}
	}

	s.register(session)
	observability.SessionsActive().Inc()

	if list, err := session.threads.FetchThreads(sessionCtx); err == nil {
		session.emit(dto.DockEvent{Kind: dto.EventThreads, Threads: dto.NewThreadResponseSlice(list)})
	}
	if session.presence != nil {
		session.emit(dto.DockEvent{Kind: dto.EventPresence, Presence: session.presence.Online()})
	}

	go session.writer()
	session.reader()
}

func (s *dockService) register(session *dockSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := session.opts.UserID
	if _, ok := s.sessions[userID]; !ok {
		s.sessions[userID] = make(map[*dockSession]struct{})
	}
	s.sessions[userID][session] = struct{}{}
	s.logger.Debug().Str("user_id", userID).Msg("dock session connected")
}

func (s *dockService) unregister(session *dockSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := session.opts.UserID
	if sessions, ok := s.sessions[userID]; ok {
		delete(sessions, session)
		if len(sessions) == 0 {
			delete(s.sessions, userID)
		}
	}
	s.logger.Debug().Str("user_id", userID).Msg("dock session disconnected")
}

func (s *dockService) sessionFor(userID string) *dockSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for session := range s.sessions[userID] {
		return session
	}
	return nil
}

// resolveProfile resolves one user snapshot via the batched path, falling
// back to the direct single-row fetch before giving up.
func (s *dockService) resolveProfile(ctx context.Context, id string) (dock.ProfileSnapshot, bool) {
	if profiles, err := s.graph.ResolveByIDs(ctx, []string{id}); err == nil {
		for _, profile := range profiles {
			if profile.ID == id {
				return dock.NewProfileSnapshot(profile), true
			}
		}
	}

	profile, err := s.graph.ResolveByID(ctx, id)
	if err != nil {
		return dock.ProfileSnapshot{}, false
	}
	return dock.NewProfileSnapshot(profile), true
}

func (s *dockService) recordOpenChat(opened bool, err error) {
	outcome := "opened"
	if err != nil {
		outcome = "error"
	} else if !opened {
		outcome = "not_opened"
	}
	observability.OpenChats().WithLabelValues(outcome).Inc()
}

// deliver routes a stored message to every local session of the given
// participants, except the originating session.
func (s *dockService) deliver(participants []string, origin *dockSession, message dock.ChatMessage) {
	s.mu.RLock()
	targets := make([]*dockSession, 0, 2)
	for _, participant := range participants {
		for session := range s.sessions[participant] {
			if session != origin {
				targets = append(targets, session)
			}
		}
	}
	s.mu.RUnlock()

	for _, session := range targets {
		session.threads.RecordIncoming(message)
		response := dto.NewMessageResponse(message)
		session.emit(dto.DockEvent{Kind: dto.EventMessage, Message: &response})
		session.emitThreads()
	}
}

func (s *dockService) publish(ctx context.Context, event dockFanoutEvent) {
	event.Source = s.nodeID
	event.SentAt = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal dock event")
		return
	}

	if s.redis != nil && s.eventStream != "" {
		if err := s.redis.Publish(ctx, s.eventStream, payload).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish dock event to redis")
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish dock event to nats")
		}
	}
}

func (s *dockService) cacheLastMessage(ctx context.Context, message dto.MessageResponse) {
	if s.redis == nil || s.cachePrefix == "" {
		return
	}

	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal message for cache")
		return
	}

	key := s.cachePrefix + ":" + message.ConversationID
	if err := s.redis.Set(ctx, key, payload, s.lastMessageTTL).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache last message")
	}
}

func (s *dockService) fetchLastMessage(ctx context.Context, conversationID string) *dto.MessageResponse {
	if s.redis == nil || s.cachePrefix == "" {
		return nil
	}

	result, err := s.redis.Get(ctx, s.cachePrefix+":"+conversationID).Result()
	if err != nil {
		return nil
	}

	var message dto.MessageResponse
	if err := json.Unmarshal([]byte(result), &message); err != nil {
		s.logger.Warn().Err(err).Msg("failed to unmarshal cached message")
		return nil
	}

	return &message
}

func (s *dockService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.eventStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("dock redis subscription closed")
			return
		}
		s.handleFanout([]byte(msg.Payload))
	}
}

func (s *dockService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "aifeed-dock", func(msg *nats.Msg) {
		s.handleFanout(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats dock subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain dock nats subscription")
		}
	}()
}

func (s *dockService) handleFanout(data []byte) {
	var event dockFanoutEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid dock event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	message := dock.ChatMessage{
		ID:             event.Message.ID,
		ConversationID: event.Message.ConversationID,
		SenderID:       event.Message.SenderID,
		Body:           event.Message.Body,
		CreatedAt:      event.Message.CreatedAt,
		Sender: dock.ProfileSnapshot{
			ID:          event.Message.Sender.ID,
			DisplayName: event.Message.Sender.DisplayName,
			AvatarURL:   event.Message.Sender.AvatarURL,
			Handle:      event.Message.Sender.Handle,
			JobTitle:    event.Message.Sender.JobTitle,
		},
	}
	s.deliver(event.Participants, nil, message)
}
