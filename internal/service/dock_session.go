package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aifeed/chatdock/internal/dock"
	"github.com/aifeed/chatdock/internal/dto"
	"github.com/aifeed/chatdock/internal/observability"
	"github.com/aifeed/chatdock/internal/repository"
)

// dockSession is one user's live dock: thread store, window manager and
// presence tracker, driven by commands read off the websocket.
type dockSession struct {
	conn     *websocket.Conn
	send     chan dto.DockEvent
	opts     SessionOptions
	service  *dockService
	logger   zerolog.Logger
	threads  *dock.ThreadStore
	windows  *dock.WindowManager
	presence *dock.PresenceTracker
	closed   chan struct{}
	once     sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

func (c *dockSession) reader() {
	defer c.close()

	for {
		var command dto.DockCommand
		if err := c.conn.ReadJSON(&command); err != nil {
			c.logger.Debug().Err(err).Msg("dock read loop ended")
			return
		}

		if err := c.service.validator.Struct(command); err != nil {
			c.emit(dto.DockEvent{Kind: dto.EventError, Error: "invalid command"})
			continue
		}

		c.handle(command)
	}
}

func (c *dockSession) writer() {
	defer c.close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Debug().Err(err).Msg("dock write loop terminated")
				return
			}
		case <-time.After(keepaliveInterval):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug().Err(err).Msg("dock ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *dockSession) handle(command dto.DockCommand) {
	switch command.Kind {
	case dto.CommandOpenChat:
		opened, err := c.threads.OpenChatWith(c.ctx, command.UserID, dock.OpenChatOptions{CreateIfMissing: command.CreateIfMissing})
		c.service.recordOpenChat(opened, err)
		if err != nil || !opened {
			c.emit(dto.DockEvent{Kind: dto.EventError, Error: "unable to open chat"})
		}
	case dto.CommandOpenWindow:
		c.openWindow(command.ConversationID)
	case dto.CommandCloseWindow:
		c.windows.Close(command.ConversationID)
		c.emitWindows()
	case dto.CommandMinimizeWindow:
		c.windows.Minimize(command.ConversationID)
		c.emitWindows()
	case dto.CommandEscape:
		if _, ok := c.windows.MinimizeActive(); ok {
			c.emitWindows()
		}
	case dto.CommandFocusWindow:
		c.windows.Focus(command.ConversationID)
		c.emitWindows()
	case dto.CommandSendMessage:
		c.sendMessage(command.ConversationID, command.Body)
	case dto.CommandMarkRead:
		c.threads.MarkThreadAsRead(command.ThreadID)
		c.emitThreads()
	case dto.CommandSetViewport:
		evicted := c.windows.SetViewport(dock.ViewportForWidth(command.ViewportWidth))
		for range evicted {
			observability.WindowEvictions().Inc()
		}
		c.emitWindows()
	}
}

// openChatWith is the window-manager implementation of the resolve-or-create
// entry point. The thread store delegates here, and the service routes
// registry invocations for this user here while the session lives.
func (c *dockSession) openChatWith(ctx context.Context, userID string, opts dock.OpenChatOptions) (bool, error) {
	if userID == "" || userID == c.opts.UserID {
		return false, nil
	}

	var conversationID string
	var snapshot *dock.ProfileSnapshot
	for _, thread := range c.threads.Threads() {
		if thread.OtherUser.ID == userID && !thread.Synthetic {
			conversationID = thread.ConversationID
			snap := thread.OtherUser
			snapshot = &snap
			break
		}
	}

	if conversationID == "" {
		if !opts.CreateIfMissing {
			return false, nil
		}

		snap, ok := c.service.resolveProfile(ctx, userID)
		if !ok {
			c.logger.Warn().Str("target_id", userID).Msg("could not resolve profile for new chat window")
			return false, nil
		}

		conversation, err := c.service.store.FindOrCreateDirect(ctx, c.opts.UserID, userID)
		if err != nil {
			c.logger.Warn().Err(err).Str("target_id", userID).Msg("could not resolve conversation")
			return false, nil
		}

		conversationID = conversation.ID
		snapshot = &snap

		if _, err := c.threads.FetchThreads(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("thread refresh after create failed")
		}
	}

	result := c.windows.Open(conversationID, snapshot)
	if result.Evicted != "" {
		observability.WindowEvictions().Inc()
	}

	c.emitWindows()
	c.emitThreads()

	if last := c.service.fetchLastMessage(ctx, conversationID); last != nil {
		c.emit(dto.DockEvent{Kind: dto.EventMessage, Message: last})
	}

	return true, nil
}

// openWindow opens a window for an already-known conversation. Conversations
// outside the thread cache are looked up and refused unless this user is a
// participant.
func (c *dockSession) openWindow(conversationID string) {
	var snapshot *dock.ProfileSnapshot
	for _, thread := range c.threads.Threads() {
		if thread.ConversationID == conversationID {
			snap := thread.OtherUser
			snapshot = &snap
			break
		}
	}

	if snapshot == nil {
		conversation, err := c.service.conversations.GetByID(c.ctx, conversationID)
		if err != nil || !conversation.HasParticipant(c.opts.UserID) {
			c.emit(dto.DockEvent{Kind: dto.EventError, Error: "unknown conversation"})
			return
		}
		if snap, ok := c.service.resolveProfile(c.ctx, conversation.OtherParticipant(c.opts.UserID)); ok {
			snapshot = &snap
		}
	}

	result := c.windows.Open(conversationID, snapshot)
	if result.Evicted != "" {
		observability.WindowEvictions().Inc()
	}
	c.emitWindows()
}

func (c *dockSession) sendMessage(conversationID, body string) {
	clean := c.service.sanitizer.Sanitize(body)

	ctx, span := c.service.tracer.Start(c.ctx, "dock.send_message", trace.WithAttributes(
		attribute.String("dock.conversation_id", conversationID),
		attribute.String("dock.sender_id", c.opts.UserID),
	))
	defer span.End()

	// Synthetic thread ids have no row yet; anything persisted must belong to
	// the sender.
	if existing, err := c.service.conversations.GetByID(ctx, conversationID); err == nil {
		if !existing.HasParticipant(c.opts.UserID) {
			c.emit(dto.DockEvent{Kind: dto.EventError, Error: "unknown conversation"})
			return
		}
	} else if !errors.Is(err, repository.ErrConversationNotFound) {
		span.RecordError(err)
		c.emit(dto.DockEvent{Kind: dto.EventError, Error: "message not sent"})
		return
	}

	message, err := c.threads.SendMessage(ctx, conversationID, clean)
	if err != nil {
		span.RecordError(err)
		c.emit(dto.DockEvent{Kind: dto.EventError, Error: "message not sent"})
		return
	}
	if message.ID == "" {
		return
	}

	observability.MessagesSent().Inc()

	response := dto.NewMessageResponse(message)
	c.service.cacheLastMessage(ctx, response)

	participants := c.fanoutParticipants(ctx, message.ConversationID)

	c.service.deliver(participants, c, message)
	c.service.publish(ctx, dockFanoutEvent{Message: response, Participants: participants})

	// Invalidate-and-reload keeps the cache authoritative and picks up any
	// messages that raced with this send.
	if list, err := c.threads.FetchMessages(ctx, message.ConversationID); err == nil {
		c.emit(dto.DockEvent{Kind: dto.EventMessages, Messages: dto.NewMessageResponseSlice(list)})
	}
	c.emitThreads()
}

// fanoutParticipants resolves the delivery set from the conversation row so a
// recipient is reached even when the sender's thread cache is stale. The cache
// is only a fallback for rows the store cannot return.
func (c *dockSession) fanoutParticipants(ctx context.Context, conversationID string) []string {
	if conversation, err := c.service.conversations.GetByID(ctx, conversationID); err == nil {
		return conversation.Participants()
	}

	participants := []string{c.opts.UserID}
	for _, thread := range c.threads.Threads() {
		if thread.ConversationID == conversationID {
			participants = append(participants, thread.OtherUser.ID)
			break
		}
	}
	return participants
}

// loadMessages is the window manager's hook for newly created windows; the
// load is asynchronous so opening a window never blocks on the store.
func (c *dockSession) loadMessages(conversationID string) {
	go func() {
		list, err := c.threads.FetchMessages(c.ctx, conversationID)
		if err != nil {
			return
		}
		c.emit(dto.DockEvent{Kind: dto.EventMessages, Messages: dto.NewMessageResponseSlice(list)})
	}()
}

func (c *dockSession) emit(event dto.DockEvent) {
	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.send <- event:
	default:
		c.logger.Warn().Str("kind", event.Kind).Msg("dropping dock event for slow session")
	}
}

func (c *dockSession) emitThreads() {
	c.emit(dto.DockEvent{Kind: dto.EventThreads, Threads: dto.NewThreadResponseSlice(c.threads.Threads())})
}

func (c *dockSession) emitWindows() {
	c.emit(dto.DockEvent{Kind: dto.EventWindowState, Windows: dto.NewWindowState(c.windows)})
}

func (c *dockSession) close() {
	c.once.Do(func() {
		close(c.closed)
		c.cancel()
		if c.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			c.presence.Close(ctx)
			cancel()
		}
		c.service.unregister(c)
		observability.SessionsActive().Dec()
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
