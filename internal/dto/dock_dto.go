package dto

import (
	"time"

	"github.com/aifeed/chatdock/internal/dock"
)

// Dock session command kinds sent by clients over the websocket.
const (
	CommandOpenChat       = "open_chat"
	CommandOpenWindow     = "open_window"
	CommandCloseWindow    = "close_window"
	CommandMinimizeWindow = "minimize_window"
	CommandFocusWindow    = "focus_window"
	CommandSendMessage    = "send_message"
	CommandMarkRead       = "mark_read"
	CommandSetViewport    = "set_viewport"
	CommandEscape         = "escape"
)

// Dock session event kinds pushed to clients.
const (
	EventThreads     = "threads"
	EventMessages    = "messages"
	EventMessage     = "message"
	EventWindowState = "window_state"
	EventPresence    = "presence"
	EventError       = "error"
)

// DockCommand is the inbound envelope for one dock session command.
type DockCommand struct {
	Kind            string `json:"kind" validate:"required,oneof=open_chat open_window close_window minimize_window focus_window send_message mark_read set_viewport escape"`
	UserID          string `json:"user_id,omitempty" validate:"omitempty,max=64"`
	ConversationID  string `json:"conversation_id,omitempty" validate:"omitempty,max=64"`
	ThreadID        string `json:"thread_id,omitempty" validate:"omitempty,max=128"`
	Body            string `json:"body,omitempty" validate:"omitempty,max=4000"`
	ViewportWidth   int    `json:"viewport_width,omitempty" validate:"omitempty,min=0,max=10000"`
	CreateIfMissing bool   `json:"create_if_missing,omitempty"`
}

// DockEvent is the outbound envelope for one dock session event.
type DockEvent struct {
	Kind     string            `json:"kind"`
	Threads  []ThreadResponse  `json:"threads,omitempty"`
	Messages []MessageResponse `json:"messages,omitempty"`
	Message  *MessageResponse  `json:"message,omitempty"`
	Windows  *WindowState      `json:"windows,omitempty"`
	Presence []string          `json:"presence,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ThreadResponse is the serialized thread view.
type ThreadResponse struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	OtherUser      ProfileResponse `json:"other_user"`
	LastMessage    string          `json:"last_message"`
	LastMessageAt  time.Time       `json:"last_message_at"`
	UnreadCount    int             `json:"unread_count"`
	IsFocused      bool            `json:"is_focused"`
}

// MessageResponse is the serialized message view.
type MessageResponse struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Sender         ProfileResponse `json:"sender"`
	Body           string          `json:"body"`
	CreatedAt      time.Time       `json:"created_at"`
	Read           bool            `json:"read"`
	Pending        bool            `json:"pending,omitempty"`
}

// ProfileResponse is the denormalized user snapshot sent to clients.
type ProfileResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Handle      string `json:"handle"`
	JobTitle    string `json:"job_title"`
}

// WindowResponse is the serialized view of one chat window.
type WindowResponse struct {
	ConversationID string           `json:"conversation_id"`
	OtherUser      *ProfileResponse `json:"other_user,omitempty"`
	Minimized      bool             `json:"minimized"`
	ZIndex         int              `json:"z_index"`
}

// WindowState snapshots the whole window collection for the client.
type WindowState struct {
	Viewport string           `json:"viewport"`
	Active   string           `json:"active,omitempty"`
	Windows  []WindowResponse `json:"windows"`
}

// OpenChatRequest is the REST payload for opening a chat from a non-dock
// surface (profile cards, share dialogs, notification links).
type OpenChatRequest struct {
	UserID          string `json:"user_id" validate:"required,max=64"`
	CreateIfMissing bool   `json:"create_if_missing"`
}

// OpenChatResponse reports whether a thread was opened or focused.
type OpenChatResponse struct {
	Opened bool `json:"opened"`
}

// NewProfileResponse converts a dock snapshot into its wire shape.
func NewProfileResponse(snapshot dock.ProfileSnapshot) ProfileResponse {
	return ProfileResponse{
		ID:          snapshot.ID,
		DisplayName: snapshot.DisplayName,
		AvatarURL:   snapshot.AvatarURL,
		Handle:      snapshot.Handle,
		JobTitle:    snapshot.JobTitle,
	}
}

// NewThreadResponse converts a dock thread into its wire shape.
func NewThreadResponse(thread dock.Thread) ThreadResponse {
	return ThreadResponse{
		ID:             thread.ID,
		ConversationID: thread.ConversationID,
		OtherUser:      NewProfileResponse(thread.OtherUser),
		LastMessage:    thread.LastMessage,
		LastMessageAt:  thread.LastMessageAt,
		UnreadCount:    thread.UnreadCount,
		IsFocused:      thread.IsFocused,
	}
}

// NewThreadResponseSlice converts a slice of threads into wire shapes.
func NewThreadResponseSlice(threads []dock.Thread) []ThreadResponse {
	out := make([]ThreadResponse, 0, len(threads))
	for _, thread := range threads {
		out = append(out, NewThreadResponse(thread))
	}
	return out
}

// NewMessageResponse converts a dock message into its wire shape.
func NewMessageResponse(message dock.ChatMessage) MessageResponse {
	return MessageResponse{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Sender:         NewProfileResponse(message.Sender),
		Body:           message.Body,
		CreatedAt:      message.CreatedAt,
		Read:           message.Read,
		Pending:        message.Pending,
	}
}

// NewMessageResponseSlice converts a slice of messages into wire shapes.
func NewMessageResponseSlice(messages []dock.ChatMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// NewWindowState snapshots the manager's collection into the wire shape.
func NewWindowState(manager *dock.WindowManager) *WindowState {
	windows := manager.Windows()
	out := make([]WindowResponse, 0, len(windows))
	for _, window := range windows {
		response := WindowResponse{
			ConversationID: window.ConversationID,
			Minimized:      window.Minimized,
			ZIndex:         window.ZIndex,
		}
		if window.OtherUser != nil {
			profile := NewProfileResponse(*window.OtherUser)
			response.OtherUser = &profile
		}
		out = append(out, response)
	}

	return &WindowState{
		Viewport: manager.Viewport().String(),
		Active:   manager.Active(),
		Windows:  out,
	}
}
