package dock

import (
	"sync"

	"github.com/rs/zerolog"
)

// Viewport buckets the client's reported width into the dock layout classes.
type Viewport int

// Viewport classes in ascending width order.
const (
	ViewportMobile Viewport = iota
	ViewportTablet
	ViewportDesktop
)

// ViewportForWidth maps a pixel width to a viewport class.
func ViewportForWidth(px int) Viewport {
	switch {
	case px >= 1024:
		return ViewportDesktop
	case px >= 768:
		return ViewportTablet
	default:
		return ViewportMobile
	}
}

// Capacity returns the maximum number of concurrent chat windows for the
// viewport. Minimized windows count toward the limit.
func (v Viewport) Capacity() int {
	switch v {
	case ViewportDesktop:
		return 3
	case ViewportTablet:
		return 2
	default:
		return 1
	}
}

func (v Viewport) String() string {
	switch v {
	case ViewportDesktop:
		return "desktop"
	case ViewportTablet:
		return "tablet"
	default:
		return "mobile"
	}
}

// ProfileSnapshot is the denormalized user info a window or thread renders.
type ProfileSnapshot struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Handle      string `json:"handle"`
	JobTitle    string `json:"job_title"`
}

// Window is one visible chat surface bound to a conversation. Windows are
// session-local state and are never persisted.
type Window struct {
	ConversationID string           `json:"conversation_id"`
	OtherUser      *ProfileSnapshot `json:"other_user,omitempty"`
	Minimized      bool             `json:"minimized"`
	ZIndex         int              `json:"z_index"`
}

// OpenResult describes what Open did to the collection.
type OpenResult struct {
	Created bool
	Evicted string
}

// WindowManager owns the capacity-bounded collection of chat windows for one
// dock session. Insertion order is kept so eviction is FIFO by open time, not
// least-recently-focused. ZIndex values only ever grow, so the window with
// the maximum ZIndex is the focused one.
type WindowManager struct {
	mu           sync.Mutex
	viewport     Viewport
	windows      []*Window
	activeID     string
	nextZ        int
	loadMessages func(conversationID string)
	logger       zerolog.Logger
}

// NewWindowManager constructs a window manager for the given viewport.
// loadMessages, when non-nil, is invoked once for every newly created window
// so the session can start an asynchronous message load; re-focusing an
// existing window never triggers it.
func NewWindowManager(viewport Viewport, loadMessages func(conversationID string), logger zerolog.Logger) *WindowManager {
	return &WindowManager{
		viewport:     viewport,
		loadMessages: loadMessages,
		logger:       logger.With().Str("component", "window_manager").Logger(),
	}
}

// Open makes the conversation's window visible and focused. An existing
// window is un-minimized and raised instead of duplicated. At capacity the
// oldest window is evicted first.
func (m *WindowManager) Open(conversationID string, otherUser *ProfileSnapshot) OpenResult {
	m.mu.Lock()

	if existing := m.find(conversationID); existing != nil {
		existing.Minimized = false
		existing.ZIndex = m.raise()
		if otherUser != nil {
			existing.OtherUser = otherUser
		}
		m.activeID = conversationID
		m.mu.Unlock()
		return OpenResult{}
	}

	result := OpenResult{Created: true}
	if len(m.windows) >= m.viewport.Capacity() {
		evicted := m.windows[0]
		m.windows = m.windows[1:]
		if m.activeID == evicted.ConversationID {
			m.activeID = ""
		}
		result.Evicted = evicted.ConversationID
		m.logger.Debug().
			Str("conversation_id", evicted.ConversationID).
			Str("viewport", m.viewport.String()).
			Msg("evicted oldest chat window")
	}

	m.windows = append(m.windows, &Window{
		ConversationID: conversationID,
		OtherUser:      otherUser,
		ZIndex:         m.raise(),
	})
	m.activeID = conversationID
	load := m.loadMessages
	m.mu.Unlock()

	if load != nil {
		load(conversationID)
	}

	return result
}

// Close removes the window entirely and reports whether it existed.
func (m *WindowManager) Close(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, window := range m.windows {
		if window.ConversationID == conversationID {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			if m.activeID == conversationID {
				m.activeID = ""
			}
			return true
		}
	}

	return false
}

// Minimize collapses the window without removing it; it still counts toward
// capacity.
func (m *WindowManager) Minimize(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.find(conversationID)
	if window == nil {
		return false
	}

	window.Minimized = true
	if m.activeID == conversationID {
		m.activeID = ""
	}
	return true
}

// MinimizeActive collapses whichever window is active, returning its
// conversation id. Used for the Escape-key contract.
func (m *WindowManager) MinimizeActive() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeID == "" {
		return "", false
	}

	window := m.find(m.activeID)
	if window == nil {
		m.activeID = ""
		return "", false
	}

	window.Minimized = true
	id := m.activeID
	m.activeID = ""
	return id, true
}

// Focus restores and raises the window without reloading its messages.
func (m *WindowManager) Focus(conversationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.find(conversationID)
	if window == nil {
		return false
	}

	window.Minimized = false
	window.ZIndex = m.raise()
	m.activeID = conversationID
	return true
}

// SetViewport re-buckets the session's capacity. Excess windows are evicted
// oldest-first so the invariant holds after a shrink.
func (m *WindowManager) SetViewport(viewport Viewport) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.viewport = viewport

	var evicted []string
	for len(m.windows) > viewport.Capacity() {
		oldest := m.windows[0]
		m.windows = m.windows[1:]
		if m.activeID == oldest.ConversationID {
			m.activeID = ""
		}
		evicted = append(evicted, oldest.ConversationID)
	}

	return evicted
}

// Viewport returns the current viewport class.
func (m *WindowManager) Viewport() Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

// Active returns the conversation id of the focused window, if any.
func (m *WindowManager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Windows returns the collection in insertion order.
func (m *WindowManager) Windows() []Window {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Window, 0, len(m.windows))
	for _, window := range m.windows {
		out = append(out, *window)
	}
	return out
}

// FirstVisible returns the window the mobile overlay shows: the first
// non-minimized one in insertion order. When all windows are minimized the
// overlay renders nothing.
func (m *WindowManager) FirstVisible() (Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, window := range m.windows {
		if !window.Minimized {
			return *window, true
		}
	}
	return Window{}, false
}

// Len reports how many windows exist, minimized included.
func (m *WindowManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *WindowManager) find(conversationID string) *Window {
	for _, window := range m.windows {
		if window.ConversationID == conversationID {
			return window
		}
	}
	return nil
}

func (m *WindowManager) raise() int {
	m.nextZ++
	return m.nextZ
}
