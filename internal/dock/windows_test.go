package dock

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestViewportForWidth(t *testing.T) {
	require.Equal(t, ViewportMobile, ViewportForWidth(320))
	require.Equal(t, ViewportMobile, ViewportForWidth(767))
	require.Equal(t, ViewportTablet, ViewportForWidth(768))
	require.Equal(t, ViewportTablet, ViewportForWidth(1023))
	require.Equal(t, ViewportDesktop, ViewportForWidth(1024))
	require.Equal(t, ViewportDesktop, ViewportForWidth(2560))
}

func TestViewportCapacity(t *testing.T) {
	require.Equal(t, 1, ViewportMobile.Capacity())
	require.Equal(t, 2, ViewportTablet.Capacity())
	require.Equal(t, 3, ViewportDesktop.Capacity())
}

func TestWindowManagerOpenIsIdempotent(t *testing.T) {
	loads := 0
	manager := NewWindowManager(ViewportDesktop, func(string) { loads++ }, testLogger())

	first := manager.Open("conv-1", &ProfileSnapshot{ID: "u2"})
	require.True(t, first.Created)
	require.Empty(t, first.Evicted)
	require.Equal(t, 1, loads)

	again := manager.Open("conv-1", nil)
	require.False(t, again.Created)
	require.Empty(t, again.Evicted)
	require.Equal(t, 1, loads, "re-opening must not reload messages")

	require.Equal(t, 1, manager.Len())
	require.Equal(t, "conv-1", manager.Active())
}

func TestWindowManagerReopenRestoresMinimized(t *testing.T) {
	manager := NewWindowManager(ViewportDesktop, nil, testLogger())

	manager.Open("conv-1", nil)
	require.True(t, manager.Minimize("conv-1"))
	require.Empty(t, manager.Active())

	result := manager.Open("conv-1", nil)
	require.False(t, result.Created)

	windows := manager.Windows()
	require.Len(t, windows, 1)
	require.False(t, windows[0].Minimized)
	require.Equal(t, "conv-1", manager.Active())
}

func TestWindowManagerEvictsOldestAtCapacity(t *testing.T) {
	manager := NewWindowManager(ViewportDesktop, nil, testLogger())

	manager.Open("conv-1", nil)
	manager.Open("conv-2", nil)
	manager.Open("conv-3", nil)
	require.Equal(t, 3, manager.Len())

	result := manager.Open("conv-4", nil)
	require.True(t, result.Created)
	require.Equal(t, "conv-1", result.Evicted)
	require.Equal(t, 3, manager.Len())

	windows := manager.Windows()
	require.Equal(t, "conv-2", windows[0].ConversationID)
	require.Equal(t, "conv-3", windows[1].ConversationID)
	require.Equal(t, "conv-4", windows[2].ConversationID)
}

func TestWindowManagerMinimizedCountsTowardCapacity(t *testing.T) {
	manager := NewWindowManager(ViewportTablet, nil, testLogger())

	manager.Open("conv-1", nil)
	manager.Open("conv-2", nil)
	require.True(t, manager.Minimize("conv-1"))

	result := manager.Open("conv-3", nil)
	require.True(t, result.Created)
	require.Equal(t, "conv-1", result.Evicted, "minimized window is still the eviction candidate")
}

func TestWindowManagerMobileCapacityOne(t *testing.T) {
	manager := NewWindowManager(ViewportMobile, nil, testLogger())

	manager.Open("conv-1", nil)
	result := manager.Open("conv-2", nil)
	require.True(t, result.Created)
	require.Equal(t, "conv-1", result.Evicted)

	visible, ok := manager.FirstVisible()
	require.True(t, ok)
	require.Equal(t, "conv-2", visible.ConversationID)
}

func TestWindowManagerFirstVisibleSkipsMinimized(t *testing.T) {
	manager := NewWindowManager(ViewportDesktop, nil, testLogger())

	manager.Open("conv-1", nil)
	manager.Open("conv-2", nil)
	require.True(t, manager.Minimize("conv-1"))

	visible, ok := manager.FirstVisible()
	require.True(t, ok)
	require.Equal(t, "conv-2", visible.ConversationID)

	require.True(t, manager.Minimize("conv-2"))
	_, ok = manager.FirstVisible()
	require.False(t, ok, "all-minimized dock renders nothing")
}

func TestWindowManagerFocusRaisesWithoutReload(t *testing.T) {
	loads := 0
	manager := NewWindowManager(ViewportDesktop, func(string) { loads++ }, testLogger())

	manager.Open("conv-1", nil)
	manager.Open("conv-2", nil)
	require.Equal(t, 2, loads)

	require.True(t, manager.Focus("conv-1"))
	require.Equal(t, 2, loads, "focus must not reload messages")
	require.Equal(t, "conv-1", manager.Active())

	windows := manager.Windows()
	require.Greater(t, windows[0].ZIndex, windows[1].ZIndex, "focused window holds the max z-index")
}

func TestWindowManagerZIndexOnlyGrows(t *testing.T) {
	manager := NewWindowManager(ViewportDesktop, nil, testLogger())

	manager.Open("conv-1", nil)
	manager.Open("conv-2", nil)
	manager.Focus("conv-1")
	manager.Focus("conv-2")

	windows := manager.Windows()
	seen := make(map[int]struct{}, len(windows))
	for _, window := range windows {
		_, dup := seen[window.ZIndex]
		require.False(t, dup, "z-index values must stay unique")
		seen[window.ZIndex] = struct{}{}
	}
}

func TestWindowManagerCloseRemovesWindow(t *testing.T) {
	manager := NewWindowManager(ViewportDesktop, nil, testLogger())

	manager.Open("conv-1", nil)
	manager.Open("conv-2", nil)

	require.True(t, manager.Close("conv-2"))
	require.False(t, manager.Close("conv-2"))
	require.Equal(t, 1, manager.Len())
	require.Empty(t, manager.Active(), "closing the active window clears focus")

	result := manager.Open("conv-3", nil)
	require.True(t, result.Created)
	require.Empty(t, result.Evicted, "freed slot is reusable")
}

func TestWindowManagerMinimizeActive(t *testing.T) {
	manager := NewWindowManager(ViewportDesktop, nil, testLogger())

	_, ok := manager.MinimizeActive()
	require.False(t, ok)

	manager.Open("conv-1", nil)
	id, ok := manager.MinimizeActive()
	require.True(t, ok)
	require.Equal(t, "conv-1", id)
	require.Empty(t, manager.Active())

	windows := manager.Windows()
	require.True(t, windows[0].Minimized)
}

func TestWindowManagerSetViewportShrinkTrimsOldest(t *testing.T) {
	manager := NewWindowManager(ViewportDesktop, nil, testLogger())

	manager.Open("conv-1", nil)
	manager.Open("conv-2", nil)
	manager.Open("conv-3", nil)

	evicted := manager.SetViewport(ViewportMobile)
	require.Equal(t, []string{"conv-1", "conv-2"}, evicted)
	require.Equal(t, 1, manager.Len())
	require.Equal(t, ViewportMobile, manager.Viewport())

	windows := manager.Windows()
	require.Equal(t, "conv-3", windows[0].ConversationID)
}

func TestWindowManagerSetViewportGrowKeepsWindows(t *testing.T) {
	manager := NewWindowManager(ViewportMobile, nil, testLogger())

	manager.Open("conv-1", nil)
	evicted := manager.SetViewport(ViewportDesktop)
	require.Empty(t, evicted)

	manager.Open("conv-2", nil)
	manager.Open("conv-3", nil)
	require.Equal(t, 3, manager.Len())
}
