// Package tray provides a system tray interface for starting and stopping
// gesture tracking.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/session"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle   func(active bool)
	onSettings func()
	onQuit     func()
	active     bool
	status     app.Status
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuStatus *systray.MenuItem
	menuLabel  *systray.MenuItem
}

// New creates a new Tray instance. Tracking starts inactive.
func New() *Tray {
	return &Tray{}
}

// OnToggle sets the callback called with the requested activation when the
// toggle menu item is clicked.
func (t *Tray) OnToggle(fn func(active bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called and must run on the main thread.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops the tray event loop.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra gesture tracking")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.active), "Start or stop gesture tracking")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem(statusTitle(t.status.State), "Streaming session status")
	t.menuStatus.Disable()
	t.menuLabel = systray.AddMenuItem(labelTitle(t.status.Label), "Latest gesture description")
	t.menuLabel.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Viewer...", "Open the viewer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	want := !t.active
	callback := t.onToggle
	t.mu.Unlock()

	// The title follows the app through SetStatus
	if callback != nil {
		callback(want)
	}
}

// handleSettings handles the settings menu item click.
func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetStatus updates the menu from the application status.
func (t *Tray) SetStatus(s app.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active = s.Active
	t.status = s

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(s.Active))
	}
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(s.State))
	}
	if t.menuLabel != nil {
		t.menuLabel.SetTitle(labelTitle(s.Label))
	}
}

// IsActive returns the last known activation.
func (t *Tray) IsActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func toggleTitle(active bool) string {
	if active {
		return "■ Stop tracking"
	}
	return "▶ Start tracking"
}

func statusTitle(state session.State) string {
	return "Status: " + state.String()
}

func labelTitle(label string) string {
	if label == "" {
		return "Gesture: none"
	}
	return "Gesture: " + label
}
