package tray

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/session"
)

func TestTitles(t *testing.T) {
	assert.Equal(t, "▶ Start tracking", toggleTitle(false))
	assert.Equal(t, "■ Stop tracking", toggleTitle(true))
	assert.Equal(t, "Status: Connecting", statusTitle(session.StateConnecting))
	assert.Equal(t, "Gesture: none", labelTitle(""))
	assert.Equal(t, "Gesture: OPEN PALM", labelTitle("OPEN PALM"))
}

func TestTray_ToggleRequestsOpposite(t *testing.T) {
	tr := New()

	var requested []bool
	tr.OnToggle(func(active bool) { requested = append(requested, active) })

	tr.handleToggle()
	tr.SetStatus(app.Status{Active: true, State: session.StateConnecting})
	tr.handleToggle()

	assert.Equal(t, []bool{true, false}, requested)
}

func TestTray_SetStatusBeforeReady(t *testing.T) {
	tr := New()
	assert.False(t, tr.IsActive())

	tr.SetStatus(app.Status{Active: true, State: session.StateConnected, Label: "FIST"})

	assert.True(t, tr.IsActive())
}

func TestTray_SettingsCallback(t *testing.T) {
	tr := New()

	called := false
	tr.OnSettings(func() { called = true })
	tr.handleSettings()

	assert.True(t, called)
}
