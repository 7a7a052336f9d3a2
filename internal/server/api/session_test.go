package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/session"
)

// fakeController records calls and reports a scripted status.
type fakeController struct {
	mu          sync.Mutex
	status      app.Status
	activateErr error
	activations int
	stops       int
}

func (c *fakeController) Activate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activations++
	c.status.Active = true
	if c.activateErr != nil {
		c.status.State = session.StateError
		return c.activateErr
	}
	c.status.State = session.StateConnecting
	return nil
}

func (c *fakeController) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.status.Active = false
	c.status.State = session.StateDisconnected
	c.status.Label = ""
}

func (c *fakeController) Status() app.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestSessionHandler_Get(t *testing.T) {
	ctrl := &fakeController{status: app.Status{
		Active:  true,
		State:   session.StateConnected,
		Label:   "THUMBS UP",
		Attempt: "b4c7a0c2-2f6e-4a4e-9d1e-3f1f4c1b2a10",
	}}
	handler := NewSessionHandler(ctrl, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "Connected", body["status"])
	assert.Equal(t, "THUMBS UP", body["label"])
	assert.Equal(t, "b4c7a0c2-2f6e-4a4e-9d1e-3f1f4c1b2a10", body["attempt"])
	assert.NotContains(t, body, "error")
}

func TestSessionHandler_Activate(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ctrl := &fakeController{}
		handler := NewSessionHandler(ctrl, zerolog.Nop())

		req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["active"])
		assert.Equal(t, "Connecting", body["status"])
		assert.Equal(t, 1, ctrl.activations)
	})

	t.Run("camera failure", func(t *testing.T) {
		ctrl := &fakeController{activateErr: errors.Join(errors.New("acquire camera"), capture.ErrPermissionDenied)}
		handler := NewSessionHandler(ctrl, zerolog.Nop())

		req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "Error", body["status"])
		assert.Contains(t, body["error"], "camera permission denied")
	})
}

func TestSessionHandler_Deactivate(t *testing.T) {
	ctrl := &fakeController{status: app.Status{Active: true, State: session.StateConnected, Label: "FIST"}}
	handler := NewSessionHandler(ctrl, zerolog.Nop())

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "Disconnected", body["status"])
	assert.Equal(t, "", body["label"])
	assert.Equal(t, 1, ctrl.stops)
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	handler := NewSessionHandler(&fakeController{}, zerolog.Nop())

	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		req := httptest.NewRequest(method, "/api/session", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}
}
