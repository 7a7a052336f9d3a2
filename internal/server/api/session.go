// Package api provides HTTP API handlers for controlling the gesture session.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/app"
)

// Controller activates and reports on the application.
type Controller interface {
	Activate(ctx context.Context) error
	Deactivate()
	Status() app.Status
}

// SessionHandler handles HTTP requests for the session resource.
//
//	GET    /api/session  current status
//	POST   /api/session  activate (start camera, tracking and streaming)
//	DELETE /api/session  deactivate
type SessionHandler struct {
	ctrl Controller
	log  zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler for ctrl.
func NewSessionHandler(ctrl Controller, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		ctrl: ctrl,
		log:  log.With().Str("component", "api").Logger(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPost:
		h.activate(w, r)
	case http.MethodDelete:
		h.deactivate(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type sessionResponse struct {
	app.Status
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// get handles GET /api/session.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionResponse{Status: h.ctrl.Status()})
}

// activate handles POST /api/session. A failed connection still leaves the
// app active; the response carries the error and the Error state.
func (h *SessionHandler) activate(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Activate(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("activation failed")
		writeJSON(w, http.StatusServiceUnavailable, sessionResponse{
			Status: h.ctrl.Status(),
			Error:  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Status: h.ctrl.Status()})
}

// deactivate handles DELETE /api/session.
func (h *SessionHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Deactivate()
	writeJSON(w, http.StatusOK, sessionResponse{Status: h.ctrl.Status()})
}
