package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/app"
)

// SignalInterval is the broadcast period of the signal feed.
const SignalInterval = 66 * time.Millisecond // ~15 FPS

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// StatusSource reports the application status.
type StatusSource interface {
	Status() app.Status
}

// SignalMessage is one frame of the signal feed.
type SignalMessage struct {
	Scale        float64 `json:"scale"`
	DisplayScale float64 `json:"displayScale"`
	Rotation     float64 `json:"rotation"`
	Label        string  `json:"label"`
	Status       string  `json:"status"`
	Active       bool    `json:"active"`
	Timestamp    int64   `json:"timestamp"`
}

func newSignalMessage(s app.Status, now time.Time) SignalMessage {
	return SignalMessage{
		Scale:        s.Signal.Scale,
		DisplayScale: s.Signal.DisplayScale(),
		Rotation:     s.Signal.Rotation,
		Label:        s.Label,
		Status:       s.State.String(),
		Active:       s.Active,
		Timestamp:    now.UnixMilli(),
	}
}

// SignalHub broadcasts the gesture signal and session status via WebSocket.
type SignalHub struct {
	source   StatusSource
	interval time.Duration
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSignalHub creates a SignalHub and starts broadcasting.
func NewSignalHub(source StatusSource, interval time.Duration, log zerolog.Logger) *SignalHub {
	if interval <= 0 {
		interval = SignalInterval
	}
	h := &SignalHub{
		source:   source,
		interval: interval,
		log:      log.With().Str("component", "signal-hub").Logger(),
		clients:  make(map[*websocket.Conn]bool),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *SignalHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *SignalHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops broadcasting and disconnects all clients.
func (h *SignalHub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
		<-h.done

		h.mu.Lock()
		defer h.mu.Unlock()
		for conn := range h.clients {
			conn.Close()
		}
	})
}

// broadcast sends the current signal to all connected clients.
func (h *SignalHub) broadcast() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			h.send(now)
		}
	}
}

func (h *SignalHub) send(now time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(newSignalMessage(h.source.Status(), now))
	if err != nil {
		h.log.Error().Err(err).Msg("encoding signal")
		return
	}

	for conn := range h.clients {
		conn.SetWriteDeadline(now.Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug().Err(err).Msg("signal write")
		}
	}
}
