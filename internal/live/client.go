// Package live implements a remote inference session over a bidirectional
// JSON websocket protocol in the style of the Gemini Live API.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/remote"
)

// DefaultEndpoint is the Gemini Live bidirectional streaming endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// DefaultModel is the native-audio live model; its replies are read from
// the audio transcription.
const DefaultModel = "models/gemini-2.5-flash-native-audio-preview-09-2025"

const closeGracePeriod = time.Second

// ErrClosed is returned when sending on a closed session.
var ErrClosed = errors.New("live: session closed")

// Config configures the client.
type Config struct {
	Endpoint string
	APIKey   string
	Dialer   *websocket.Dialer // defaults to websocket.DefaultDialer
	Logger   zerolog.Logger
}

// Client opens live sessions. It implements remote.Opener.
type Client struct {
	endpoint string
	apiKey   string
	dialer   *websocket.Dialer
	log      zerolog.Logger
}

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		dialer:   cfg.Dialer,
		log:      cfg.Logger.With().Str("component", "live").Logger(),
	}
}

// Open dials the endpoint and sends the setup message. Callbacks start
// firing once Open has returned the session.
func (c *Client) Open(ctx context.Context, cfg remote.Config, cb remote.Callbacks) (remote.Handle, error) {
	u, err := c.url()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	s := &Session{
		conn: conn,
		cb:   cb,
		log:  c.log,
		done: make(chan struct{}),
	}

	if err := s.write(ctx, newSetupMessage(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send setup: %w", err)
	}

	go s.receive()

	c.log.Debug().Str("model", cfg.Model).Msg("live session dialed")
	return s, nil
}

func (c *Client) url() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse live endpoint: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("key", c.apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Session is an open live session.
type Session struct {
	conn *websocket.Conn
	cb   remote.Callbacks
	log  zerolog.Logger
	done chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	closing bool
}

// SendRealtimeInput pushes one media chunk into the session.
func (s *Session) SendRealtimeInput(ctx context.Context, m remote.Media) error {
	if s.isClosing() {
		return ErrClosed
	}
	return s.write(ctx, realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []remote.Media{m}},
	})
}

// Close ends the session with a normal closure. It is safe to call more
// than once and from inside a callback.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))

	return s.conn.Close()
}

// Done is closed when the receive loop has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Session) write(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Zero deadline when ctx has none
	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

func (s *Session) receive() {
	defer close(s.done)

	opened := false
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug().Err(err).Msg("ignoring undecodable message")
			continue
		}

		if msg.SetupComplete != nil && !opened {
			opened = true
			if s.cb.OnOpen != nil {
				s.cb.OnOpen()
			}
		}

		if text := msg.transcript(); text != "" && s.cb.OnText != nil {
			s.cb.OnText(text)
		}
	}
}

// finish reports the end of the session exactly once: a local close or a
// normal closure by the peer is a close, anything else an error.
func (s *Session) finish(err error) {
	if s.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.log.Debug().Msg("live session closed")
		if s.cb.OnClose != nil {
			s.cb.OnClose()
		}
		return
	}

	s.log.Warn().Err(err).Msg("live session failed")
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
