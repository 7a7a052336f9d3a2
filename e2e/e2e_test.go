package e2e

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/live"
	"github.com/ayusman/mudra/internal/perception"
	"github.com/ayusman/mudra/internal/remote"
	"github.com/ayusman/mudra/internal/server"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// liveService answers the setup, records media chunks and replies to the
// first chunk with a gesture description.
type liveService struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	chunks []remote.Media
}

func (s *liveService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// setup
	if _, _, err := conn.ReadMessage(); err != nil {
		return
	}
	if err := conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
		return
	}

	replied := false
	for {
		var msg struct {
			RealtimeInput struct {
				MediaChunks []remote.Media `json:"mediaChunks"`
			} `json:"realtimeInput"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		s.mu.Lock()
		s.chunks = append(s.chunks, msg.RealtimeInput.MediaChunks...)
		s.mu.Unlock()

		if !replied {
			replied = true
			conn.WriteJSON(map[string]any{
				"serverContent": map[string]any{
					"outputTranscription": map[string]any{"text": " OPEN PALM \n"},
				},
			})
		}
	}
}

func (s *liveService) Chunks() []remote.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Media(nil), s.chunks...)
}

type statusBody struct {
	Active bool   `json:"active"`
	Status string `json:"status"`
	Label  string `json:"label"`
	Signal struct {
		Scale    float64 `json:"scale"`
		Rotation float64 `json:"rotation"`
	} `json:"signal"`
}

func request(t *testing.T, client *http.Client, method, url string) statusBody {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body statusBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	service := &liveService{}
	remoteSrv := httptest.NewServer(service)
	defer remoteSrv.Close()

	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()
	source := capture.NewMockSource([]*gocv.Mat{&frame}, true)

	mockDetector := detector.NewMockDetector()
	mockDetector.SetHands([]detector.HandLandmarks{
		detector.PinchLandmarks(detector.Point3D{X: 0.40, Y: 0.50}, detector.Point3D{X: 0.50, Y: 0.50}),
		detector.TiltLandmarks(detector.Point3D{X: 0.5, Y: 0.8}, detector.Point3D{X: 0.5, Y: 0.6}),
	})

	application, err := app.New(app.Config{
		Source: source,
		Opener: live.NewClient(live.Config{
			Endpoint: "ws" + strings.TrimPrefix(remoteSrv.URL, "http"),
			APIKey:   "test-key",
			Logger:   zerolog.Nop(),
		}),
		Remote:    remote.DefaultConfig(live.DefaultModel),
		FrameRate: 20,
		Scheduler: perception.NewRefreshScheduler(120),
		Detector: func(context.Context) (detector.Detector, error) {
			return mockDetector, nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer application.Close()

	srv := server.New(server.Config{
		Controller: application,
		Frames:     application.Surface(),
		Overlay:    application.Canvas(),
		Mirror:     true,
		Logger:     zerolog.Nop(),
	})
	defer srv.Close()

	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()
	require.Eventually(t, func() bool { return application.Status().Tracking }, waitFor, tick)

	t.Run("Idle", func(t *testing.T) {
		body := request(t, client, http.MethodGet, ts.URL+"/api/session")
		assert.False(t, body.Active)
		assert.Equal(t, "Disconnected", body.Status)
		assert.Equal(t, 1.0, body.Signal.Scale)
	})

	t.Run("Activate", func(t *testing.T) {
		body := request(t, client, http.MethodPost, ts.URL+"/api/session")
		assert.True(t, body.Active)
	})

	t.Run("Connected", func(t *testing.T) {
		require.Eventually(t, func() bool {
			body := request(t, client, http.MethodGet, ts.URL+"/api/session")
			return body.Status == "Connected" && body.Label == "OPEN PALM"
		}, waitFor, tick)
	})

	t.Run("FramesStreamed", func(t *testing.T) {
		require.Eventually(t, func() bool { return len(service.Chunks()) >= 2 }, waitFor, tick)

		chunk := service.Chunks()[0]
		assert.Equal(t, remote.MIMETypeJPEG, chunk.MIMEType)

		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		require.NoError(t, err)

		img, err := gocv.IMDecode(data, gocv.IMReadColor)
		require.NoError(t, err)
		defer img.Close()
		assert.Equal(t, 80, img.Cols())
		assert.Equal(t, 60, img.Rows())
	})

	t.Run("SignalFeed", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/signal"
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

		var msg server.SignalMessage
		require.NoError(t, conn.ReadJSON(&msg))

		// Pinch of 0.1 and a vertical left hand
		assert.InDelta(t, 1.5, msg.Scale, 1e-9)
		assert.InDelta(t, 0, msg.Rotation, 1e-9)
		assert.Equal(t, "OPEN PALM", msg.Label)
		assert.True(t, msg.Active)
	})

	t.Run("Deactivate", func(t *testing.T) {
		body := request(t, client, http.MethodDelete, ts.URL+"/api/session")
		assert.False(t, body.Active)
		assert.Equal(t, "Disconnected", body.Status)
		assert.Equal(t, "", body.Label)

		streams := source.Streams()
		require.Len(t, streams, 1)
		assert.Equal(t, 1, streams[0].Stops())
	})
}
