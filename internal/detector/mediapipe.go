package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

const serviceScript = "hand_landmarker_service.py"

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess
// running the hand landmarker in VIDEO mode.
//
// Frames are sent on stdin as an 8-byte big-endian timestamp, a 4-byte
// big-endian length and the JPEG payload. The service answers each frame with
// one JSON line. Before the first frame it prints {"ready": true} once the
// model is loaded.
type MediaPipeDetector struct {
	config Config
	script string
	log    zerolog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	ready   bool
	closed  bool
	lastTS  int64
	started bool
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is launched by Start.
func NewMediaPipeDetector(config Config, log zerolog.Logger) (*MediaPipeDetector, error) {
	scriptPath := config.ScriptPath
	if scriptPath == "" {
		scriptPath = findMediaPipeScript()
	}
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", serviceScript)
	}

	return &MediaPipeDetector{
		config: config,
		script: scriptPath,
		log:    log.With().Str("component", "detector").Logger(),
		lastTS: -1,
	}, nil
}

// Start launches the landmarker service and blocks until the model reports
// ready or ctx is done. Detect returns ErrNotReady until Start succeeds.
func (d *MediaPipeDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.started {
		d.mu.Unlock()
		return nil
	}

	// Use virtual environment Python if available
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	cmd := exec.Command(pythonPath, d.script,
		"--model", d.config.ModelAssetPath,
		"--delegate", d.config.Delegate,
		"--num-hands", strconv.Itoa(d.config.MaxHands),
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.started = true
	reader := bufio.NewReader(stdout)
	d.mu.Unlock()

	d.log.Debug().Str("script", d.script).Str("delegate", d.config.Delegate).Msg("waiting for hand landmarker")

	readyCh := make(chan error, 1)
	go func() {
		readyCh <- awaitReady(reader)
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			d.Close()
			return fmt.Errorf("await mediapipe ready: %w", err)
		}
	case <-ctx.Done():
		d.Close()
		return ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.stdout = reader
	d.ready = true
	d.log.Info().Msg("hand landmarker ready")
	return nil
}

// Ready reports whether the model finished loading.
func (d *MediaPipeDetector) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

// Detect analyzes a frame and returns detected hand landmarks.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]HandLandmarks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if !d.ready {
		return nil, ErrNotReady
	}
	if timestampMs < d.lastTS {
		return nil, fmt.Errorf("%w: %d after %d", ErrTimestampOrder, timestampMs, d.lastTS)
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	header := make([]byte, 12)
	binary.BigEndian.PutUint64(header[:8], uint64(timestampMs))
	binary.BigEndian.PutUint32(header[8:], uint32(len(data)))

	if _, err := d.stdin.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	// Read JSON response
	line, err := d.stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Hands []jsonHand `json:"hands"`
		Error string     `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("landmarker: %s", response.Error)
	}

	d.lastTS = timestampMs

	result := make([]HandLandmarks, len(response.Hands))
	for i, h := range response.Hands {
		result[i] = h.toHandLandmarks()
	}

	return result, nil
}

// Close shuts down the Python process. It is safe to call more than once.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.ready = false

	if d.cmd == nil {
		return nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}
	if d.stdout == nil && d.cmd.Process != nil {
		// Still loading the model; there is nothing to drain.
		d.cmd.Process.Kill()
	}

	err := d.cmd.Wait()
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

// awaitReady consumes service output until the ready marker arrives.
func awaitReady(r *bufio.Reader) error {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}

		var status struct {
			Ready bool   `json:"ready"`
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(line), &status) != nil {
			continue
		}
		if status.Error != "" {
			return fmt.Errorf("landmarker: %s", status.Error)
		}
		if status.Ready {
			return nil
		}
	}
}

func findMediaPipeScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", serviceScript),
		filepath.Join("..", "scripts", serviceScript),
		filepath.Join(execDir, "scripts", serviceScript),
		filepath.Join(os.Getenv("HOME"), ".mudra", "scripts", serviceScript),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
// It checks for venv/bin/python relative to the project directory.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mudra/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"`
	Score      float64   `json:"score"`
}

func (h jsonHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{
		Handedness: Handedness(h.Handedness),
		Score:      h.Score,
	}
	copy(lm.Points[:], h.Points)
	return lm
}
