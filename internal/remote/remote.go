// Package remote defines the capability the streaming session needs from a
// remote multimodal inference service: open a session, push frames into it
// and receive text back through callbacks.
package remote

import "context"

// SystemInstruction asks the model for a bare uppercase gesture name.
const SystemInstruction = "You are a hand gesture tracker. Continually watch the video. " +
	"When you see a hand gesture, output ONLY its name in UPPERCASE " +
	"(e.g. 'THUMBS UP', 'PEACE SIGN', 'WAVING', 'FIST', 'OPEN HAND', 'HEART SHAPE'). " +
	"If no clear gesture, output 'NO GESTURE'. Do not speak full sentences. Be extremely concise."

// NoGesture is the label the model returns when it sees no gesture.
const NoGesture = "NO GESTURE"

// MIMETypeJPEG is the media type of captured frames.
const MIMETypeJPEG = "image/jpeg"

// Config describes the session to open.
type Config struct {
	Model             string
	SystemInstruction string
	// Transcription enables text transcripts of the model's audio replies.
	Transcription bool
}

// DefaultConfig returns the gesture-labelling session configuration.
func DefaultConfig(model string) Config {
	return Config{
		Model:             model,
		SystemInstruction: SystemInstruction,
		Transcription:     true,
	}
}

// Callbacks receive session events. They run on the session's receive
// goroutine; any of them may be nil.
type Callbacks struct {
	OnOpen  func()
	OnText  func(text string)
	OnClose func()
	OnError func(err error)
}

// Media is one base64-encoded payload pushed into the session.
type Media struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Handle is an established session.
type Handle interface {
	SendRealtimeInput(ctx context.Context, m Media) error
	Close() error
}

// Opener opens sessions. Open returns once the transport is established;
// OnOpen fires when the service has accepted the setup.
type Opener interface {
	Open(ctx context.Context, cfg Config, cb Callbacks) (Handle, error)
}
