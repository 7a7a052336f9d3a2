package live

import "github.com/ayusman/mudra/internal/remote"

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

// newSetupMessage builds the first message of a session. Native-audio
// models only answer in audio, so text comes from the transcription.
func newSetupMessage(cfg remote.Config) setupMessage {
	msg := setupMessage{
		Setup: setup{
			Model:            cfg.Model,
			GenerationConfig: generationConfig{ResponseModalities: []string{"AUDIO"}},
		},
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.Transcription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []remote.Media `json:"mediaChunks"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
}

type serverContent struct {
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

func (m serverMessage) transcript() string {
	if m.ServerContent == nil || m.ServerContent.OutputTranscription == nil {
		return ""
	}
	return m.ServerContent.OutputTranscription.Text
}
