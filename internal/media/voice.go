package media

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SpeechToTextRequest is the body of POST /voice/speech-to-text.
type SpeechToTextRequest struct {
	AudioFile     string `json:"audio_file,omitempty"`
	UseMicrophone bool   `json:"use_microphone,omitempty"`
}

// TextToSpeechRequest is the body of POST /voice/text-to-speech.
type TextToSpeechRequest struct {
	Text     string `json:"text"`
	SaveFile string `json:"save_file,omitempty"`
	Language string `json:"language,omitempty"`
}

// VoiceResult is the answer of both voice operations.
type VoiceResult struct {
	Status       string            `json:"status"`
	Message      string            `json:"message"`
	Language     string            `json:"language,omitempty"`
	Instructions map[string]string `json:"instructions,omitempty"`
	Timestamp    string            `json:"timestamp"`
}

// VoiceAssistant answers speech requests.
type VoiceAssistant struct {
	enabled bool
	now     Clock
}

// NewVoiceAssistant creates a voice assistant.
func NewVoiceAssistant(enabled bool) *VoiceAssistant {
	return &VoiceAssistant{enabled: enabled, now: time.Now}
}

// Enabled reports the feature flag.
func (v *VoiceAssistant) Enabled() bool { return v.enabled }

// SpeechToText returns the placeholder transcription result.
func (v *VoiceAssistant) SpeechToText(req SpeechToTextRequest) (VoiceResult, error) {
	if req.AudioFile == "" && !req.UseMicrophone {
		return VoiceResult{}, invalid("audio_file or use_microphone is required")
	}
	if !v.enabled {
		return v.disabled(), nil
	}
	log.Info().Bool("microphone", req.UseMicrophone).Msg("speech-to-text requested")
	return VoiceResult{
		Status:  StatusPlaceholder,
		Message: "Speech-to-text not available",
		Instructions: map[string]string{
			"backend": "No speech recognition engine is configured on this server",
		},
		Timestamp: isoTime(v.now()),
	}, nil
}

// TextToSpeech returns the placeholder synthesis result.
func (v *VoiceAssistant) TextToSpeech(req TextToSpeechRequest) (VoiceResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return VoiceResult{}, invalid("text is required")
	}
	if !v.enabled {
		return v.disabled(), nil
	}
	lang := req.Language
	if lang == "" {
		lang = "en"
	}
	log.Info().Str("text", truncate(text, 50)).Str("language", lang).Msg("text-to-speech requested")
	return VoiceResult{
		Status:   StatusPlaceholder,
		Message:  "Text-to-speech not available",
		Language: lang,
		Instructions: map[string]string{
			"backend": "No speech synthesis engine is configured on this server",
		},
		Timestamp: isoTime(v.now()),
	}, nil
}

func (v *VoiceAssistant) disabled() VoiceResult {
	return VoiceResult{
		Status:    StatusDisabled,
		Message:   "Voice features are disabled",
		Timestamp: isoTime(v.now()),
	}
}
