package avatar

import "github.com/lexiqai/avatar-gateway/internal/audio"

// Events exchanged with the character viewer
const (
	EventConnected         = "connected"
	EventSpeak             = "speak"
	EventSpeakDone         = "speak_done"
	EventUtteranceStart    = "utterance_start"
	EventUtteranceComplete = "utterance_complete"
)

// Message is the envelope for every frame on the viewer websocket
type Message struct {
	Event     string            `json:"event"`
	ID        string            `json:"id,omitempty"`
	ViewerID  string            `json:"viewerId,omitempty"`
	Speak     *SpeakPayload     `json:"speak,omitempty"`
	Utterance *UtterancePayload `json:"utterance,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// SpeakPayload asks the viewer to play audio with a facial expression
type SpeakPayload struct {
	Audio      string          `json:"audio"` // Base64 encoded, as returned by the synthesizer
	Expression string          `json:"expression"`
	DurationMs int64           `json:"durationMs,omitempty"`
	Envelope   *audio.Envelope `json:"envelope,omitempty"` // Only for WAV audio
}

// UtterancePayload describes an utterance for subtitles and UI state
type UtterancePayload struct {
	UtteranceID string `json:"utteranceId"`
	Text        string `json:"text"`
	Expression  string `json:"expression"`
}
