package gateway

// ClientMessage is one JSON event from the embodied client.
//
// Types:
//   - "say": submit Text as a typed utterance
//   - "toggle_dictation": start or stop speech capture
//   - "clear_dictation": discard the captured utterance buffer
//   - "field_update": mirror the client's input field (Text, Focused)
//   - "audio": base64-encoded capture audio in Payload
//   - "speech_state": client-side playback state in Speaking
type ClientMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Focused  bool   `json:"focused,omitempty"`
	Payload  string `json:"payload,omitempty"`
	Speaking bool   `json:"speaking,omitempty"`
}

// ServerMessage is one JSON event to the embodied client.
//
// Types:
//   - "session_started": SessionID plus the opening line in Text
//   - "bubble": current visible reply text
//   - "talking": Talking flag for the avatar's mouth animation
//   - "dictation_state": State is the capture lifecycle state
//   - "dictation_preview": Text is accumulated plus partial transcript
//   - "field_set": client should silently replace its field with Text
//   - "speech_audio": base64 PCM reply audio in Payload
//   - "speech_stop": discard buffered reply audio
//   - "error": Code and Message describe a recoverable failure
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	State     string `json:"state,omitempty"`
	Talking   bool   `json:"talking,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}
