package gateway

import (
	"sync"
)

// remoteField mirrors the client's input field on the server. The
// client reports edits and focus through field_update events; silent
// writes go back out as field_set so the client can replace its text
// without re-reporting it.
type remoteField struct {
	mu      sync.Mutex
	text    string
	focused bool
	send    func(msg ServerMessage)
}

func newRemoteField(send func(msg ServerMessage)) *remoteField {
	return &remoteField{send: send}
}

// update applies a field_update event from the client.
func (f *remoteField) update(text string, focused bool) {
	f.mu.Lock()
	f.text = text
	f.focused = focused
	f.mu.Unlock()
}

func (f *remoteField) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text
}

func (f *remoteField) HasFocus() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focused
}

// SetTextSilently updates the mirror and pushes the text to the client
// outside the normal edit-report loop.
func (f *remoteField) SetTextSilently(text string) {
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	f.send(ServerMessage{Type: "field_set", Text: text})
}

// remoteSpeaker tracks playback happening on the client. The client
// synthesizes or plays the reply itself and reports speech_state; the
// turn manager polls IsSpeaking to learn when the reply has finished
// sounding. Speak is a no-op because the reply text already reached the
// client through bubble events.
type remoteSpeaker struct {
	mu       sync.Mutex
	speaking bool
	pending  bool
	send     func(msg ServerMessage)
}

func newRemoteSpeaker(send func(msg ServerMessage)) *remoteSpeaker {
	return &remoteSpeaker{send: send}
}

func (s *remoteSpeaker) Speak(text string) {
	s.mu.Lock()
	// Hold the flag until the client's first speech_state report so the
	// watcher cannot observe a not-yet-started playback as finished.
	s.pending = true
	s.mu.Unlock()
}

func (s *remoteSpeaker) Stop() {
	s.mu.Lock()
	s.pending = false
	s.speaking = false
	s.mu.Unlock()
	s.send(ServerMessage{Type: "speech_stop"})
}

func (s *remoteSpeaker) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending || s.speaking
}

// setSpeaking applies a speech_state report from the client.
func (s *remoteSpeaker) setSpeaking(speaking bool) {
	s.mu.Lock()
	s.speaking = speaking
	s.pending = false
	s.mu.Unlock()
}
