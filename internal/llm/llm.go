package llm

import (
	"github.com/embodiedxr/npc-gateway/internal/chat"
)

// Stream is a single in-flight completion call. Deltas arrive in order
// on the stream's channel; Wait resolves with the authoritative final
// message once the stream ends.
type Stream struct {
	deltas chan string
	done   chan struct{}
	final  chat.Message
	err    error
}

func newStream() *Stream {
	return &Stream{
		deltas: make(chan string, 100),
		done:   make(chan struct{}),
	}
}

// Deltas returns the channel of reply fragments. It is closed when the
// stream ends, whether successfully or not.
func (s *Stream) Deltas() <-chan string {
	return s.deltas
}

// Wait blocks until the stream has ended and returns the final
// assistant message, or the error that terminated the stream.
func (s *Stream) Wait() (chat.Message, error) {
	<-s.done
	return s.final, s.err
}

// finish records the outcome and releases both Deltas and Wait.
// Must be called exactly once.
func (s *Stream) finish(final chat.Message, err error) {
	s.final = final
	s.err = err
	close(s.deltas)
	close(s.done)
}
