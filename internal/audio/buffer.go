package audio

import (
	"sync"
)

// FrameBuffer is a thread-safe FIFO of captured audio frames sitting
// between the client connection and the recognizer. When the byte
// budget is exceeded the oldest frames are dropped; live capture is
// better served by losing stale audio than by back-pressuring the
// connection reader.
type FrameBuffer struct {
	mu       sync.Mutex
	frames   [][]byte
	maxBytes int
	bytes    int
	dropped  int
}

// NewFrameBuffer creates a frame buffer holding at most maxBytes of
// audio.
func NewFrameBuffer(maxBytes int) *FrameBuffer {
	return &FrameBuffer{maxBytes: maxBytes}
}

// Push copies one frame into the buffer, evicting the oldest frames if
// the byte budget would be exceeded. It reports whether anything was
// evicted.
func (b *FrameBuffer) Push(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(frame))
	copy(cp, frame)

	evicted := false
	for b.bytes+len(cp) > b.maxBytes && len(b.frames) > 0 {
		b.bytes -= len(b.frames[0])
		b.frames = b.frames[1:]
		b.dropped++
		evicted = true
	}

	b.frames = append(b.frames, cp)
	b.bytes += len(cp)
	return evicted
}

// Pop removes and returns the oldest frame.
func (b *FrameBuffer) Pop() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return nil, false
	}
	frame := b.frames[0]
	b.frames = b.frames[1:]
	b.bytes -= len(frame)
	return frame, true
}

// PopAll removes and returns every buffered frame in order.
func (b *FrameBuffer) PopAll() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.frames
	b.frames = nil
	b.bytes = 0
	return frames
}

// Len reports the number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Bytes reports the buffered audio size in bytes.
func (b *FrameBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Dropped reports how many frames have been evicted so far.
func (b *FrameBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear discards all buffered frames.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
	b.bytes = 0
}
