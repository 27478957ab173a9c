package audio

import (
	"bytes"
	"testing"
)

func TestPushPop_FIFOOrder(t *testing.T) {
	b := NewFrameBuffer(1024)

	b.Push([]byte{1, 2})
	b.Push([]byte{3, 4})
	b.Push([]byte{5})

	if b.Len() != 3 || b.Bytes() != 5 {
		t.Fatalf("len=%d bytes=%d, want 3/5", b.Len(), b.Bytes())
	}

	first, ok := b.Pop()
	if !ok || !bytes.Equal(first, []byte{1, 2}) {
		t.Fatalf("first pop = %v ok=%v", first, ok)
	}
	second, _ := b.Pop()
	if !bytes.Equal(second, []byte{3, 4}) {
		t.Fatalf("second pop = %v", second)
	}
}

func TestPush_CopiesFrame(t *testing.T) {
	b := NewFrameBuffer(1024)

	frame := []byte{7, 8, 9}
	b.Push(frame)
	frame[0] = 0

	got, _ := b.Pop()
	if !bytes.Equal(got, []byte{7, 8, 9}) {
		t.Fatalf("buffered frame mutated: %v", got)
	}
}

func TestPush_EvictsOldestOverBudget(t *testing.T) {
	b := NewFrameBuffer(4)

	b.Push([]byte{1, 2})
	b.Push([]byte{3, 4})
	evicted := b.Push([]byte{5, 6})

	if !evicted {
		t.Fatal("expected eviction at capacity")
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}

	got, _ := b.Pop()
	if !bytes.Equal(got, []byte{3, 4}) {
		t.Fatalf("oldest after eviction = %v, want [3 4]", got)
	}
}

func TestPush_IgnoresEmptyFrame(t *testing.T) {
	b := NewFrameBuffer(4)
	if b.Push(nil) {
		t.Fatal("empty push reported eviction")
	}
	if b.Len() != 0 {
		t.Fatalf("len = %d after empty push", b.Len())
	}
}

func TestPopAll_DrainsEverything(t *testing.T) {
	b := NewFrameBuffer(1024)
	b.Push([]byte{1})
	b.Push([]byte{2})

	frames := b.PopAll()
	if len(frames) != 2 {
		t.Fatalf("len(frames) = %d, want 2", len(frames))
	}
	if b.Len() != 0 || b.Bytes() != 0 {
		t.Fatalf("buffer not empty after PopAll: len=%d bytes=%d", b.Len(), b.Bytes())
	}

	if _, ok := b.Pop(); ok {
		t.Fatal("Pop succeeded on drained buffer")
	}
}

func TestClear_ResetsBufferKeepsDropCount(t *testing.T) {
	b := NewFrameBuffer(2)
	b.Push([]byte{1, 2})
	b.Push([]byte{3, 4})
	b.Clear()

	if b.Len() != 0 || b.Bytes() != 0 {
		t.Fatalf("buffer not empty after Clear: len=%d bytes=%d", b.Len(), b.Bytes())
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1 preserved across Clear", b.Dropped())
	}
}
