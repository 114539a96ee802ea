package audio

import "sync"

// FrameBuffer accumulates captured frames between aggregation ticks. The
// pipeline appends frames as they arrive and drains the whole batch on each
// flush tick; Drain moves the accumulated frames out in one step so a frame
// is never split between two flushes.
//
// All methods are safe for concurrent use.
type FrameBuffer struct {
	mu     sync.Mutex
	frames []AudioFrame
}

// NewFrameBuffer creates an empty FrameBuffer.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Append adds a frame to the buffer.
func (b *FrameBuffer) Append(frame AudioFrame) {
	b.mu.Lock()
	b.frames = append(b.frames, frame)
	b.mu.Unlock()
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Drain removes all buffered frames and returns their samples concatenated
// in arrival order. Returns nil when the buffer is empty.
func (b *FrameBuffer) Drain() []float32 {
	b.mu.Lock()
	frames := b.frames
	b.frames = nil
	b.mu.Unlock()

	if len(frames) == 0 {
		return nil
	}
	total := 0
	for _, f := range frames {
		total += len(f.Samples)
	}
	out := make([]float32, 0, total)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return out
}

// LatestLevel computes the RMS loudness of the most recently buffered frame
// without draining. Returns 0 when the buffer is empty. Used by the level
// sampling tick, which runs on a faster cadence than the flush tick.
func (b *FrameBuffer) LatestLevel() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return 0
	}
	return RMS(b.frames[len(b.frames)-1].Samples)
}

// Reset discards all buffered frames.
func (b *FrameBuffer) Reset() {
	b.mu.Lock()
	b.frames = nil
	b.mu.Unlock()
}
