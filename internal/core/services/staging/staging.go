// Package staging buffers parsed frames between the capture pipeline and the
// BatchWriter: push is non-blocking, drain is writer-only.
package staging

import (
	"sync"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
)

// StagingBuffer is a simple mutex-protected slice buffer. Push never blocks
// producers beyond the brief critical section of appending to the slice;
// Drain hands ownership of the buffered frames to its single caller (the
// BatchWriter) and resets the buffer to empty.
type StagingBuffer struct {
	mu     sync.Mutex
	frames []domain.ParsedFrame
}

// NewStagingBuffer constructs an empty StagingBuffer.
func NewStagingBuffer() *StagingBuffer {
	return &StagingBuffer{}
}

// Push appends a frame. It never blocks.
func (b *StagingBuffer) Push(frame domain.ParsedFrame) {
	b.mu.Lock()
	b.frames = append(b.frames, frame)
	b.mu.Unlock()
}

// Requeue pushes back a batch of frames that failed to commit, ahead of
// anything pushed since the failed drain, so producer order is preserved.
func (b *StagingBuffer) Requeue(frames []domain.ParsedFrame) {
	if len(frames) == 0 {
		return
	}
	b.mu.Lock()
	b.frames = append(append([]domain.ParsedFrame{}, frames...), b.frames...)
	b.mu.Unlock()
}

// Drain returns all buffered frames and empties the buffer. Only the
// BatchWriter task calls this.
func (b *StagingBuffer) Drain() []domain.ParsedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) == 0 {
		return nil
	}
	out := b.frames
	b.frames = nil
	return out
}

// Len reports the current buffer depth, for telemetry only.
func (b *StagingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}
