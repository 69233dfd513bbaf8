package staging

import (
	"context"
	"log"
	"time"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/core/ports"
	"github.com/dradis-net/rdbtunnel/internal/telemetry"
)

// DefaultTickInterval is how often the writer drains the staging buffer.
const DefaultTickInterval = 300 * time.Millisecond

// ToStoredRow converts a parsed frame into the row shape PacketStore
// persists. MAC/IP codec concerns live in the storage adapter, not here.
type ToStoredRow func(domain.ParsedFrame) domain.StoredRow

// BatchWriter periodically drains a StagingBuffer and hands the whole batch
// to a PacketStore.InsertBatch call. The store is responsible for splitting
// the batch into chunked multi-row INSERTs inside one enclosing transaction
// (ports.PacketStore's contract), so a single chunk failing rolls back and
// requeues the entire drained batch, not just the chunk that failed.
type BatchWriter struct {
	buffer  *StagingBuffer
	store   ports.PacketStore
	convert ToStoredRow
	tick    time.Duration
	doneCh  chan struct{}
	iface   string
}

// NewBatchWriter constructs a BatchWriter with the default tick interval.
func NewBatchWriter(buffer *StagingBuffer, store ports.PacketStore, convert ToStoredRow) *BatchWriter {
	return &BatchWriter{
		buffer:  buffer,
		store:   store,
		convert: convert,
		tick:    DefaultTickInterval,
		doneCh:  make(chan struct{}),
	}
}

// WithTick overrides the tick interval, for tests.
func (w *BatchWriter) WithTick(d time.Duration) *BatchWriter {
	w.tick = d
	return w
}

// WithInterface attaches the capture interface name used to label staged/
// failed commit metrics.
func (w *BatchWriter) WithInterface(iface string) *BatchWriter {
	w.iface = iface
	return w
}

// Run drains and commits until ctx is cancelled, then drains once more
// before returning so a shutdown never drops buffered rows.
func (w *BatchWriter) Run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// Done reports when Run has returned, for the orchestrator's task registry.
func (w *BatchWriter) Done() <-chan struct{} {
	return w.doneCh
}

func (w *BatchWriter) flush(ctx context.Context) {
	frames := w.buffer.Drain()
	if len(frames) == 0 {
		return
	}

	rows := make([]domain.StoredRow, len(frames))
	for i, f := range frames {
		rows[i] = w.convert(f)
	}

	n, err := w.store.InsertBatch(ctx, rows)
	if err != nil {
		telemetry.BatchCommitFailures.WithLabelValues().Inc()
		log.Printf("batch writer: commit failed, requeuing %d frames: %v", len(frames), err)
		w.buffer.Requeue(frames)
		return
	}
	telemetry.PacketsStaged.WithLabelValues(w.iface).Add(float64(n))
}
