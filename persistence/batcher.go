package persistence

import (
	"context"
	"log/slog"

	"github.com/pthm-cable/habitat/telemetry"
)

// RecordWriter is the sink a Batcher flushes into. *Store implements it.
type RecordWriter interface {
	WriteBatch(ctx context.Context, records []telemetry.StepRecord) error
}

// Batcher buffers step records and writes them size at a time.
type Batcher struct {
	w       RecordWriter
	size    int
	pending []telemetry.StepRecord
	written int
}

// NewBatcher returns a batcher flushing every size records. size < 1
// flushes on every Add.
func NewBatcher(w RecordWriter, size int) *Batcher {
	size = max(size, 1)
	return &Batcher{w: w, size: size, pending: make([]telemetry.StepRecord, 0, size)}
}

// Add queues records, flushing whenever a full batch is pending.
func (b *Batcher) Add(ctx context.Context, records ...telemetry.StepRecord) error {
	b.pending = append(b.pending, records...)
	if len(b.pending) < b.size {
		return nil
	}
	return b.Flush(ctx)
}

// Flush writes everything pending. On error the records stay queued.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.w.WriteBatch(ctx, b.pending); err != nil {
		return err
	}
	b.written += len(b.pending)
	slog.Debug("records flushed",
		"steps", len(b.pending),
		"first_step", b.pending[0].Step,
		"last_step", b.pending[len(b.pending)-1].Step,
	)
	b.pending = b.pending[:0]
	return nil
}

// Pending returns the number of queued records.
func (b *Batcher) Pending() int { return len(b.pending) }

// Written returns the number of records flushed so far.
func (b *Batcher) Written() int { return b.written }
