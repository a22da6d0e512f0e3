package runmetrics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pulsewire/newsfuse/pkg/kafka"
)

// Emitter ships run metrics snapshots to the observability Kafka topic
// asynchronously, so a slow sink never delays the ingestion path.
type Emitter struct {
	producer *kafka.Producer
	eventCh  chan Metrics
	logger   *slog.Logger
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(producer *kafka.Producer, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Emitter{
		producer: producer,
		eventCh:  make(chan Metrics, bufferSize),
		logger:   slog.Default().With("component", "runmetrics-emitter"),
		done:     make(chan struct{}),
	}
}

// Start launches the background publish loop. It drains buffered snapshots
// when ctx is cancelled.
func (e *Emitter) Start(ctx context.Context) {
	go func() {
		defer close(e.done)
		for {
			select {
			case m, ok := <-e.eventCh:
				if !ok {
					return
				}
				e.publish(ctx, m)
			case <-ctx.Done():
				e.drainRemaining()
				return
			}
		}
	}()
	e.logger.Info("runmetrics emitter started", "buffer_size", cap(e.eventCh))
}

// Emit queues one run snapshot. Snapshots are dropped, with a warning, if
// the buffer is full or the emitter is already closed; a run racing the
// daemon's shutdown loses its snapshot rather than panicking.
func (e *Emitter) Emit(m Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.logger.Warn("run metrics snapshot dropped (emitter closed)", "run_id", m.RunID)
		return
	}
	select {
	case e.eventCh <- m:
	default:
		e.logger.Warn("run metrics snapshot dropped (buffer full)", "run_id", m.RunID)
	}
}

// Close stops accepting snapshots and waits for the publish loop to finish.
// Safe to call more than once.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	close(e.eventCh)
	<-e.done
}

func (e *Emitter) publish(ctx context.Context, m Metrics) {
	if err := e.producer.Publish(ctx, kafka.Event{Key: m.RunID, Value: m}); err != nil {
		e.logger.Error("failed to publish run metrics", "run_id", m.RunID, "error", err)
	}
}

func (e *Emitter) drainRemaining() {
	for {
		select {
		case m, ok := <-e.eventCh:
			if !ok {
				return
			}
			e.publish(context.Background(), m)
		default:
			return
		}
	}
}
