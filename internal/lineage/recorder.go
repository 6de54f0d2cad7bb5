package lineage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/metrics"
)

// Sink persists a single event to one backend.
type Sink interface {
	Name() string
	Record(ctx context.Context, event *Event) error
}

const (
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
	defaultRetryDelay  = 250 * time.Millisecond
)

// Recorder fans events out to its sinks from a background queue. Recording
// never blocks or fails the caller: a full queue or an exhausted retry
// budget drops the event with a warning.
type Recorder struct {
	logger      *zap.Logger
	sinks       []Sink
	queue       chan *Event
	maxAttempts int
	retryDelay  time.Duration

	closeOnce sync.Once
	done      chan struct{}
	drained   chan struct{}
}

// RecorderOption tunes a Recorder.
type RecorderOption func(*Recorder)

func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) { r.queue = make(chan *Event, n) }
}

func WithRetry(maxAttempts int, delay time.Duration) RecorderOption {
	return func(r *Recorder) {
		r.maxAttempts = maxAttempts
		r.retryDelay = delay
	}
}

func NewRecorder(logger *zap.Logger, sinks []Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		logger:      logger,
		sinks:       sinks,
		queue:       make(chan *Event, defaultQueueSize),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		done:        make(chan struct{}),
		drained:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record enqueues an event. It never blocks; if the queue is full the
// event is dropped with a warning.
func (r *Recorder) Record(event *Event) {
	select {
	case r.queue <- event:
	default:
		metrics.LineageEventsDropped.Inc()
		r.logger.Warn("Lineage queue full, dropping event",
			zap.String("workflow_run_id", event.WorkflowRunID),
			zap.String("event_id", event.EventID),
			zap.Int("step", event.Step),
		)
	}
}

// Close stops intake and waits for queued events to flush.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
		<-r.drained
	})
}

func (r *Recorder) run() {
	defer close(r.drained)
	for {
		select {
		case event := <-r.queue:
			r.persist(event)
		case <-r.done:
			// Drain whatever is left.
			for {
				select {
				case event := <-r.queue:
					r.persist(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) persist(event *Event) {
	for _, sink := range r.sinks {
		if err := r.persistTo(sink, event); err != nil {
			metrics.LineageEventsDropped.Inc()
			r.logger.Warn("Lineage event dropped after retries",
				zap.String("backend", sink.Name()),
				zap.String("workflow_run_id", event.WorkflowRunID),
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			continue
		}
		metrics.LineageEventsWritten.WithLabelValues(sink.Name()).Inc()
	}
}

func (r *Recorder) persistTo(sink Sink, event *Event) error {
	ctx := context.Background()
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(r.retryDelay)
		}
		if lastErr = sink.Record(ctx, event); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
