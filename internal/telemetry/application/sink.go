package application

import (
	"context"
	"log"
	"time"

	"ems-cloud/internal/observability/metrics"
	telemetry "ems-cloud/internal/telemetry/domain"
)

const (
	defaultSinkQueueSize    = 256
	defaultSinkWriteTimeout = 5 * time.Second
)

// PersistenceSink forwards records to the durable store from a single
// background worker. Offer never blocks the caller; a full queue drops
// the record. Write failures are logged and swallowed, one attempt per
// record.
type PersistenceSink struct {
	repo    telemetry.SampleRepository
	logger  *log.Logger
	queue   chan *telemetry.Record
	timeout time.Duration
	done    chan struct{}
}

// SinkOption configures the sink.
type SinkOption func(*PersistenceSink)

// WithSinkQueueSize overrides the outbound queue capacity.
func WithSinkQueueSize(n int) SinkOption {
	return func(s *PersistenceSink) {
		if n > 0 {
			s.queue = make(chan *telemetry.Record, n)
		}
	}
}

// WithSinkWriteTimeout bounds each store write.
func WithSinkWriteTimeout(d time.Duration) SinkOption {
	return func(s *PersistenceSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewPersistenceSink constructs a sink. A nil repository yields a no-op
// sink: ingestion proceeds without persistence.
func NewPersistenceSink(repo telemetry.SampleRepository, logger *log.Logger, opts ...SinkOption) *PersistenceSink {
	if logger == nil {
		logger = log.Default()
	}
	sink := &PersistenceSink{
		repo:    repo,
		logger:  logger,
		queue:   make(chan *telemetry.Record, defaultSinkQueueSize),
		timeout: defaultSinkWriteTimeout,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sink)
	}
	if repo == nil {
		logger.Printf("persistence sink: no durable store configured, running without persistence")
	}
	return sink
}

// Start launches the background writer. It returns immediately; the
// worker stops when ctx is cancelled or the queue is closed.
func (s *PersistenceSink) Start(ctx context.Context) {
	if s == nil || s.repo == nil {
		return
	}
	go s.run(ctx)
}

// Offer enqueues a record for asynchronous persistence. It never
// blocks; with no store configured or a full queue the record is
// silently skipped (observable via log/metric only).
func (s *PersistenceSink) Offer(rec *telemetry.Record) {
	if s == nil || s.repo == nil || rec == nil {
		return
	}
	select {
	case s.queue <- rec:
	default:
		metrics.IncPersistDropped()
		s.logger.Printf("persistence sink: queue full, dropping sample site=%s", rec.SiteID)
	}
}

func (s *PersistenceSink) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case rec := <-s.queue:
			s.write(ctx, rec)
		case <-ctx.Done():
			return
		}
	}
}

func (s *PersistenceSink) write(ctx context.Context, rec *telemetry.Record) {
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.repo.InsertSample(writeCtx, rec); err != nil {
		metrics.ObservePersist(metrics.IngestResultError, time.Since(start))
		s.logger.Printf("persistence sink: insert error: %v", err)
		return
	}
	metrics.ObservePersist(metrics.IngestResultSuccess, time.Since(start))
}
