package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"ems-cloud/internal/observability/metrics"
	telemetry "ems-cloud/internal/telemetry/domain"
)

// Broadcaster fans a freshly appended record out to realtime
// subscribers. Implementations must not block on subscriber I/O.
type Broadcaster interface {
	Publish(rec *telemetry.Record)
}

// Sink receives records for best-effort persistence.
type Sink interface {
	Offer(rec *telemetry.Record)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// IngestService runs the ingestion pipeline: normalize, append to the
// bounded history, fan out, then offer to the persistence sink. The
// acknowledgement to the caller depends only on normalization and the
// append; broadcast and persistence are decoupled from it.
type IngestService struct {
	history     *HistoryBuffer
	broadcaster Broadcaster
	sink        Sink
	clock       Clock
	logger      *log.Logger

	// mu keeps broadcast and persistence order aligned with insertion
	// order when ingestion calls race. Publish and Offer only enqueue,
	// so no I/O happens under the lock.
	mu sync.Mutex
}

// NewIngestService constructs the service. Broadcaster and sink may be
// nil; history may not.
func NewIngestService(history *HistoryBuffer, broadcaster Broadcaster, sink Sink, logger *log.Logger, clock Clock) (*IngestService, error) {
	if history == nil {
		return nil, errors.New("ingest service: nil history buffer")
	}
	if logger == nil {
		logger = log.Default()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &IngestService{
		history:     history,
		broadcaster: broadcaster,
		sink:        sink,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Ingest normalizes a raw payload and runs it through the pipeline. On
// a validation error nothing downstream is touched.
func (s *IngestService) Ingest(ctx context.Context, payload []byte) (*telemetry.Record, error) {
	rec, err := telemetry.Normalize(payload, s.clock.Now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history.Append(rec)
	if s.broadcaster != nil {
		s.broadcaster.Publish(rec)
	}
	if s.sink != nil {
		s.sink.Offer(rec)
	}
	s.mu.Unlock()

	metrics.SetHistorySize(s.history.Len())
	return rec, nil
}

// History exposes the buffer for the read-side query handlers.
func (s *IngestService) History() *HistoryBuffer {
	return s.history
}
