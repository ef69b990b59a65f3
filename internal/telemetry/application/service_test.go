package application

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	telemetry "ems-cloud/internal/telemetry/domain"
)

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

type recordingBroadcaster struct {
	published []*telemetry.Record
}

func (b *recordingBroadcaster) Publish(rec *telemetry.Record) {
	b.published = append(b.published, rec)
}

type recordingSink struct {
	offered []*telemetry.Record
}

func (s *recordingSink) Offer(rec *telemetry.Record) {
	s.offered = append(s.offered, rec)
}

func newTestService(t *testing.T) (*IngestService, *HistoryBuffer, *recordingBroadcaster, *recordingSink) {
	t.Helper()
	history := NewHistoryBuffer(16)
	broadcaster := &recordingBroadcaster{}
	sink := &recordingSink{}
	logger := log.New(os.Stdout, "", 0)
	service, err := NewIngestService(history, broadcaster, sink, logger, fixedClock{at: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, history, broadcaster, sink
}

func TestIngestPipeline(t *testing.T) {
	service, history, broadcaster, sink := newTestService(t)

	payload := []byte(`{
		"type": "QPIGS",
		"ts_ms": 1767782400000,
		"metrics": {"pv_input_voltage": 120, "pv_input_current": 5, "batt_capacity_percent": 80}
	}`)

	rec, err := service.Ingest(context.Background(), payload)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	latest := history.Latest()
	if latest == nil || latest != rec {
		t.Fatal("ingested record not appended as latest")
	}
	if latest.PV.Power == nil || *latest.PV.Power != 600.00 {
		t.Errorf("latest pv power = %v, want 600.00", latest.PV.Power)
	}

	if len(broadcaster.published) != 1 || broadcaster.published[0] != rec {
		t.Error("record not broadcast exactly once")
	}
	if len(sink.offered) != 1 || sink.offered[0] != rec {
		t.Error("record not offered to persistence sink")
	}
}

func TestIngestValidationErrorTouchesNothing(t *testing.T) {
	service, history, broadcaster, sink := newTestService(t)

	_, err := service.Ingest(context.Background(), []byte(`{"type": "QPIGS"}`))
	if _, ok := telemetry.AsValidationError(err); !ok {
		t.Fatalf("want ValidationError, got %v", err)
	}

	if history.Len() != 0 {
		t.Error("buffer mutated on validation error")
	}
	if len(broadcaster.published) != 0 {
		t.Error("broadcast attempted on validation error")
	}
	if len(sink.offered) != 0 {
		t.Error("persistence attempted on validation error")
	}
}

func TestIngestOrderMatchesBroadcastOrder(t *testing.T) {
	service, history, broadcaster, _ := newTestService(t)

	payloads := [][]byte{
		[]byte(`{"type":"QPIGS","ts_ms":1,"metrics":{"batt_capacity_percent":10}}`),
		[]byte(`{"type":"QPIGS","ts_ms":2,"metrics":{"batt_capacity_percent":20}}`),
		[]byte(`{"type":"QPIGS","ts_ms":3,"metrics":{"batt_capacity_percent":30}}`),
	}
	for _, p := range payloads {
		if _, err := service.Ingest(context.Background(), p); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	appended := history.Recent(3)
	if len(appended) != 3 || len(broadcaster.published) != 3 {
		t.Fatalf("appended=%d published=%d, want 3/3", len(appended), len(broadcaster.published))
	}
	for i := range appended {
		if appended[i] != broadcaster.published[i] {
			t.Errorf("broadcast order diverges from insertion order at %d", i)
		}
	}
}

type failingRepo struct{}

func (failingRepo) InsertSample(_ context.Context, _ *telemetry.Record) error {
	return context.DeadlineExceeded
}

func TestIngestSurvivesFailingPersistence(t *testing.T) {
	history := NewHistoryBuffer(16)
	logger := log.New(os.Stdout, "", 0)

	sink := NewPersistenceSink(failingRepo{}, logger, WithSinkQueueSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)

	service, err := NewIngestService(history, nil, sink, logger, SystemClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	payload := []byte(`{"type":"QPIGS","ts_ms":1,"metrics":{"batt_capacity_percent":42}}`)
	rec, err := service.Ingest(context.Background(), payload)
	if err != nil {
		t.Fatalf("ingest should succeed despite failing store: %v", err)
	}
	if history.Latest() != rec {
		t.Error("record missing from history despite failing store")
	}
}

func TestPersistenceSinkNoopWithoutRepo(t *testing.T) {
	sink := NewPersistenceSink(nil, log.New(os.Stdout, "", 0))
	sink.Start(context.Background())
	// Offer must be a harmless no-op.
	sink.Offer(&telemetry.Record{SiteID: "site-001", ReceivedAt: time.Now()})
}

type countingRepo struct {
	inserted chan *telemetry.Record
}

func (r *countingRepo) InsertSample(_ context.Context, rec *telemetry.Record) error {
	r.inserted <- rec
	return nil
}

func TestPersistenceSinkWritesAsync(t *testing.T) {
	repo := &countingRepo{inserted: make(chan *telemetry.Record, 1)}
	sink := NewPersistenceSink(repo, log.New(os.Stdout, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)

	rec := &telemetry.Record{SiteID: "site-001", ReceivedAt: time.Now()}
	sink.Offer(rec)

	select {
	case got := <-repo.inserted:
		if got != rec {
			t.Error("sink wrote a different record")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not write within deadline")
	}
}
