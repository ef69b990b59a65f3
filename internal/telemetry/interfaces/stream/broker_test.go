package stream

import (
	"encoding/json"
	"log"
	"os"
	"testing"
	"time"

	telemetry "ems-cloud/internal/telemetry/domain"
)

type stubSubscriber struct {
	received [][]byte
	fail     bool
	closed   bool
}

func (s *stubSubscriber) Send(payload []byte) error {
	if s.fail {
		return ErrSubscriberGone
	}
	s.received = append(s.received, payload)
	return nil
}

func (s *stubSubscriber) Close() error {
	s.closed = true
	return nil
}

func testRecord() *telemetry.Record {
	soc := 75.0
	return &telemetry.Record{
		ReceivedAt: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		SiteID:     "site-001",
		Battery:    telemetry.Battery{StateOfChargePct: &soc},
	}
}

func newTestBroker() *Broker {
	return NewBroker(log.New(os.Stdout, "", 0))
}

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	broker := newTestBroker()
	first := &stubSubscriber{}
	second := &stubSubscriber{}
	broker.Register(first)
	broker.Register(second)

	broker.Publish(testRecord())

	if len(first.received) != 1 || len(second.received) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(first.received), len(second.received))
	}

	var env struct {
		Type string            `json:"type"`
		Data *telemetry.Record `json:"data"`
	}
	if err := json.Unmarshal(first.received[0], &env); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if env.Type != "telemetry" {
		t.Errorf("envelope type = %q, want telemetry", env.Type)
	}
	if env.Data == nil || env.Data.SiteID != "site-001" {
		t.Errorf("envelope data = %+v", env.Data)
	}
}

func TestBrokerDropsFailedSubscriberAndContinues(t *testing.T) {
	broker := newTestBroker()
	dead := &stubSubscriber{fail: true}
	alive := &stubSubscriber{}
	broker.Register(dead)
	broker.Register(alive)

	broker.Publish(testRecord())

	if len(alive.received) != 1 {
		t.Error("healthy subscriber missed delivery because a peer failed")
	}
	if !dead.closed {
		t.Error("failed subscriber not closed")
	}
	if got := broker.Len(); got != 1 {
		t.Errorf("registry size = %d, want 1 after drop", got)
	}

	// The dropped subscriber stays gone on the next broadcast.
	broker.Publish(testRecord())
	if len(alive.received) != 2 {
		t.Error("second broadcast missed the healthy subscriber")
	}
}

func TestBrokerUnregisterDuringLifetime(t *testing.T) {
	broker := newTestBroker()
	sub := &stubSubscriber{}
	id := broker.Register(sub)
	broker.Unregister(id)
	broker.Unregister(id) // idempotent

	broker.Publish(testRecord())
	if len(sub.received) != 0 {
		t.Error("unregistered subscriber still received a broadcast")
	}
}

func TestBrokerSerializesOnce(t *testing.T) {
	broker := newTestBroker()
	first := &stubSubscriber{}
	second := &stubSubscriber{}
	broker.Register(first)
	broker.Register(second)

	broker.Publish(testRecord())

	if string(first.received[0]) != string(second.received[0]) {
		t.Error("subscribers received different serializations of one record")
	}
}

func TestChanSubscriberFullBufferFailsFast(t *testing.T) {
	sub := newChanSubscriber(1)
	if err := sub.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := sub.Send([]byte("b")); err != ErrSubscriberGone {
		t.Errorf("send to full buffer = %v, want ErrSubscriberGone", err)
	}
}

func TestChanSubscriberCloseSignalsDone(t *testing.T) {
	sub := newChanSubscriber(1)
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case <-sub.done:
	default:
		t.Fatal("done not signalled after Close")
	}
	if err := sub.Send([]byte("a")); err != ErrSubscriberGone {
		t.Errorf("send after close = %v, want ErrSubscriberGone", err)
	}
}

func TestBrokerDropReleasesStalledStreamSubscriber(t *testing.T) {
	broker := newTestBroker()
	sub := newChanSubscriber(1)
	broker.Register(sub)

	// First broadcast fills the buffer, second one trips the drop path.
	broker.Publish(testRecord())
	broker.Publish(testRecord())

	if got := broker.Len(); got != 0 {
		t.Errorf("registry size = %d, want 0 after drop", got)
	}
	select {
	case <-sub.done:
	default:
		t.Fatal("dropped subscriber not closed, serving goroutine would idle")
	}
}
