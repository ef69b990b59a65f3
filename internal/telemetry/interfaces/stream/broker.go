package stream

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"

	"ems-cloud/internal/observability/metrics"
	telemetry "ems-cloud/internal/telemetry/domain"
)

// ErrSubscriberGone marks a subscriber whose connection is closed or
// whose outbound buffer is full. The broker drops it and moves on.
var ErrSubscriberGone = errors.New("stream: subscriber gone")

// Subscriber is one live outbound connection. Send must not block on
// network I/O; it either enqueues the payload or fails fast.
type Subscriber interface {
	Send(payload []byte) error
}

// envelope is the wire shape pushed to every subscriber.
type envelope struct {
	Type string            `json:"type"`
	Data *telemetry.Record `json:"data"`
}

// Broker tracks live subscribers and fans each ingested record out to
// all of them. One bad subscriber never blocks or fails delivery to
// the rest.
type Broker struct {
	logger *log.Logger

	mu   sync.Mutex
	seq  uint64
	subs map[uint64]Subscriber
}

// NewBroker constructs a broker.
func NewBroker(logger *log.Logger) *Broker {
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{
		logger: logger,
		subs:   make(map[uint64]Subscriber),
	}
}

// Register adds a subscriber and returns its id.
func (b *Broker) Register(sub Subscriber) uint64 {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = sub
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetStreamSubscribers(n)
	return id
}

// Unregister removes a subscriber. Safe to call for an id that is
// already gone.
func (b *Broker) Unregister(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetStreamSubscribers(n)
}

// Len reports the current number of subscribers.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish serializes the record once and attempts delivery to every
// currently registered subscriber. A failed delivery drops that
// subscriber and the broadcast continues.
func (b *Broker) Publish(rec *telemetry.Record) {
	if b == nil || rec == nil {
		return
	}
	payload, err := json.Marshal(envelope{Type: "telemetry", Data: rec})
	if err != nil {
		b.logger.Printf("stream broker: marshal error: %v", err)
		return
	}

	type entry struct {
		id  uint64
		sub Subscriber
	}
	b.mu.Lock()
	snapshot := make([]entry, 0, len(b.subs))
	for id, sub := range b.subs {
		snapshot = append(snapshot, entry{id: id, sub: sub})
	}
	b.mu.Unlock()

	for _, e := range snapshot {
		if err := e.sub.Send(payload); err != nil {
			b.Unregister(e.id)
			if closer, ok := e.sub.(io.Closer); ok {
				_ = closer.Close()
			}
			metrics.IncBroadcastDropped("send_error")
			b.logger.Printf("stream broker: dropping subscriber %d: %v", e.id, err)
			continue
		}
		metrics.IncBroadcastDelivered()
	}
}
