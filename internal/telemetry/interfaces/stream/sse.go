package stream

import (
	"net/http"
	"sync"
)

const sseBufferSize = 16

// chanSubscriber adapts a buffered channel to the Subscriber
// interface. A full buffer counts as a failed delivery so a stalled
// reader cannot pin broadcast resources. The broker closes dropped
// subscribers, which releases the serving goroutine.
type chanSubscriber struct {
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newChanSubscriber(buffer int) *chanSubscriber {
	return &chanSubscriber{
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *chanSubscriber) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrSubscriberGone
	default:
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return ErrSubscriberGone
	}
}

// Close signals the serving goroutine to stop. Safe to call more than
// once; out is never closed so racing Sends cannot panic.
func (c *chanSubscriber) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// SSEHandler serves the server-sent-events telemetry stream. A newly
// connected client receives no historical backlog, only a ready event;
// it catches up via the recent/history endpoints.
type SSEHandler struct {
	broker *Broker
}

// NewSSEHandler constructs the handler.
func NewSSEHandler(broker *Broker) *SSEHandler {
	return &SSEHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/stream.
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := newChanSubscriber(sseBufferSize)
	id := h.broker.Register(sub)
	defer h.broker.Unregister(id)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case payload := <-sub.out:
			_, _ = w.Write([]byte("event: telemetry\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-sub.done:
			return
		case <-notify:
			return
		}
	}
}
