package stream

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsBufferSize   = 16
	wsWriteTimeout = 10 * time.Second
)

// wsSubscriber pushes broadcast payloads to one WebSocket client
// through a bounded queue drained by a dedicated write pump.
type wsSubscriber struct {
	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSubscriber) Send(payload []byte) error {
	select {
	case s.out <- payload:
		return nil
	case <-s.done:
		return ErrSubscriberGone
	default:
		return ErrSubscriberGone
	}
}

// Close tears the connection down and releases the write pump. Safe to
// call from any goroutine, any number of times.
func (s *wsSubscriber) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

// writePump serializes all writes to the connection.
func (s *wsSubscriber) writePump() {
	defer s.Close()
	for {
		select {
		case payload := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// WSHandler upgrades connections and registers them as broadcast
// subscribers.
type WSHandler struct {
	broker   *Broker
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler constructs the handler.
func NewWSHandler(broker *Broker, logger *log.Logger) *WSHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &WSHandler{
		broker: broker,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP handles GET /ws.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws: upgrade error: %v", err)
		return
	}

	sub := &wsSubscriber{
		conn: conn,
		out:  make(chan []byte, wsBufferSize),
		done: make(chan struct{}),
	}
	id := h.broker.Register(sub)
	go sub.writePump()

	// Reader loop: clients send nothing meaningful, but reading is what
	// surfaces the close handshake.
	go func() {
		defer func() {
			h.broker.Unregister(id)
			_ = sub.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
