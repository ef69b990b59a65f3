package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ems-cloud/internal/telemetry/application"
)

const (
	timeLayout         = time.RFC3339
	defaultRecentLimit = 50
)

// LatestHandler serves the most recent canonical record.
type LatestHandler struct {
	history *application.HistoryBuffer
}

// NewLatestHandler constructs a LatestHandler.
func NewLatestHandler(history *application.HistoryBuffer) *LatestHandler {
	return &LatestHandler{history: history}
}

// ServeHTTP handles GET /api/v1/dashboard/latest.
func (h *LatestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	latest := h.history.Latest()
	if latest == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "no data received yet",
			"hint":    "waiting for a device gateway to push telemetry",
		})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// RecentHandler serves the trailing window of records for graphs.
type RecentHandler struct {
	history *application.HistoryBuffer
}

// NewRecentHandler constructs a RecentHandler.
func NewRecentHandler(history *application.HistoryBuffer) *RecentHandler {
	return &RecentHandler{history: history}
}

// ServeHTTP handles GET /api/v1/dashboard/recent?limit=50.
func (h *RecentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := parseLimit(r, "limit", defaultRecentLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records := h.history.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(records),
		"data":  records,
	})
}

// HistoryHandler serves time-bounded range queries.
type HistoryHandler struct {
	history *application.HistoryBuffer
}

// NewHistoryHandler constructs a HistoryHandler.
func NewHistoryHandler(history *application.HistoryBuffer) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// ServeHTTP handles GET /api/v1/dashboard/history?start=..&end=..&limit=..
// Both bounds are required RFC3339 timestamps. When the range holds
// more than limit records, the most recent limit entries are returned.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	startRaw := r.URL.Query().Get("start")
	endRaw := r.URL.Query().Get("end")
	if startRaw == "" || endRaw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "missing required parameters",
			"message": "start and end parameters are required (RFC3339)",
			"example": "/api/v1/dashboard/history?start=2026-01-01T00:00:00Z&end=2026-01-01T23:59:59Z",
		})
		return
	}
	start, err := time.Parse(timeLayout, startRaw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid start: %v", err), http.StatusBadRequest)
		return
	}
	end, err := time.Parse(timeLayout, endRaw)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid end: %v", err), http.StatusBadRequest)
		return
	}
	limit, err := parseLimit(r, "limit", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records := h.history.Range(start, end, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(records),
		"data":  records,
	})
}

// StatsHandler serves rolling statistics over the trailing window.
type StatsHandler struct {
	history *application.HistoryBuffer
}

// NewStatsHandler constructs a StatsHandler.
func NewStatsHandler(history *application.HistoryBuffer) *StatsHandler {
	return &StatsHandler{history: history}
}

// ServeHTTP handles GET /api/v1/dashboard/stats?limit=100.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := parseLimit(r, "limit", application.DefaultStatsWindow)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snapshot := h.history.Stats(limit)
	if snapshot.Count == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "no data available for statistics",
			"count":   0,
		})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// StatusHandler reports server liveness and ingestion counters.
type StatusHandler struct {
	history *application.HistoryBuffer
	broker  interface{ Len() int }
	started time.Time
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(history *application.HistoryBuffer, broker interface{ Len() int }, started time.Time) *StatusHandler {
	return &StatusHandler{history: history, broker: broker, started: started}
}

// ServeHTTP handles GET /api/v1/dashboard/status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var lastUpdate any
	if latest := h.history.Latest(); latest != nil {
		lastUpdate = latest.ReceivedAt.Format(time.RFC3339Nano)
	}
	subscribers := 0
	if h.broker != nil {
		subscribers = h.broker.Len()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "online",
		"data_count":     h.history.Len(),
		"max_history":    h.history.Capacity(),
		"last_update":    lastUpdate,
		"subscribers":    subscribers,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"endpoints": map[string]string{
			"ingest":  "POST /api/v1/ems",
			"latest":  "GET /api/v1/dashboard/latest",
			"recent":  "GET /api/v1/dashboard/recent?limit=50",
			"history": "GET /api/v1/dashboard/history?start=...&end=...",
			"stats":   "GET /api/v1/dashboard/stats?limit=100",
			"stream":  "GET /api/v1/stream",
			"ws":      "GET /ws",
		},
	})
}

func parseLimit(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return parsed, nil
}
