package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"ems-cloud/internal/observability/metrics"
	"ems-cloud/internal/telemetry/application"
	telemetry "ems-cloud/internal/telemetry/domain"
)

// IngestHandler accepts raw device payloads. Both payload variants are
// accepted on every ingest route; the normalizer sniffs the schema.
type IngestHandler struct {
	service *application.IngestService
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *application.IngestService, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("ingest handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// ServeHTTP handles POST /api/v1/ems and POST /api/v1/inverter/data.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.IngestResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.IngestResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	rec, err := h.service.Ingest(r.Context(), body)
	if err != nil {
		result = metrics.IngestResultError
		h.logger.Printf("telemetry ingest: invalid payload: %v", err)
		if verr, ok := telemetry.AsValidationError(err); ok {
			metrics.IncIngestError("invalid_payload")
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "invalid payload",
				"fields": verr.Missing,
			})
			return
		}
		metrics.IncIngestError("unknown_shape")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"message":     "data received",
		"received_at": rec.ReceivedAt.Format(time.RFC3339Nano),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
