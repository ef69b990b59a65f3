package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"ems-cloud/internal/observability/metrics"
	"ems-cloud/internal/telemetry/application"
	telemetry "ems-cloud/internal/telemetry/domain"
	telemetrypostgres "ems-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "ems-cloud/internal/telemetry/interfaces/http"
	"ems-cloud/internal/telemetry/interfaces/mqttbridge"
	"ems-cloud/internal/telemetry/interfaces/stream"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()

	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	metrics.Init()

	ctx := context.Background()

	var repo telemetry.SampleRepository
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		repo = telemetrypostgres.NewSampleRepository(db, telemetrypostgres.WithTable(cfg.SampleTable))
		logger.Printf("persistence enabled")
	}

	history := application.NewHistoryBuffer(cfg.HistoryCapacity)
	broker := stream.NewBroker(logger)

	if cfg.MQTTBrokerURL != "" {
		publisher, err := mqttbridge.NewPublisher(cfg.MQTTBrokerURL, cfg.MQTTClientID, logger, mqttbridge.WithTopic(cfg.MQTTTopic))
		if err != nil {
			logger.Fatalf("mqtt bridge error: %v", err)
		}
		defer publisher.Disconnect()
		broker.Register(publisher)
	}

	sink := application.NewPersistenceSink(repo, logger,
		application.WithSinkQueueSize(cfg.SinkQueueSize),
		application.WithSinkWriteTimeout(cfg.SinkWriteTimeout),
	)
	sink.Start(ctx)

	service, err := application.NewIngestService(history, broker, sink, logger, application.SystemClock{})
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	ingestHandler, err := telemetryhttp.NewIngestHandler(service, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	started := time.Now().UTC()
	mux := http.NewServeMux()
	mux.Handle("/api/v1/ems", ingestHandler)
	mux.Handle("/api/v1/inverter/data", ingestHandler)
	mux.Handle("/api/v1/dashboard/latest", telemetryhttp.NewLatestHandler(history))
	mux.Handle("/api/v1/dashboard/recent", telemetryhttp.NewRecentHandler(history))
	mux.Handle("/api/v1/dashboard/history", telemetryhttp.NewHistoryHandler(history))
	mux.Handle("/api/v1/dashboard/stats", telemetryhttp.NewStatsHandler(history))
	mux.Handle("/api/v1/dashboard/status", telemetryhttp.NewStatusHandler(history, broker, started))
	mux.Handle("/api/v1/export/history.csv", telemetryhttp.NewExportHandler(history, "csv"))
	mux.Handle("/api/v1/export/history.xlsx", telemetryhttp.NewExportHandler(history, "xlsx"))
	mux.Handle("/api/v1/export/history.pdf", telemetryhttp.NewExportHandler(history, "pdf"))
	mux.Handle("/api/v1/stream", stream.NewSSEHandler(broker))
	mux.Handle("/ws", stream.NewWSHandler(broker, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(mux, logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	HTTPAddr         string
	DatabaseURL      string
	SampleTable      string
	HistoryCapacity  int
	SinkQueueSize    int
	SinkWriteTimeout time.Duration
	MQTTBrokerURL    string
	MQTTClientID     string
	MQTTTopic        string
}

func loadConfig() config {
	return config{
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":"+getenvDefault("PORT", "8080")),
		DatabaseURL:      getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		SampleTable:      getenvDefault("EMS_SAMPLE_TABLE", ""),
		HistoryCapacity:  getenvIntDefault("EMS_HISTORY_CAPACITY", application.DefaultHistoryCapacity),
		SinkQueueSize:    getenvIntDefault("EMS_SINK_QUEUE_SIZE", 0),
		SinkWriteTimeout: getenvDuration("EMS_SINK_WRITE_TIMEOUT", 0),
		MQTTBrokerURL:    getenvDefault("MQTT_BROKER_URL", ""),
		MQTTClientID:     getenvDefault("MQTT_CLIENT_ID", "ems-cloud"),
		MQTTTopic:        getenvDefault("MQTT_TOPIC", "ems/telemetry"),
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack keeps the WebSocket upgrade working through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
