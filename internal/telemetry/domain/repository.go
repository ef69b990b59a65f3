package telemetry

import "context"

// SampleRepository persists canonical samples to durable storage. Writes
// are best effort; callers never surface a failure to the ingestion path.
type SampleRepository interface {
	InsertSample(ctx context.Context, rec *Record) error
}
