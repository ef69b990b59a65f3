package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "ems-cloud/internal/telemetry/domain"
)

const defaultSampleTable = "ems_samples"

// SampleRepository is the Postgres implementation of the telemetry
// sample store. One row per ingested sample, canonical fields plus the
// original raw payload for audit.
type SampleRepository struct {
	db    *sql.DB
	table string
}

// NewSampleRepository constructs a repository with the default table
// name.
func NewSampleRepository(db *sql.DB, opts ...RepositoryOption) *SampleRepository {
	repo := &SampleRepository{db: db, table: defaultSampleTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SampleRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *SampleRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertSample writes one canonical sample.
func (r *SampleRepository) InsertSample(ctx context.Context, rec *telemetry.Record) error {
	if r == nil || r.db == nil {
		return errors.New("sample repo: nil db")
	}
	if rec == nil {
		return errors.New("sample repo: nil record")
	}
	if rec.ReceivedAt.IsZero() || rec.SiteID == "" {
		return errors.New("sample repo: invalid record")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	received_at,
	site_id,
	mode,
	soc_pct,
	battery_voltage,
	battery_temp_c,
	charge_current,
	discharge_current,
	pv_voltage,
	pv_current,
	pv_power,
	grid_voltage,
	grid_freq,
	out_voltage,
	out_freq,
	out_va,
	out_watt,
	load_pct,
	bus_voltage,
	status_bits,
	raw
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
)`, r.table)

	_, err := r.db.ExecContext(
		ctx,
		query,
		rec.ReceivedAt,
		rec.SiteID,
		nullString(rec.Mode),
		nullFloat(rec.Battery.StateOfChargePct),
		nullFloat(rec.Battery.Voltage),
		nullFloat(rec.Battery.TemperatureC),
		nullFloat(rec.Battery.ChargeCurrent),
		nullFloat(rec.Battery.DischargeCurrent),
		nullFloat(rec.PV.Voltage),
		nullFloat(rec.PV.Current),
		nullFloat(rec.PV.Power),
		nullFloat(rec.AC.GridVoltage),
		nullFloat(rec.AC.GridFreq),
		nullFloat(rec.AC.OutVoltage),
		nullFloat(rec.AC.OutFreq),
		nullFloat(rec.AC.OutVA),
		nullFloat(rec.AC.OutWatt),
		nullFloat(rec.AC.LoadPct),
		nullFloat(rec.BusVoltage),
		nullInt(rec.StatusBits),
		[]byte(rec.Raw),
	)
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
