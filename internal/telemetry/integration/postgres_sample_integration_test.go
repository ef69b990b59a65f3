package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	telemetry "ems-cloud/internal/telemetry/domain"
	telemetrypostgres "ems-cloud/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSampleRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "ems_samples") {
		t.Skip("ems_samples missing; run migrations")
	}

	ctx := context.Background()
	siteID := "site-it"
	receivedAt := time.Date(2026, time.January, 21, 9, 0, 0, 0, time.UTC)

	_, _ = db.ExecContext(ctx, "DELETE FROM ems_samples WHERE site_id = $1", siteID)

	repo := telemetrypostgres.NewSampleRepository(db)

	soc := 87.0
	power := 600.0
	rec := &telemetry.Record{
		ReceivedAt: receivedAt,
		SiteID:     siteID,
		Mode:       "battery",
		Battery:    telemetry.Battery{StateOfChargePct: &soc},
		PV:         telemetry.PV{Power: &power},
		Raw:        json.RawMessage(`{"type":"QPIGS","ts_ms":1,"metrics":{}}`),
	}
	if err := repo.InsertSample(ctx, rec); err != nil {
		t.Fatalf("insert sample: %v", err)
	}

	var (
		gotMode sql.NullString
		gotSOC  sql.NullFloat64
		gotPV   sql.NullFloat64
		gotGrid sql.NullFloat64
	)
	row := db.QueryRowContext(ctx,
		"SELECT mode, soc_pct, pv_power, grid_voltage FROM ems_samples WHERE site_id = $1 AND received_at = $2",
		siteID, receivedAt,
	)
	if err := row.Scan(&gotMode, &gotSOC, &gotPV, &gotGrid); err != nil {
		t.Fatalf("scan inserted row: %v", err)
	}
	if !gotMode.Valid || gotMode.String != "battery" {
		t.Errorf("mode = %+v, want battery", gotMode)
	}
	if !gotSOC.Valid || gotSOC.Float64 != soc {
		t.Errorf("soc = %+v, want %v", gotSOC, soc)
	}
	if !gotPV.Valid || gotPV.Float64 != power {
		t.Errorf("pv_power = %+v, want %v", gotPV, power)
	}
	if gotGrid.Valid {
		t.Errorf("grid_voltage = %+v, want NULL for absent field", gotGrid)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
	return err == nil && exists
}
