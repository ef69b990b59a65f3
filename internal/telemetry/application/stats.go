package application

import (
	"time"

	telemetry "ems-cloud/internal/telemetry/domain"
)

// DefaultStatsWindow is the trailing window size used when a stats
// query does not specify one.
const DefaultStatsWindow = 100

// FieldStats summarizes the populated values of one tracked field
// within a window. All three members are nil when no record in the
// window carried the field.
type FieldStats struct {
	Avg *float64 `json:"avg"`
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// StatsSnapshot is computed on demand over the trailing window of the
// history buffer. Count is the number of records actually examined.
type StatsSnapshot struct {
	Count int        `json:"count"`
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`

	StateOfChargePct    FieldStats `json:"state_of_charge_pct"`
	PVPower             FieldStats `json:"pv_power"`
	OutWatt             FieldStats `json:"out_watt"`
	BatteryVoltage      FieldStats `json:"battery_voltage"`
	BatteryTemperatureC FieldStats `json:"battery_temperature_c"`
	LoadPct             FieldStats `json:"load_pct"`
}

// Stats computes summary statistics over the last min(limit, length)
// records. A non-positive limit selects DefaultStatsWindow.
func (b *HistoryBuffer) Stats(limit int) StatsSnapshot {
	if limit <= 0 {
		limit = DefaultStatsWindow
	}
	window := b.Recent(limit)

	snapshot := StatsSnapshot{Count: len(window)}
	if len(window) == 0 {
		return snapshot
	}
	from := window[0].ReceivedAt
	to := window[len(window)-1].ReceivedAt
	snapshot.From = &from
	snapshot.To = &to

	snapshot.StateOfChargePct = fieldStats(window, func(r *telemetry.Record) *float64 { return r.Battery.StateOfChargePct })
	snapshot.PVPower = fieldStats(window, func(r *telemetry.Record) *float64 { return r.PV.Power })
	snapshot.OutWatt = fieldStats(window, func(r *telemetry.Record) *float64 { return r.AC.OutWatt })
	snapshot.BatteryVoltage = fieldStats(window, func(r *telemetry.Record) *float64 { return r.Battery.Voltage })
	snapshot.BatteryTemperatureC = fieldStats(window, func(r *telemetry.Record) *float64 { return r.Battery.TemperatureC })
	snapshot.LoadPct = fieldStats(window, func(r *telemetry.Record) *float64 { return r.AC.LoadPct })
	return snapshot
}

// fieldStats aggregates the non-nil values of one field. The average is
// rounded to 2 decimal places; min and max are exact. A window with no
// populated values yields the zero FieldStats, never zeros.
func fieldStats(window []*telemetry.Record, get func(*telemetry.Record) *float64) FieldStats {
	var (
		sum      float64
		min, max float64
		n        int
	)
	for _, rec := range window {
		v := get(rec)
		if v == nil {
			continue
		}
		if n == 0 {
			min, max = *v, *v
		} else {
			if *v < min {
				min = *v
			}
			if *v > max {
				max = *v
			}
		}
		sum += *v
		n++
	}
	if n == 0 {
		return FieldStats{}
	}
	avg := telemetry.Round2(sum / float64(n))
	return FieldStats{Avg: &avg, Min: &min, Max: &max}
}
