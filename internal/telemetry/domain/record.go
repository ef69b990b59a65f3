package telemetry

import (
	"encoding/json"
	"time"
)

// UnknownSite is the site identifier assigned when a payload carries none.
const UnknownSite = "unknown"

// Record is the canonical telemetry sample all downstream components
// operate on. It is immutable once constructed by the normalizer.
type Record struct {
	ReceivedAt time.Time `json:"received_at"`
	SiteID     string    `json:"site_id"`
	Mode       string    `json:"mode,omitempty"`

	Battery Battery `json:"battery"`
	PV      PV      `json:"pv"`
	AC      AC      `json:"ac"`

	BusVoltage *float64 `json:"bus_voltage,omitempty"`
	StatusBits *int64   `json:"status_bits,omitempty"`

	// Raw keeps the original payload for audit persistence only. It is
	// excluded from broadcast and query serialization.
	Raw json.RawMessage `json:"-"`
}

// Battery groups DC-side battery metrics. Every field is independently
// optional.
type Battery struct {
	StateOfChargePct *float64 `json:"state_of_charge_pct,omitempty"`
	Voltage          *float64 `json:"voltage,omitempty"`
	TemperatureC     *float64 `json:"temperature_c,omitempty"`
	ChargeCurrent    *float64 `json:"charge_current,omitempty"`
	DischargeCurrent *float64 `json:"discharge_current,omitempty"`
}

// PV groups photovoltaic input metrics. Power is derived from
// voltage*current when the device does not report it directly.
type PV struct {
	Voltage *float64 `json:"voltage,omitempty"`
	Current *float64 `json:"current,omitempty"`
	Power   *float64 `json:"power,omitempty"`
}

// AC groups grid and inverter output metrics.
type AC struct {
	GridVoltage *float64 `json:"grid_voltage,omitempty"`
	GridFreq    *float64 `json:"grid_freq,omitempty"`
	OutVoltage  *float64 `json:"out_voltage,omitempty"`
	OutFreq     *float64 `json:"out_freq,omitempty"`
	OutVA       *float64 `json:"out_va,omitempty"`
	OutWatt     *float64 `json:"out_watt,omitempty"`
	LoadPct     *float64 `json:"load_pct,omitempty"`
}
