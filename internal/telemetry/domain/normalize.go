package telemetry

import (
	"encoding/json"
	"math"
	"time"
)

// Normalize maps a raw device payload into a canonical Record. The
// payload variant is selected by schema sniffing: inverter frames carry
// a top-level "type" and "metrics", summary reports carry "ts" and
// "site". Payloads missing mandatory fields yield a *ValidationError
// and no record.
//
// receivedAt is assigned by the caller at ingestion time; apart from it
// the mapping is pure.
func Normalize(raw []byte, receivedAt time.Time) (*Record, error) {
	var probe struct {
		Type    string          `json:"type"`
		Metrics json.RawMessage `json:"metrics"`
		TS      json.RawMessage `json:"ts"`
		Site    json.RawMessage `json:"site"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &ValidationError{Variant: "json", Missing: nil}
	}

	switch {
	case probe.Type != "" || len(probe.Metrics) > 0:
		return normalizeInverterFrame(raw, receivedAt)
	case len(probe.TS) > 0 || len(probe.Site) > 0:
		return normalizeSummaryReport(raw, receivedAt)
	default:
		return nil, ErrUnknownPayload
	}
}

// inverterFrame is the QPIGS-style frame pushed by the board gateway.
type inverterFrame struct {
	Type    string           `json:"type"`
	TSMs    int64            `json:"ts_ms"`
	CRCOK   *bool            `json:"crc_ok"`
	SiteID  string           `json:"site_id"`
	Metrics *inverterMetrics `json:"metrics"`
}

type inverterMetrics struct {
	GridVoltage      *float64 `json:"grid_voltage"`
	GridFreq         *float64 `json:"grid_freq"`
	ACOutVoltage     *float64 `json:"ac_out_voltage"`
	ACOutFreq        *float64 `json:"ac_out_freq"`
	ACOutVA          *float64 `json:"ac_out_va"`
	ACOutWatt        *float64 `json:"ac_out_watt"`
	LoadPercent      *float64 `json:"load_percent"`
	BusVoltage       *float64 `json:"bus_voltage"`
	BattVoltage      *float64 `json:"batt_voltage"`
	BattChargeA      *float64 `json:"batt_charge_current"`
	BattCapacityPct  *float64 `json:"batt_capacity_percent"`
	HeatsinkTemp     *float64 `json:"heatsink_temp"`
	PVInputVoltage   *float64 `json:"pv_input_voltage"`
	PVInputCurrent   *float64 `json:"pv_input_current"`
	PVInputPower     *float64 `json:"pv_input_power"`
	BattDischargeA   *float64 `json:"batt_discharge_current"`
	DeviceStatusBits *int64   `json:"device_status_bits"`
}

// empty reports whether the metrics object carries no known field. An
// empty or unrecognized metrics object is as useless as a missing one.
func (m *inverterMetrics) empty() bool {
	return m.GridVoltage == nil && m.GridFreq == nil &&
		m.ACOutVoltage == nil && m.ACOutFreq == nil &&
		m.ACOutVA == nil && m.ACOutWatt == nil &&
		m.LoadPercent == nil && m.BusVoltage == nil &&
		m.BattVoltage == nil && m.BattChargeA == nil &&
		m.BattCapacityPct == nil && m.HeatsinkTemp == nil &&
		m.PVInputVoltage == nil && m.PVInputCurrent == nil &&
		m.PVInputPower == nil && m.BattDischargeA == nil &&
		m.DeviceStatusBits == nil
}

func normalizeInverterFrame(raw []byte, receivedAt time.Time) (*Record, error) {
	var frame inverterFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, &ValidationError{Variant: "inverter"}
	}

	missing := make([]string, 0, 3)
	if frame.Type == "" {
		missing = append(missing, "type")
	}
	if frame.TSMs <= 0 {
		missing = append(missing, "ts_ms")
	}
	if frame.Metrics == nil || frame.Metrics.empty() {
		missing = append(missing, "metrics")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Variant: "inverter", Missing: missing}
	}

	m := frame.Metrics
	siteID := frame.SiteID
	if siteID == "" {
		siteID = UnknownSite
	}

	rec := &Record{
		ReceivedAt: receivedAt,
		SiteID:     siteID,
		Battery: Battery{
			StateOfChargePct: finite(m.BattCapacityPct),
			Voltage:          finite(m.BattVoltage),
			TemperatureC:     finite(m.HeatsinkTemp),
			ChargeCurrent:    finite(m.BattChargeA),
			DischargeCurrent: finite(m.BattDischargeA),
		},
		PV: PV{
			Voltage: finite(m.PVInputVoltage),
			Current: finite(m.PVInputCurrent),
			Power:   finite(m.PVInputPower),
		},
		AC: AC{
			GridVoltage: finite(m.GridVoltage),
			GridFreq:    finite(m.GridFreq),
			OutVoltage:  finite(m.ACOutVoltage),
			OutFreq:     finite(m.ACOutFreq),
			OutVA:       finite(m.ACOutVA),
			OutWatt:     finite(m.ACOutWatt),
			LoadPct:     finite(m.LoadPercent),
		},
		BusVoltage: finite(m.BusVoltage),
		StatusBits: m.DeviceStatusBits,
		Raw:        append(json.RawMessage(nil), raw...),
	}
	derivePVPower(&rec.PV)
	return rec, nil
}

// summaryReport is the condensed EMS report variant.
type summaryReport struct {
	TS   json.RawMessage `json:"ts"`
	Site *summarySite    `json:"site"`
	Mode *summaryMode    `json:"mode"`
	DC   *summaryDC      `json:"dc"`
	PV   *summaryPV      `json:"pv"`
}

type summarySite struct {
	ID string `json:"id"`
}

type summaryMode struct {
	Name string `json:"name"`
}

type summaryDC struct {
	SOCPct     *float64 `json:"soc_pct"`
	TempC      *float64 `json:"temp_c"`
	Voltage    *float64 `json:"volt"`
	ChargeA    *float64 `json:"charge_a"`
	DischargeA *float64 `json:"discharge_a"`
}

type summaryPV struct {
	PowerW  *float64 `json:"pv_w"`
	Voltage *float64 `json:"volt"`
	Current *float64 `json:"amp"`
}

func normalizeSummaryReport(raw []byte, receivedAt time.Time) (*Record, error) {
	var report summaryReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, &ValidationError{Variant: "summary"}
	}

	missing := make([]string, 0, 4)
	if len(report.TS) == 0 {
		missing = append(missing, "ts")
	}
	if report.Site == nil {
		missing = append(missing, "site")
	}
	if report.DC == nil {
		missing = append(missing, "dc")
	}
	if report.PV == nil {
		missing = append(missing, "pv")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Variant: "summary", Missing: missing}
	}

	siteID := report.Site.ID
	if siteID == "" {
		siteID = UnknownSite
	}
	mode := ""
	if report.Mode != nil {
		mode = report.Mode.Name
	}

	rec := &Record{
		ReceivedAt: receivedAt,
		SiteID:     siteID,
		Mode:       mode,
		Battery: Battery{
			StateOfChargePct: finite(report.DC.SOCPct),
			Voltage:          finite(report.DC.Voltage),
			TemperatureC:     finite(report.DC.TempC),
			ChargeCurrent:    finite(report.DC.ChargeA),
			DischargeCurrent: finite(report.DC.DischargeA),
		},
		PV: PV{
			Voltage: finite(report.PV.Voltage),
			Current: finite(report.PV.Current),
			Power:   finite(report.PV.PowerW),
		},
		Raw: append(json.RawMessage(nil), raw...),
	}
	derivePVPower(&rec.PV)
	return rec, nil
}

// derivePVPower fills pv.power from voltage*current when the device did
// not report it. Both factors must be present; otherwise power stays
// absent.
func derivePVPower(pv *PV) {
	if pv.Power != nil || pv.Voltage == nil || pv.Current == nil {
		return
	}
	power := Round2(*pv.Voltage * *pv.Current)
	if math.IsNaN(power) || math.IsInf(power, 0) {
		return
	}
	pv.Power = &power
}

// Round2 rounds to 2 decimal places, the precision used for derived and
// averaged values.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
