package telemetry

import (
	"strings"
	"testing"
	"time"
)

var testReceivedAt = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func TestNormalizeInverterFrame(t *testing.T) {
	payload := []byte(`{
		"type": "QPIGS",
		"ts_ms": 1767782400000,
		"crc_ok": true,
		"metrics": {
			"grid_voltage": 230.1,
			"grid_freq": 50.0,
			"ac_out_voltage": 229.9,
			"ac_out_watt": 150.5,
			"load_percent": 12,
			"bus_voltage": 335,
			"batt_voltage": 48.2,
			"batt_capacity_percent": 87,
			"heatsink_temp": 37.5,
			"batt_charge_current": 3.2,
			"batt_discharge_current": 0,
			"pv_input_voltage": 120,
			"pv_input_current": 5,
			"device_status_bits": 16
		}
	}`)

	rec, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if rec.ReceivedAt != testReceivedAt {
		t.Errorf("received_at = %v, want %v", rec.ReceivedAt, testReceivedAt)
	}
	if rec.SiteID != UnknownSite {
		t.Errorf("site_id = %q, want sentinel %q", rec.SiteID, UnknownSite)
	}
	if got := *rec.Battery.StateOfChargePct; got != 87 {
		t.Errorf("soc = %v, want 87", got)
	}
	if got := *rec.Battery.TemperatureC; got != 37.5 {
		t.Errorf("battery temp = %v, want 37.5", got)
	}
	if got := *rec.AC.OutWatt; got != 150.5 {
		t.Errorf("out watt = %v, want 150.5", got)
	}
	if rec.StatusBits == nil || *rec.StatusBits != 16 {
		t.Errorf("status_bits = %v, want 16", rec.StatusBits)
	}
	if len(rec.Raw) == 0 {
		t.Error("raw payload not retained")
	}
}

func TestNormalizeDerivesPVPower(t *testing.T) {
	payload := []byte(`{
		"type": "QPIGS",
		"ts_ms": 1767782400000,
		"metrics": {"pv_input_voltage": 120, "pv_input_current": 5}
	}`)

	rec, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.PV.Power == nil {
		t.Fatal("pv power not derived")
	}
	if got := *rec.PV.Power; got != 600.00 {
		t.Errorf("pv power = %v, want 600.00", got)
	}
}

func TestNormalizePVPowerAbsentWhenFactorMissing(t *testing.T) {
	payload := []byte(`{
		"type": "QPIGS",
		"ts_ms": 1767782400000,
		"metrics": {"pv_input_voltage": 120}
	}`)

	rec, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.PV.Power != nil {
		t.Errorf("pv power = %v, want absent", *rec.PV.Power)
	}
}

func TestNormalizePVPowerPassThrough(t *testing.T) {
	payload := []byte(`{
		"type": "QPIGS",
		"ts_ms": 1767782400000,
		"metrics": {"pv_input_voltage": 120, "pv_input_current": 5, "pv_input_power": 555.5}
	}`)

	rec, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.PV.Power == nil || *rec.PV.Power != 555.5 {
		t.Errorf("pv power = %v, want reported 555.5", rec.PV.Power)
	}
}

func TestNormalizeInverterMissingFields(t *testing.T) {
	payload := []byte(`{"type": "QPIGS"}`)

	_, err := Normalize(payload, testReceivedAt)
	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if !containsField(verr.Missing, "ts_ms") || !containsField(verr.Missing, "metrics") {
		t.Errorf("missing fields = %v, want ts_ms and metrics", verr.Missing)
	}
	if strings.Contains(strings.Join(verr.Missing, ","), "type") {
		t.Errorf("type reported missing though present: %v", verr.Missing)
	}
}

func TestNormalizeInverterRejectsEmptyMetrics(t *testing.T) {
	for name, payload := range map[string]string{
		"empty object":    `{"type": "QPIGS", "ts_ms": 1767782400000, "metrics": {}}`,
		"unknown fields":  `{"type": "QPIGS", "ts_ms": 1767782400000, "metrics": {"bogus": 1}}`,
		"all fields null": `{"type": "QPIGS", "ts_ms": 1767782400000, "metrics": {"grid_voltage": null}}`,
	} {
		_, err := Normalize([]byte(payload), testReceivedAt)
		verr, ok := AsValidationError(err)
		if !ok {
			t.Fatalf("%s: want ValidationError, got %v", name, err)
		}
		if !containsField(verr.Missing, "metrics") {
			t.Errorf("%s: missing fields = %v, want metrics", name, verr.Missing)
		}
	}
}

func TestNormalizeDropsNonFiniteDerivedPVPower(t *testing.T) {
	// The product overflows float64 to +Inf; power must stay absent.
	payload := []byte(`{
		"type": "QPIGS",
		"ts_ms": 1767782400000,
		"metrics": {"pv_input_voltage": 1e308, "pv_input_current": 1e308}
	}`)

	rec, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.PV.Power != nil {
		t.Errorf("pv power = %v, want absent for non-finite product", *rec.PV.Power)
	}
}

func TestNormalizeSummaryReport(t *testing.T) {
	payload := []byte(`{
		"ts": 1767782400,
		"site": {"id": "site-042"},
		"mode": {"name": "battery"},
		"dc": {"soc_pct": 73, "temp_c": 31.2, "volt": 48.1},
		"pv": {"pv_w": 420.5}
	}`)

	rec, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.SiteID != "site-042" {
		t.Errorf("site_id = %q, want site-042", rec.SiteID)
	}
	if rec.Mode != "battery" {
		t.Errorf("mode = %q, want battery", rec.Mode)
	}
	if got := *rec.Battery.StateOfChargePct; got != 73 {
		t.Errorf("soc = %v, want 73", got)
	}
	if got := *rec.PV.Power; got != 420.5 {
		t.Errorf("pv power = %v, want 420.5", got)
	}
}

func TestNormalizeSummaryMissingFields(t *testing.T) {
	payload := []byte(`{"ts": 1767782400, "site": {"id": "x"}}`)

	_, err := Normalize(payload, testReceivedAt)
	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if !containsField(verr.Missing, "dc") || !containsField(verr.Missing, "pv") {
		t.Errorf("missing fields = %v, want dc and pv", verr.Missing)
	}
}

func TestNormalizeUnknownShape(t *testing.T) {
	if _, err := Normalize([]byte(`{"hello": "world"}`), testReceivedAt); err != ErrUnknownPayload {
		t.Errorf("err = %v, want ErrUnknownPayload", err)
	}
}

func TestNormalizeMalformedJSON(t *testing.T) {
	_, err := Normalize([]byte(`{not json`), testReceivedAt)
	if _, ok := AsValidationError(err); !ok {
		t.Errorf("want ValidationError for malformed json, got %v", err)
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	payload := []byte(`{
		"type": "QPIGS",
		"ts_ms": 1767782400000,
		"metrics": {"batt_capacity_percent": 55, "pv_input_voltage": 100, "pv_input_current": 2}
	}`)

	first, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	second, err := Normalize(payload, testReceivedAt)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if *first.Battery.StateOfChargePct != *second.Battery.StateOfChargePct ||
		*first.PV.Power != *second.PV.Power ||
		first.SiteID != second.SiteID {
		t.Error("normalization not deterministic for identical payloads")
	}
}

func containsField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}
