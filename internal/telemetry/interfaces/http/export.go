package http

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"ems-cloud/internal/observability/metrics"
	"ems-cloud/internal/telemetry/application"
	telemetry "ems-cloud/internal/telemetry/domain"
)

const defaultExportLimit = 500

var exportColumns = []string{
	"received_at", "site_id", "mode",
	"soc_pct", "battery_voltage", "battery_temp_c",
	"pv_voltage", "pv_current", "pv_power",
	"grid_voltage", "grid_freq", "out_watt", "load_pct",
	"bus_voltage",
}

// ExportHandler renders the recent history window as CSV, XLSX or PDF
// for offline audit.
type ExportHandler struct {
	history *application.HistoryBuffer
	format  string
}

// NewExportHandler constructs an ExportHandler for one format
// ("csv", "xlsx" or "pdf").
func NewExportHandler(history *application.HistoryBuffer, format string) *ExportHandler {
	return &ExportHandler{history: history, format: format}
}

// ServeHTTP handles GET /api/v1/export/history.{csv,xlsx,pdf}?limit=.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, err := parseLimit(r, "limit", defaultExportLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	records := h.history.Recent(limit)

	var (
		body        []byte
		contentType string
	)
	switch h.format {
	case "csv":
		body, err = buildHistoryCSV(records)
		contentType = "text/csv"
	case "xlsx":
		body, err = buildHistoryXLSX(records)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = buildHistoryPDF(records)
		contentType = "application/pdf"
	default:
		http.Error(w, "unsupported export format", http.StatusNotFound)
		return
	}
	if err != nil {
		metrics.IncExport(h.format, metrics.IngestResultError)
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}

	metrics.IncExport(h.format, metrics.IngestResultSuccess)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=history.%s", h.format))
	_, _ = w.Write(body)
}

func exportRow(rec *telemetry.Record) []string {
	return []string{
		rec.ReceivedAt.Format(time.RFC3339),
		rec.SiteID,
		rec.Mode,
		formatOpt(rec.Battery.StateOfChargePct),
		formatOpt(rec.Battery.Voltage),
		formatOpt(rec.Battery.TemperatureC),
		formatOpt(rec.PV.Voltage),
		formatOpt(rec.PV.Current),
		formatOpt(rec.PV.Power),
		formatOpt(rec.AC.GridVoltage),
		formatOpt(rec.AC.GridFreq),
		formatOpt(rec.AC.OutWatt),
		formatOpt(rec.AC.LoadPct),
		formatOpt(rec.BusVoltage),
	}
}

func formatOpt(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func buildHistoryCSV(records []*telemetry.Record) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(exportColumns); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := writer.Write(exportRow(rec)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildHistoryXLSX(records []*telemetry.Record) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "history"
	f.SetSheetName("Sheet1", sheet)

	for col, name := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, name)
	}
	for i, rec := range records {
		for col, value := range exportRow(rec) {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildHistoryPDF(records []*telemetry.Record) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 10)
	pdf.AddPage()

	pdf.Cell(0, 8, "Telemetry History")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 8)
	pdf.Cell(0, 5, fmt.Sprintf("Records: %d", len(records)))
	pdf.Ln(8)

	// Compact column subset so rows fit a landscape page.
	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(40, 5, "Received", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 5, "Site", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 5, "SOC %", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 5, "Batt V", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 5, "PV W", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 5, "Out W", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 5, "Load %", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, rec := range records {
		pdf.CellFormat(40, 5, rec.ReceivedAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(28, 5, rec.SiteID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 5, formatOpt(rec.Battery.StateOfChargePct), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 5, formatOpt(rec.Battery.Voltage), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 5, formatOpt(rec.PV.Power), "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 5, formatOpt(rec.AC.OutWatt), "1", 0, "R", false, 0, "")
		pdf.CellFormat(22, 5, formatOpt(rec.AC.LoadPct), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
