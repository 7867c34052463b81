package http

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"fleet-dashboard/internal/fleet/aggregation"
)

// FleetReport is the content of a fleet export.
type FleetReport struct {
	GeneratedAt time.Time
	KPIs        aggregation.FleetKPIs
	Grouping    aggregation.Grouping
}

type reportRow struct {
	jobSite string
	trailer aggregation.TrailerView
}

func (r FleetReport) rows() []reportRow {
	var rows []reportRow
	for _, group := range r.Grouping.Groups {
		for _, t := range group.Trailers {
			rows = append(rows, reportRow{jobSite: group.Name, trailer: t})
		}
	}
	for _, t := range r.Grouping.Unassigned {
		rows = append(rows, reportRow{jobSite: "Unassigned", trailer: t})
	}
	return rows
}

func lastSeenText(t aggregation.TrailerView) string {
	if t.LastSeen == nil {
		return aggregation.Sentinel
	}
	return t.LastSeen.UTC().Format(time.RFC3339)
}

// BuildFleetPDF renders the fleet summary and trailer table as PDF.
func BuildFleetPDF(report FleetReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	kpis := report.KPIs
	pdf.Cell(0, 8, "Fleet Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Trailers: %d (online %d, offline %d, unassigned %d)", kpis.Trailers, kpis.Online, kpis.Offline, kpis.Unassigned))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Job sites: %d (healthy %d, at risk %d, critical %d, offline %d)", kpis.JobSites, kpis.Healthy, kpis.AtRisk, kpis.Critical, kpis.OfflineSites))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Average SOC (%%): %s", aggregation.FormatOptional(kpis.AvgSOC, 1)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Yield today (kWh): %s", aggregation.FormatKWh(kpis.TotalYield)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Consumed today (kWh): %s", aggregation.FormatKWh(kpis.TotalConsumed)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(50, 6, "Job site", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Trailer", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "SOC (%)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Yield (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Consumed (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Last seen", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range report.rows() {
		t := row.trailer
		pdf.CellFormat(50, 6, row.jobSite, "1", 0, "L", false, 0, "")
		pdf.CellFormat(45, 6, t.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, string(t.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, aggregation.FormatOptional(t.SOC, 0), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, aggregation.FormatKWh(t.YieldToday), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, aggregation.FormatKWh(t.ConsumedToday), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, lastSeenText(t), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFleetXLSX renders the fleet summary and trailer table as XLSX. Missing
// values are written as empty cells.
func BuildFleetXLSX(report FleetReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	trailersSheet := "trailers"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(trailersSheet); err != nil {
		return nil, err
	}

	kpis := report.KPIs
	summary := [][2]any{
		{"Fleet Report", nil},
		{"Generated", report.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Trailers", kpis.Trailers},
		{"Online", kpis.Online},
		{"Offline", kpis.Offline},
		{"Unassigned", kpis.Unassigned},
		{"Job sites", kpis.JobSites},
		{"Healthy", kpis.Healthy},
		{"At risk", kpis.AtRisk},
		{"Critical", kpis.Critical},
		{"Active alerts", kpis.ActiveAlerts},
		{"Average SOC (%)", optionalCell(kpis.AvgSOC)},
		{"Yield today (Wh)", optionalCell(kpis.TotalYield)},
		{"Consumed today (Wh)", optionalCell(kpis.TotalConsumed)},
		{"Balance (Wh)", optionalCell(kpis.Balance)},
	}
	for i, pair := range summary {
		row := strconv.Itoa(i + 1)
		_ = f.SetCellValue(summarySheet, "A"+row, pair[0])
		if pair[1] != nil {
			_ = f.SetCellValue(summarySheet, "B"+row, pair[1])
		}
	}

	headers := []string{"Job site", "Site ID", "Trailer", "Status", "SOC (%)", "Yield (Wh)", "Consumed (Wh)", "Balance (Wh)", "Alerts", "Carrier", "Last seen"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(trailersSheet, cell, header)
	}
	for i, r := range report.rows() {
		t := r.trailer
		values := []any{r.jobSite, t.SiteID, t.Name, string(t.Status), optionalCell(t.SOC), optionalCell(t.YieldToday), optionalCell(t.ConsumedToday), optionalCell(t.Balance), t.AlertCount, t.Carrier, nil}
		if t.LastSeen != nil {
			values[len(values)-1] = t.LastSeen.UTC().Format(time.RFC3339)
		}
		for col, value := range values {
			if value == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(trailersSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optionalCell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
