package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/healz/reports/internal/domain/biomarker"
	"github.com/healz/reports/internal/platform/reporting"
)

var (
	statusLabel = map[biomarker.Status]string{
		biomarker.StatusOutOfRange: "Fuera de rango",
		biomarker.StatusCaution:    "Precaución",
		biomarker.StatusOptimal:    "Óptimo",
	}
	statusColor = map[biomarker.Status]*reporting.Color{
		biomarker.StatusOutOfRange: reporting.ColorRed,
		biomarker.StatusCaution:    reporting.ColorAmber,
		biomarker.StatusOptimal:    reporting.ColorGreen,
	}
	riskLabel = map[string]string{RiskLow: "bajo", RiskModerate: "moderado", RiskHigh: "alto"}
	riskColor = map[string]*reporting.Color{
		RiskLow:      reporting.ColorGreen,
		RiskModerate: reporting.ColorAmber,
		RiskHigh:     reporting.ColorRed,
	}
	priorityLabel = map[string]string{PriorityHigh: "Prioridad alta", PriorityMedium: "Prioridad media", PriorityLow: "Prioridad baja"}
)

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatRange(lo, hi float64) string {
	return formatValue(lo) + " - " + formatValue(hi)
}

// Document lays out a report for PDF export.
func (d *Detail) Document(patientName, author string, now time.Time) reporting.Document {
	doc := reporting.Document{
		Title:     d.Title,
		Subtitle:  fmt.Sprintf("Paciente: %s  |  %s", patientName, d.CreatedAt.Format("02/01/2006")),
		Author:    author,
		CreatedAt: now,
	}
	if !d.IsFinal() {
		doc.Subtitle += "  |  BORRADOR"
	}

	s := d.Panel.Summary
	doc.Sections = append(doc.Sections, reporting.Section{
		Heading: fmt.Sprintf("Riesgo %s (%d/100)", riskLabel[d.RiskLevel], d.RiskScore),
		Paragraphs: []string{fmt.Sprintf("%d biomarcadores: %d óptimos, %d en precaución, %d fuera de rango.",
			s.Total, s.Optimal, s.Caution, s.OutOfRange)},
		Highlight: riskColor[d.RiskLevel],
	})

	if d.Diagnosis != nil {
		doc.Sections = append(doc.Sections, reporting.Section{Heading: "Diagnóstico", Paragraphs: []string{*d.Diagnosis}})
	}

	if len(d.Panel.Readings) > 0 {
		t := &reporting.Table{Columns: []reporting.Column{
			{Title: "Biomarcador"},
			{Title: "Valor", Width: 22, Align: "R"},
			{Title: "Unidad", Width: 20},
			{Title: "Óptimo", Width: 28},
			{Title: "Convencional", Width: 28},
			{Title: "Estado", Width: 28},
		}}
		for _, r := range d.Panel.Readings {
			t.Rows = append(t.Rows, reporting.Row{
				Cells: []string{r.Name, formatValue(r.Value), r.Unit,
					formatRange(r.OptimalMin, r.OptimalMax), formatRange(r.ConventionalMin, r.ConventionalMax),
					statusLabel[r.Status]},
				Color: statusColor[r.Status],
			})
		}
		doc.Sections = append(doc.Sections, reporting.Section{Heading: "Biomarcadores", Table: t})
	}

	for _, g := range d.Actions {
		sec := reporting.Section{Heading: "Plan de acción: " + priorityLabel[g.Priority]}
		for _, a := range g.Actions {
			p := "- " + a.Title
			if a.Description != nil && *a.Description != "" {
				p += ": " + *a.Description
			}
			sec.Paragraphs = append(sec.Paragraphs, p)
		}
		doc.Sections = append(doc.Sections, sec)
	}
	return doc
}
