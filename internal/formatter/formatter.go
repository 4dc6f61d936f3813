// package formatter renders health reports and run history to various formats (text, Markdown, JSON)
package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/halfcourt/refguard/internal/models"
)

// statusGlyph marks a table's health band in text output.
func statusGlyph(score float64) string {
	switch {
	case score >= 90:
		return "ok"
	case score >= 75:
		return "warn"
	default:
		return "CRIT"
	}
}

// ReportToText converts a HealthReport to an aligned plain-text table.
func ReportToText(report *models.HealthReport) ([]byte, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "TABLE\tFK\tTOTAL\tVALID\tNULL\tORPHANED\tSCORE\t")
	for _, t := range report.Tables {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%.1f %s\t\n",
			t.Table, t.FKColumn, t.Total, t.Valid, t.Null, t.Orphaned, t.Score, statusGlyph(t.Score))
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to format report: %w", err)
	}

	buf.WriteString(fmt.Sprintf("\nOverall: %.1f (%s)\n", report.OverallScore, report.Status))
	return buf.Bytes(), nil
}

// ReportToMarkdown converts a HealthReport to a Markdown document.
func ReportToMarkdown(report *models.HealthReport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Referential Integrity Report\n\n")
	buf.WriteString(fmt.Sprintf("**Status**: %s\n", report.Status))
	buf.WriteString(fmt.Sprintf("**Overall score**: %.1f\n\n", report.OverallScore))

	buf.WriteString("| Table | FK | Total | Valid | Null | Orphaned | Score |\n")
	buf.WriteString("| --- | --- | ---: | ---: | ---: | ---: | ---: |\n")
	for _, t := range report.Tables {
		buf.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %d | %.1f |\n",
			t.Table, t.FKColumn, t.Total, t.Valid, t.Null, t.Orphaned, t.Score))
	}

	return buf.Bytes(), nil
}

// ReportToJSON converts a HealthReport to pretty-printed JSON.
func ReportToJSON(report *models.HealthReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}

// RunsToText converts run history to an aligned plain-text table, most recent first.
func RunsToText(runs []models.RunRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "RUN\tSTARTED\tFINISHED\tSTATUS\tSCORE\t")
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f\t\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), finished, r.Status, r.OverallScore)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to format runs: %w", err)
	}
	return buf.Bytes(), nil
}

// Render picks the output format by name: "text", "markdown"/"md", or "json".
func Render(report *models.HealthReport, format string) ([]byte, error) {
	switch format {
	case "", "text":
		return ReportToText(report)
	case "markdown", "md":
		return ReportToMarkdown(report)
	case "json":
		return ReportToJSON(report)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// WriteReport renders a report and writes it to path.
func WriteReport(report *models.HealthReport, format, path string) error {
	data, err := Render(report, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
