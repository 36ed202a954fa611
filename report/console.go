package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/weiihann/sweepctl/extract"
	"github.com/weiihann/sweepctl/history"
)

var (
	colorLabel  = lipgloss.Color("#767676")
	colorValue  = lipgloss.Color("#04B575")
	colorBorder = lipgloss.Color("#3C3C3C")
)

// Summary writes the single calibration line: the offered rate followed by
// each headline metric under its column header.
func Summary(
	w io.Writer,
	cols []Column,
	headline []string,
	rate string,
	rec extract.Record,
) error {
	r := lipgloss.NewRenderer(w)
	label := r.NewStyle().Foreground(colorLabel)
	value := r.NewStyle().Foreground(colorValue).Bold(true)

	parts := []string{label.Render("Offered"), value.Render(rate)}

	for _, metric := range headline {
		v := Missing
		if m, ok := rec[metric]; ok {
			v = FormatMetric(m)
		}

		parts = append(parts,
			label.Render(headerFor(cols, metric)),
			value.Render(v),
		)
	}

	_, err := fmt.Fprintln(w, strings.Join(parts, " "))

	return err
}

func headerFor(cols []Column, metric string) string {
	for _, c := range cols {
		if c.Metric == metric {
			return c.Header
		}
	}

	return metric
}

// History renders past sweeps as a table.
func History(w io.Writer, records []history.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No sweeps recorded.")
		return err
	}

	rows := make([][]string, len(records))

	for i, rec := range records {
		rows[i] = []string{
			rec.ID,
			rec.Workload,
			rec.Invoke,
			rec.StartedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%d/%d", rec.Rows, rec.Points),
			strconv.Itoa(rec.Failed),
			formatMs(rec.WallP50Ms),
			formatMs(rec.WallP99Ms),
			rec.Output,
		}
	}

	return Listing(w, []string{
		"ID", "Workload", "Invoke", "Started", "Rows", "Failed",
		"Wall p50", "Wall p99", "Output",
	}, rows)
}

// Listing renders rows under headers as a bordered console table.
func Listing(w io.Writer, headers []string, rows [][]string) error {
	r := lipgloss.NewRenderer(w)
	header := r.NewStyle().Bold(true).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.NewStyle().Foreground(colorBorder)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}

			return cell
		}).
		Headers(headers...).
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.Render())

	return err
}

// HistoryJSON writes records as indented JSON.
func HistoryJSON(w io.Writer, records []history.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(records)
}
