// Package report writes sweep results as space-separated tables for
// plotting, and formats calibration summaries and sweep history for the
// console.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/weiihann/sweepctl/extract"
	"github.com/weiihann/sweepctl/sweep"
)

// Missing is written in place of a value that could not be obtained.
const Missing = "NA"

// Column is one column of a result table. It takes its value either from
// a client config field or from an extracted metric.
type Column struct {
	Header string
	Field  string
	Metric string
}

// Header returns the header line for cols.
func Header(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Header
	}

	return strings.Join(names, " ")
}

// OutputName returns the table file name for a workload and invoke flag.
func OutputName(workload, invoke, ext string) string {
	return fmt.Sprintf("%s_invoke_%s.%s", workload, invoke, ext)
}

// Table is an open result file. Rows are synced as they are appended so a
// crash mid-sweep keeps everything written so far.
type Table struct {
	f      *os.File
	path   string
	cols   []Column
	rows   int
	closed bool
}

// Create truncates or creates dir/name and writes the header line.
func Create(dir, name string, cols []Column) (*Table, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s has no columns", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := fmt.Fprintln(f, Header(cols)); err != nil {
		f.Close()

		return nil, fmt.Errorf("write header: %w", err)
	}

	return &Table{f: f, path: path, cols: cols}, nil
}

// Path returns the file path of the table.
func (t *Table) Path() string {
	return t.path
}

// Rows returns the number of data rows written.
func (t *Table) Rows() int {
	return t.rows
}

// Append writes one row for point. labels holds config field values read
// at sweep start; an axis targeting the same field takes precedence.
func (t *Table) Append(
	point sweep.Point,
	labels map[string]string,
	rec extract.Record,
) error {
	row := FormatRow(t.cols, point, labels, rec)

	if _, err := fmt.Fprintln(t.f, strings.Join(row, " ")); err != nil {
		return fmt.Errorf("append row to %s: %w", t.path, err)
	}

	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", t.path, err)
	}

	t.rows++

	return nil
}

// Close closes the underlying file. Calls after the first return nil.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}

	t.closed = true

	if err := t.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", t.path, err)
	}

	return nil
}

// FormatRow renders the cells of one row in column order.
func FormatRow(
	cols []Column,
	point sweep.Point,
	labels map[string]string,
	rec extract.Record,
) []string {
	row := make([]string, len(cols))

	for i, c := range cols {
		cell := Missing

		switch {
		case c.Field != "":
			if v, ok := point.ForField(c.Field); ok {
				cell = v
			} else if v, ok := labels[c.Field]; ok && v != "" {
				cell = v
			}
		case c.Metric != "":
			if v, ok := rec[c.Metric]; ok {
				cell = FormatMetric(v)
			}
		}

		row[i] = cell
	}

	return row
}

// FormatMetric renders a metric with the shortest exact decimal form.
func FormatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}

	if ms < 60_000 {
		return fmt.Sprintf("%.2fs", float64(ms)/1000)
	}

	return fmt.Sprintf("%.1fm", float64(ms)/60_000)
}
