// Package extract pulls named metrics out of a benchmark client's text
// output. A Rule names a marker substring; every line containing the
// marker is split on whitespace and fields at fixed 1-based positions are
// read as numbers.
package extract

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/spf13/cast"
)

// maxLine bounds a single line of client output. Longer lines are skipped.
const maxLine = 1 << 20

// ErrLineTooLong is returned alongside complete records when one or more
// lines exceeded maxLine and were skipped.
var ErrLineTooLong = errors.New("client output line too long")

// Reduction says how values from several matching lines combine.
type Reduction int

const (
	// ReduceLast keeps the value from the last matching line.
	ReduceLast Reduction = iota
	// ReduceSum adds the values from every matching line.
	ReduceSum
	// ReduceEach turns every matching line into its own record.
	ReduceEach
)

func (r Reduction) String() string {
	switch r {
	case ReduceLast:
		return "last"
	case ReduceSum:
		return "sum"
	case ReduceEach:
		return "each"
	default:
		return fmt.Sprintf("reduction(%d)", int(r))
	}
}

// Field maps a 1-based whitespace-separated position to a metric name.
type Field struct {
	Index  int
	Metric string
}

// Rule is a tagged-line grammar for one metric family.
type Rule struct {
	Tag    string
	Fields []Field
	Reduce Reduction
}

// Metrics lists the metric names produced by the rule.
func (r Rule) Metrics() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Metric
	}

	return names
}

// Record is the metric set for one output row. A metric that was not
// found has no key.
type Record map[string]float64

// Extract scans r once and applies every rule. It always returns at least
// one record. If a ReduceEach rule matched n > 0 lines, n records are
// returned, each carrying the values of the other rules too.
func Extract(r io.Reader, rules []Rule) ([]Record, error) {
	scalar := make(Record)
	var each []Record

	br := bufio.NewReaderSize(r, 64*1024)
	skipped := 0

	for {
		raw, tooLong, err := readLine(br)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return []Record{scalar}, fmt.Errorf("read client output: %w", err)
		}

		if tooLong {
			skipped++
			continue
		}

		line := string(raw)

		var fields []string

		for _, rule := range rules {
			if rule.Tag == "" || !strings.Contains(line, rule.Tag) {
				continue
			}

			if fields == nil {
				fields = strings.Fields(line)
			}

			values := readFields(fields, rule.Fields)

			switch rule.Reduce {
			case ReduceEach:
				each = append(each, values)
			case ReduceSum:
				for name, v := range values {
					scalar[name] += v
				}
			default:
				maps.Copy(scalar, values)
			}
		}
	}

	var err error
	if skipped > 0 {
		err = fmt.Errorf("%w: skipped %d line(s) over %d bytes", ErrLineTooLong, skipped, maxLine)
	}

	if len(each) == 0 {
		return []Record{scalar}, err
	}

	for _, rec := range each {
		for name, v := range scalar {
			if _, ok := rec[name]; !ok {
				rec[name] = v
			}
		}
	}

	return each, err
}

// readLine returns the next line without its terminator. A line longer
// than maxLine is drained and reported with tooLong set.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, false, err
		}

		if !tooLong {
			if len(line)+len(chunk) > maxLine {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// Missing returns the metrics declared by rules that rec does not hold.
func Missing(rec Record, rules []Rule) []string {
	var missing []string

	for _, rule := range rules {
		for _, f := range rule.Fields {
			if _, ok := rec[f.Metric]; !ok {
				missing = append(missing, f.Metric)
			}
		}
	}

	return missing
}

func readFields(fields []string, want []Field) Record {
	values := make(Record, len(want))

	for _, f := range want {
		if f.Index < 1 || f.Index > len(fields) {
			continue
		}

		token := strings.TrimRight(fields[f.Index-1], ":,;")

		v, err := cast.ToFloat64E(token)
		if err != nil {
			continue
		}

		values[f.Metric] = v
	}

	return values
}
