// Package workload declares the benchmark workloads the controller knows
// how to sweep. Each workload is pure data: which client binary to run,
// which config fields to vary, how to read metrics from the client's
// output, and the column layout of the resulting table.
package workload

import (
	"fmt"
	"slices"

	"github.com/weiihann/sweepctl/clientconfig"
	"github.com/weiihann/sweepctl/extract"
	"github.com/weiihann/sweepctl/report"
	"github.com/weiihann/sweepctl/sweep"
)

// Axis names shared by the built-in workloads.
const (
	AxisRate       = "rate"
	AxisTenantSkew = "tenant_skew"
	AxisAggrSize   = "aggregate_size"
)

// Workload is one sweepable benchmark.
type Workload struct {
	Name     string
	Binary   string
	Args     []string
	Plan     sweep.Plan
	Rules    []extract.Rule
	Columns  []report.Column
	Headline []string
}

// Header returns the table header line.
func (w Workload) Header() string {
	return report.Header(w.Columns)
}

// LabelFields returns the config fields the table reads, in column order.
func (w Workload) LabelFields() []string {
	var fields []string

	for _, c := range w.Columns {
		if c.Field != "" && !slices.Contains(fields, c.Field) {
			fields = append(fields, c.Field)
		}
	}

	return fields
}

var (
	colOffered = report.Column{Header: "Offered", Field: clientconfig.FieldReqRate}
	colTenants = report.Column{Header: "Tenants", Field: clientconfig.FieldNumTenants}
	colTSkew   = report.Column{Header: "TSkew", Field: clientconfig.FieldTenantSkew}
	colCores   = report.Column{Header: "Cores", Field: clientconfig.FieldServerPorts}
	colASize   = report.Column{Header: "ASize", Field: clientconfig.FieldNumAggr}
	colP50     = report.Column{Header: "50", Metric: "p50"}
	colP99     = report.Column{Header: "99", Metric: "p99"}
	colThrpt   = report.Column{Header: "Thrpt", Metric: "thrpt"}
)

func rateAxis(values []string) sweep.Axis {
	return sweep.Axis{Name: AxisRate, Field: clientconfig.FieldReqRate, Values: values}
}

// medianRule reads "<prefix> Median(ns): v Tail(ns): v Throughput(Kops/s): v".
func medianRule() extract.Rule {
	return extract.Rule{
		Tag: "Median(ns)",
		Fields: []extract.Field{
			{Index: 3, Metric: "p50"},
			{Index: 5, Metric: "p99"},
			{Index: 7, Metric: "thrpt"},
		},
		Reduce: extract.ReduceLast,
	}
}

// graphRule reads the seven-value AMean(ns) summary of the graph client.
func graphRule() extract.Rule {
	metrics := []string{"am", "a50", "a99", "om", "o50", "o99", "thrpt"}
	fields := make([]extract.Field, len(metrics))

	for i, m := range metrics {
		fields[i] = extract.Field{Index: 3 + 2*i, Metric: m}
	}

	return extract.Rule{Tag: "AMean(ns)", Fields: fields, Reduce: extract.ReduceLast}
}

func aggregateRates() []string {
	rates := sweep.Range(100000, 600000, 25000)
	return append(rates, "650000", "675000", "700000")
}

// Catalog returns the built-in workloads. Each call returns fresh values.
func Catalog() []Workload {
	return []Workload{
		{
			Name:   "ycsb-skew",
			Binary: "ycsb",
			Plan: sweep.Plan{Axes: []sweep.Axis{
				{
					Name:   AxisTenantSkew,
					Field:  clientconfig.FieldTenantSkew,
					Values: []string{"0.10", "0.50", "0.90", "0.99"},
				},
				rateAxis([]string{"1000000"}),
			}},
			Rules: []extract.Rule{
				{
					Tag: ">>>",
					Fields: []extract.Field{
						{Index: 2, Metric: "p50"},
						{Index: 3, Metric: "p99"},
					},
					Reduce: extract.ReduceEach,
				},
				{
					Tag:    "YCSB Throughput",
					Fields: []extract.Field{{Index: 3, Metric: "thrpt"}},
					Reduce: extract.ReduceSum,
				},
			},
			Columns: []report.Column{
				colOffered, colP50, colP99, colTenants, colTSkew, colCores, colThrpt,
			},
			Headline: []string{"p50", "p99", "thrpt"},
		},
		{
			Name:     "ycsb",
			Binary:   "ycsb",
			Plan:     sweep.Plan{Axes: []sweep.Axis{rateAxis(sweep.Range(100000, 1200000, 100000))}},
			Rules:    []extract.Rule{medianRule()},
			Columns:  []report.Column{colOffered, colP50, colP99, colThrpt, colTenants, colTSkew, colCores},
			Headline: []string{"p50", "p99", "thrpt"},
		},
		{
			Name:     "ycsb-native",
			Binary:   "ycsb",
			Plan:     sweep.Plan{Axes: []sweep.Axis{rateAxis(sweep.Range(100000, 1200000, 100000))}},
			Rules:    []extract.Rule{medianRule()},
			Columns:  []report.Column{colOffered, colP50, colP99, colThrpt},
			Headline: []string{"p50", "p99", "thrpt"},
		},
		{
			Name:   "aggregate",
			Binary: "aggregate",
			Plan: sweep.Plan{Axes: []sweep.Axis{
				{
					Name:   AxisAggrSize,
					Field:  clientconfig.FieldNumAggr,
					Values: sweep.Range(2, 12, 2),
				},
				rateAxis(aggregateRates()),
			}},
			Rules: []extract.Rule{medianRule()},
			Columns: []report.Column{
				colOffered, colP50, colP99, colThrpt, colTenants, colTSkew, colCores, colASize,
			},
			Headline: []string{"p50", "p99", "thrpt"},
		},
		{
			Name:   "tao",
			Binary: "tao",
			Plan:   sweep.Plan{Axes: []sweep.Axis{rateAxis(sweep.Range(200000, 1000000, 100000))}},
			Rules:  []extract.Rule{graphRule()},
			Columns: []report.Column{
				colOffered,
				{Header: "Am", Metric: "am"},
				{Header: "A50", Metric: "a50"},
				{Header: "A99", Metric: "a99"},
				{Header: "Om", Metric: "om"},
				{Header: "O50", Metric: "o50"},
				{Header: "O99", Metric: "o99"},
				colThrpt, colTenants, colTSkew, colCores,
			},
			Headline: []string{"a50", "a99", "thrpt"},
		},
	}
}

// Names returns the names of the built-in workloads.
func Names() []string {
	catalog := Catalog()
	names := make([]string, len(catalog))

	for i, w := range catalog {
		names[i] = w.Name
	}

	return names
}

// Lookup returns the built-in workload with the given name.
func Lookup(name string) (Workload, error) {
	for _, w := range Catalog() {
		if w.Name == name {
			return w, nil
		}
	}

	return Workload{}, fmt.Errorf("unknown workload %q (known: %v)", name, Names())
}
