package workload

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/sweepctl/extract"
)

func TestCatalogHeaders(t *testing.T) {
	want := map[string]string{
		"ycsb-skew":   "Offered 50 99 Tenants TSkew Cores Thrpt",
		"ycsb":        "Offered 50 99 Thrpt Tenants TSkew Cores",
		"ycsb-native": "Offered 50 99 Thrpt",
		"aggregate":   "Offered 50 99 Thrpt Tenants TSkew Cores ASize",
		"tao":         "Offered Am A50 A99 Om O50 O99 Thrpt Tenants TSkew Cores",
	}

	catalog := Catalog()
	require.Len(t, catalog, len(want))

	for _, w := range catalog {
		assert.Equal(t, want[w.Name], w.Header(), w.Name)
	}
}

func TestCatalogPlans(t *testing.T) {
	tests := []struct {
		name   string
		points int
		first  string
		last   string
	}{
		{"ycsb-skew", 4, "tenant_skew=0.10 rate=1000000", "tenant_skew=0.99 rate=1000000"},
		{"ycsb", 12, "rate=100000", "rate=1200000"},
		{"ycsb-native", 12, "rate=100000", "rate=1200000"},
		{"aggregate", 144, "aggregate_size=2 rate=100000", "aggregate_size=12 rate=700000"},
		{"tao", 9, "rate=200000", "rate=1000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Lookup(tt.name)
			require.NoError(t, err)
			require.NoError(t, w.Plan.Validate())
			assert.Equal(t, tt.points, w.Plan.Len())

			var first, last string
			for pt := range w.Plan.Points() {
				if first == "" {
					first = pt.String()
				}
				last = pt.String()
			}

			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}

func TestCatalogColumnsResolve(t *testing.T) {
	for _, w := range Catalog() {
		metrics := map[string]bool{}
		for _, r := range w.Rules {
			for _, m := range r.Metrics() {
				metrics[m] = true
			}
		}

		for _, c := range w.Columns {
			if c.Metric != "" {
				assert.True(t, metrics[c.Metric], "%s: column %s has no rule", w.Name, c.Header)
			}
		}

		require.Len(t, w.Headline, 3, w.Name)
		for _, h := range w.Headline {
			assert.True(t, metrics[h], "%s: headline %s has no rule", w.Name, h)
		}
	}
}

func TestLabelFields(t *testing.T) {
	w, err := Lookup("aggregate")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"req_rate", "num_tenants", "tenant_skew", "server_udp_ports", "num_aggr"},
		w.LabelFields())
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("tpcc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ycsb-skew")
}

func TestCatalogIsFresh(t *testing.T) {
	a := Catalog()
	a[0].Plan.Axes[0].Values[0] = "mutated"

	b := Catalog()
	assert.Equal(t, "0.10", b[0].Plan.Axes[0].Values[0])
}

func TestSimulatorDeterministic(t *testing.T) {
	w, err := Lookup("tao")
	require.NoError(t, err)

	var a, b bytes.Buffer
	require.NoError(t, NewSimulator(w, 42).Generate(&a, 500000))
	require.NoError(t, NewSimulator(w, 42).Generate(&b, 500000))

	assert.Equal(t, a.String(), b.String())
}

func TestSimulatorOutputExtracts(t *testing.T) {
	for _, w := range Catalog() {
		t.Run(w.Name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewSimulator(w, 7).Generate(&buf, 400000))

			recs, err := extract.Extract(strings.NewReader(buf.String()), w.Rules)
			require.NoError(t, err)
			require.NotEmpty(t, recs)

			for _, rec := range recs {
				assert.Empty(t, extract.Missing(rec, w.Rules))
			}
		})
	}
}

func TestSimulatorSkewOneRowPerRun(t *testing.T) {
	w, err := Lookup("ycsb-skew")
	require.NoError(t, err)

	sim := NewSimulator(w, 1)

	var buf bytes.Buffer
	require.NoError(t, sim.Generate(&buf, 400000))

	output := buf.String()

	recs, err := extract.Extract(strings.NewReader(output), w.Rules)
	require.NoError(t, err)
	require.Len(t, recs, 1, "one >>> summary line per run")
	assert.Contains(t, recs[0], "p50")
	assert.Contains(t, recs[0], "p99")
	assert.Equal(t, sim.Shards, strings.Count(output, "YCSB Throughput:"))

	// Per-shard lines sum back to roughly the offered rate.
	assert.InEpsilon(t, 400000, recs[0]["thrpt"], 0.05)
}

func TestSimulatorRejectsBadRate(t *testing.T) {
	w, err := Lookup("ycsb")
	require.NoError(t, err)

	assert.Error(t, NewSimulator(w, 1).Generate(&bytes.Buffer{}, 0))
}
