package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var medianRule = Rule{
	Tag: "Median(ns)",
	Fields: []Field{
		{Index: 3, Metric: "p50"},
		{Index: 5, Metric: "p99"},
		{Index: 7, Metric: "thrpt"},
	},
}

var variantA = []Rule{
	{
		Tag:    ">>>",
		Fields: []Field{{Index: 2, Metric: "p50"}, {Index: 3, Metric: "p99"}},
		Reduce: ReduceEach,
	},
	{
		Tag:    "YCSB Throughput",
		Fields: []Field{{Index: 3, Metric: "thrpt"}},
		Reduce: ReduceSum,
	},
}

func TestExtractPositional(t *testing.T) {
	output := `INFO:sandstorm: Starting up client
INFO:ycsb: warming up, 4 cores
INFO:ycsb: Median(ns): 980 Tail(ns): 11000 Throughput(Kops/s): 50000
`

	recs, err := Extract(strings.NewReader(output), []Rule{medianRule})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, Record{"p50": 980, "p99": 11000, "thrpt": 50000}, recs[0])
}

func TestExtractLastMatchWins(t *testing.T) {
	output := `INFO:ycsb: Median(ns): 1 Tail(ns): 2 Throughput(Kops/s): 3
INFO:ycsb: Median(ns): 4 Tail(ns): 5 Throughput(Kops/s): 6
`

	recs, err := Extract(strings.NewReader(output), []Rule{medianRule})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, Record{"p50": 4, "p99": 5, "thrpt": 6}, recs[0])
}

func TestExtractSum(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   float64
		found  bool
	}{
		{"none", nil, 0, false},
		{"one", []string{"1.5"}, 1.5, true},
		{"four shards", []string{"100", "200.5", "300", "400"}, 1000.5, true},
	}

	rule := []Rule{variantA[1]}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			b.WriteString("noise line\n")
			for _, v := range tt.values {
				b.WriteString("YCSB Throughput: " + v + "\n")
			}

			recs, err := Extract(strings.NewReader(b.String()), rule)
			require.NoError(t, err)
			require.Len(t, recs, 1)

			got, ok := recs[0]["thrpt"]
			assert.Equal(t, tt.found, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestExtractEach(t *testing.T) {
	output := `>>> 800 9000
YCSB Throughput: 250
>>> 810 9100
YCSB Throughput: 250
`

	recs, err := Extract(strings.NewReader(output), variantA)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, Record{"p50": 800, "p99": 9000, "thrpt": 500}, recs[0])
	assert.Equal(t, Record{"p50": 810, "p99": 9100, "thrpt": 500}, recs[1])
}

func TestExtractNoMatch(t *testing.T) {
	recs, err := Extract(strings.NewReader(""), variantA)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Empty(t, recs[0])
	assert.Equal(t, []string{"p50", "p99", "thrpt"}, Missing(recs[0], variantA))
}

func TestExtractBadFields(t *testing.T) {
	output := "INFO:ycsb: Median(ns): fast Tail(ns): 12\n"

	recs, err := Extract(strings.NewReader(output), []Rule{medianRule})
	require.NoError(t, err)

	assert.Equal(t, Record{"p99": 12}, recs[0])
	assert.Equal(t, []string{"p50", "thrpt"}, Missing(recs[0], []Rule{medianRule}))
}

func TestExtractGraphLine(t *testing.T) {
	line := "INFO:tao: AMean(ns) 1500.5 AMedian(ns): 1200 ATail(ns) 9000 " +
		"OMean(ns) 700 OMedian(ns): 650 OTail(ns): 3000 Throughput(Kops/s): 4200.25\n"

	rule := Rule{Tag: "AMean(ns)"}
	for i, m := range []string{"am", "a50", "a99", "om", "o50", "o99", "thrpt"} {
		rule.Fields = append(rule.Fields, Field{Index: 3 + 2*i, Metric: m})
	}

	recs, err := Extract(strings.NewReader(line), []Rule{rule})
	require.NoError(t, err)

	assert.Equal(t, Record{
		"am": 1500.5, "a50": 1200, "a99": 9000,
		"om": 700, "o50": 650, "o99": 3000, "thrpt": 4200.25,
	}, recs[0])
}

func TestExtractSkipsLongLine(t *testing.T) {
	output := "INFO:ycsb: Median(ns): 1 Tail(ns): 2 Throughput(Kops/s): 3\n" +
		strings.Repeat("x", maxLine+10) + "\n" +
		"INFO:ycsb: Median(ns): 980 Tail(ns): 12000 Throughput(Kops/s): 4200.5\n"

	recs, err := Extract(strings.NewReader(output), []Rule{medianRule})
	require.ErrorIs(t, err, ErrLineTooLong)
	require.Len(t, recs, 1)

	assert.Equal(t, Record{"p50": 980, "p99": 12000, "thrpt": 4200.5}, recs[0])
}

func TestExtractLineAtLimit(t *testing.T) {
	line := "Median(ns): 7 " + strings.Repeat("x", maxLine-14)
	require.Len(t, line, maxLine)

	recs, err := Extract(strings.NewReader(line), []Rule{{
		Tag:    "Median(ns)",
		Fields: []Field{{Index: 2, Metric: "p50"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, Record{"p50": 7}, recs[0])
}

func TestReductionString(t *testing.T) {
	assert.Equal(t, "sum", ReduceSum.String())
	assert.Equal(t, "each", ReduceEach.String())
	assert.Equal(t, "last", ReduceLast.String())
}
