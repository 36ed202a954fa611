package workload

import (
	"bufio"
	"fmt"
	"io"
	"math"
	mrand "math/rand"
)

// Simulator produces synthetic client output carrying the same tagged
// lines as the real client. Latency follows a simple queueing curve that
// rises as the offered rate approaches Capacity.
type Simulator struct {
	// Capacity is the rate in requests per second at which the simulated
	// server saturates.
	Capacity float64
	// Shards is the number of per-core throughput lines printed for
	// summed tags.
	Shards int
	// BaseLatencyNs is the unloaded median latency.
	BaseLatencyNs float64

	w   Workload
	rng *mrand.Rand
}

// NewSimulator creates a Simulator for w. The same seed always produces
// the same output for the same rate.
func NewSimulator(w Workload, seed int64) *Simulator {
	return &Simulator{
		Capacity:      900000,
		Shards:        4,
		BaseLatencyNs: 1500,
		w:             w,
		rng:           mrand.New(mrand.NewSource(seed)),
	}
}

type sample struct {
	p50, p99, mean float64
	thrpt          float64
}

// Generate writes one run's worth of output for the offered rate.
func (s *Simulator) Generate(out io.Writer, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("offered rate must be positive, got %v", rate)
	}

	bw := bufio.NewWriter(out)

	fmt.Fprintf(bw, "INFO:sandstorm: Starting up %s client, req_rate %.0f\n",
		s.w.Binary, rate)
	fmt.Fprintf(bw, "INFO:sandstorm: %d sender cores, %d receiver cores\n",
		s.Shards, s.Shards)

	for _, rule := range s.w.Rules {
		switch rule.Tag {
		case ">>>":
			m := s.sample(rate)
			fmt.Fprintf(bw, ">>> %.0f %.0f\n", m.p50, m.p99)

		case "YCSB Throughput":
			for range s.Shards {
				m := s.sample(rate)
				fmt.Fprintf(bw, "YCSB Throughput: %.2f\n", m.thrpt/float64(s.Shards))
			}

		case "Median(ns)":
			m := s.sample(rate)
			fmt.Fprintf(bw,
				"INFO:%s: Median(ns): %.0f Tail(ns): %.0f Throughput(Kops/s): %.2f\n",
				s.w.Binary, m.p50, m.p99, m.thrpt/1000)

		case "AMean(ns)":
			app := s.sample(rate)
			overall := s.sample(rate)
			fmt.Fprintf(bw,
				"INFO:%s: AMean(ns) %.1f AMedian(ns): %.0f ATail(ns) %.0f "+
					"OMean(ns) %.1f OMedian(ns): %.0f OTail(ns): %.0f "+
					"Throughput(Kops/s): %.2f\n",
				s.w.Binary,
				app.mean, app.p50, app.p99,
				overall.mean*0.6, overall.p50*0.6, overall.p99*0.6,
				app.thrpt/1000)

		default:
			return fmt.Errorf("no synthetic format for tag %q", rule.Tag)
		}
	}

	return bw.Flush()
}

func (s *Simulator) sample(rate float64) sample {
	achieved := math.Min(rate, s.Capacity)
	util := math.Min(achieved/s.Capacity, 0.98)
	p50 := s.BaseLatencyNs / (1 - util)

	return sample{
		p50:   s.jitter(p50),
		p99:   s.jitter(p50 * 6),
		mean:  s.jitter(p50 * 1.3),
		thrpt: s.jitter(achieved),
	}
}

// jitter perturbs v by up to two percent.
func (s *Simulator) jitter(v float64) float64 {
	return v * (1 + (s.rng.Float64()-0.5)*0.04)
}
