// Package harness runs a benchmark client binary once and captures its
// combined output.
package harness

import "time"

// Output is what one client invocation produced. It is consumed by the
// metric extractor and then discarded.
type Output struct {
	Data     []byte
	ExitCode int
	TimedOut bool
	Elapsed  time.Duration
}

// Failed reports whether the client exited abnormally.
func (o *Output) Failed() bool {
	return o.TimedOut || o.ExitCode != 0
}
