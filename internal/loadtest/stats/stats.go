// Package stats aggregates load test measurements from many clients and
// renders a percentile report.
package stats

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	connects  []time.Duration
	pairs     []time.Duration
	relays    []time.Duration
	errors    int
	startTime time.Time
}

// NewCollector creates a Collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// AddConnect records a successful connection.
func (c *Collector) AddConnect(d time.Duration) {
	c.mu.Lock()
	c.connects = append(c.connects, d)
	c.mu.Unlock()
}

// AddPair records the time from registration to the partner-found notice.
func (c *Collector) AddPair(d time.Duration) {
	c.mu.Lock()
	c.pairs = append(c.pairs, d)
	c.mu.Unlock()
}

// AddRelay records the time one message took to reach the partner.
func (c *Collector) AddRelay(d time.Duration) {
	c.mu.Lock()
	c.relays = append(c.relays, d)
	c.mu.Unlock()
}

// AddError counts a failed step.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Connections returns the number of recorded connections.
func (c *Collector) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connects)
}

// Errors returns the number of recorded errors.
func (c *Collector) Errors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Distribution summarizes a set of durations.
type Distribution struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Summarize computes a Distribution. It sorts ds in place.
func Summarize(ds []time.Duration) Distribution {
	n := len(ds)
	if n == 0 {
		return Distribution{}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })

	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return Distribution{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: ds[n/2],
		P95: ds[rank(n, 0.95)],
		P99: ds[rank(n, 0.99)],
		Max: ds[n-1],
	}
}

func rank(n int, q float64) int {
	return int(math.Ceil(float64(n)*q)) - 1
}

func (d Distribution) String() string {
	r := func(v time.Duration) time.Duration { return v.Round(time.Microsecond) }
	return fmt.Sprintf("avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)",
		r(d.Avg), r(d.P50), r(d.P95), r(d.P99), r(d.Max), d.N)
}

// Report writes the summary to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:     %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(w, "Connections:  %d\n", len(c.connects))
	fmt.Fprintf(w, "Errors:       %d\n", c.errors)

	for _, s := range []struct {
		title string
		ds    []time.Duration
	}{
		{"Connect latency", c.connects},
		{"Time to partner", c.pairs},
		{"Relay latency", c.relays},
	} {
		if len(s.ds) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n  %s\n", s.title, Summarize(s.ds))
	}
	fmt.Fprintln(w)
}
