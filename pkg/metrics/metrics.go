// Package metrics is a small registry for the pipeline's counters and
// latency histograms, rendered in the Prometheus text exposition format
// (0.0.4) and served over HTTP.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets covers the latency range of the pipeline's external calls,
// in seconds.
var DefaultBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Counter is a monotonically increasing value.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc()         { c.n.Add(1) }
func (c *Counter) Add(d int64)  { c.n.Add(d) }
func (c *Counter) Value() int64 { return c.n.Load() }

// Histogram records observations against a fixed set of upper bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	hits   []uint64 // hits[i] counts observations at or below bounds[i]
	sum    float64
	count  uint64
}

// Observe records one value. Values above the largest bound only contribute
// to sum, count, and the +Inf bucket.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.bounds {
		if v <= b {
			h.hits[i]++
			return
		}
	}
}

// Since observes the seconds elapsed from start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

type kind int

const (
	kindCounter kind = iota
	kindHistogram
)

type entry struct {
	name string
	kind kind
	help string
}

// Registry names metrics and renders them. Registering a name twice returns
// the existing metric, so packages can register at construction time without
// coordinating.
type Registry struct {
	mu         sync.Mutex
	entries    []entry
	counters   map[string]*Counter
	histograms map[string]*Histogram
}

func New() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Counter registers (or returns) the named counter.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	r.entries = append(r.entries, entry{name: name, kind: kindCounter, help: help})
	return c
}

// Histogram registers (or returns) the named histogram. Nil bounds means
// DefaultBuckets.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	if bounds == nil {
		bounds = DefaultBuckets
	}
	b := make([]float64, len(bounds))
	copy(b, bounds)
	sort.Float64s(b)
	h := &Histogram{bounds: b, hits: make([]uint64, len(b))}
	r.histograms[name] = h
	r.entries = append(r.entries, entry{name: name, kind: kindHistogram, help: help})
	return h
}

// Render produces the text exposition with metrics in registration order.
// Registered-but-untouched metrics render with zero values, so a scrape sees
// the full set before any work has happened.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, e := range r.entries {
		if e.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", e.name, e.help)
		}
		switch e.kind {
		case kindCounter:
			fmt.Fprintf(&b, "# TYPE %s counter\n", e.name)
			fmt.Fprintf(&b, "%s %d\n", e.name, r.counters[e.name].Value())
		case kindHistogram:
			fmt.Fprintf(&b, "# TYPE %s histogram\n", e.name)
			h := r.histograms[e.name]
			h.mu.Lock()
			var cum uint64
			for i, bound := range h.bounds {
				cum += h.hits[i]
				fmt.Fprintf(&b, "%s_bucket{le=\"%g\"} %d\n", e.name, bound, cum)
			}
			fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", e.name, h.count)
			fmt.Fprintf(&b, "%s_sum %g\n", e.name, h.sum)
			fmt.Fprintf(&b, "%s_count %d\n", e.name, h.count)
			h.mu.Unlock()
		}
	}
	return b.String()
}

// Handler serves the rendered metrics.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// Serve blocks serving /metrics on the given port.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// ServeAsync runs Serve in a goroutine, logging a failure to start.
func (r *Registry) ServeAsync(port int) {
	go func() {
		if err := r.Serve(port); err != nil {
			slog.Error("metrics server failed", "port", port, "error", err)
		}
	}()
}
