package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrLabelCountMismatch is returned when the number of label values doesn't match the defined labels.
var ErrLabelCountMismatch = errors.New("label count mismatch")

// ErrNegativeCounterValue is returned when attempting to add a negative value to a counter.
var ErrNegativeCounterValue = errors.New("counter cannot be decreased")

// ErrDuplicateMetric is returned when registering a metric with a name that is already registered.
var ErrDuplicateMetric = errors.New("duplicate metric name")

// MetricType represents the type of a metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is the interface implemented by all metric types.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	// Collect returns all samples for exposition.
	Collect() []Sample
}

// Sample represents a single metric sample with labels.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// atomicFloat64 stores float64 bits for lock-free updates.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (a *atomicFloat64) Load() float64 { return math.Float64frombits(a.bits.Load()) }

func (a *atomicFloat64) Store(v float64) { a.bits.Store(math.Float64bits(v)) }

func (a *atomicFloat64) Add(delta float64) {
	for {
		old := a.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if a.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// family holds the per-label-set children of one metric.
type family[T any] struct {
	name       string
	help       string
	labelNames []string
	newChild   func(labels map[string]string) *T

	mu       sync.RWMutex
	children map[string]*T
	order    []string
}

func newFamily[T any](name, help string, labelNames []string, newChild func(map[string]string) *T) *family[T] {
	return &family[T]{
		name:       name,
		help:       help,
		labelNames: labelNames,
		newChild:   newChild,
		children:   make(map[string]*T),
	}
}

// child returns the child for values, creating it on first use.
func (f *family[T]) child(kind string, values []string) (*T, error) {
	if len(values) != len(f.labelNames) {
		return nil, fmt.Errorf("%w: %s %s expected %d labels, got %d",
			ErrLabelCountMismatch, kind, f.name, len(f.labelNames), len(values))
	}
	key := strings.Join(values, "\x00")

	f.mu.RLock()
	c, ok := f.children[key]
	f.mu.RUnlock()
	if ok {
		return c, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok = f.children[key]; ok {
		return c, nil
	}
	labels := make(map[string]string, len(values))
	for i, n := range f.labelNames {
		labels[n] = values[i]
	}
	c = f.newChild(labels)
	f.children[key] = c
	f.order = append(f.order, key)
	return c, nil
}

// each visits children in creation order.
func (f *family[T]) each(fn func(*T)) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, key := range f.order {
		fn(f.children[key])
	}
}

// ----------------------------------------------------------------------------
// Counter
// ----------------------------------------------------------------------------

// Counter is a monotonically increasing metric.
type Counter struct {
	f *family[CounterVec]
}

// CounterVec is a counter for one label combination.
type CounterVec struct {
	labels map[string]string
	value  atomicFloat64
}

func newCounter(name, help string, labelNames []string) *Counter {
	return &Counter{f: newFamily(name, help, labelNames, func(l map[string]string) *CounterVec {
		return &CounterVec{labels: l}
	})}
}

func (c *Counter) Name() string     { return c.f.name }
func (c *Counter) Help() string     { return c.f.help }
func (c *Counter) Type() MetricType { return MetricTypeCounter }

// WithLabels returns the counter for the given label values.
func (c *Counter) WithLabels(values ...string) (*CounterVec, error) {
	return c.f.child("counter", values)
}

// Inc increments an unlabelled counter by 1.
func (c *Counter) Inc() error { return c.Add(1) }

// Add adds delta to an unlabelled counter.
func (c *Counter) Add(delta float64) error {
	v, err := c.WithLabels()
	if err != nil {
		return err
	}
	return v.Add(delta)
}

// Collect returns all samples.
func (c *Counter) Collect() []Sample {
	var out []Sample
	c.f.each(func(v *CounterVec) {
		out = append(out, Sample{Name: c.f.name, Labels: v.labels, Value: v.value.Load()})
	})
	return out
}

// Inc increments the counter by 1.
func (v *CounterVec) Inc() error { return v.Add(1) }

// Add adds delta, which must not be negative.
func (v *CounterVec) Add(delta float64) error {
	if delta < 0 {
		return ErrNegativeCounterValue
	}
	v.value.Add(delta)
	return nil
}

// Value returns the current count.
func (v *CounterVec) Value() float64 { return v.value.Load() }

// ----------------------------------------------------------------------------
// Gauge
// ----------------------------------------------------------------------------

// Gauge is a metric that can go up and down.
type Gauge struct {
	f *family[GaugeVec]
}

// GaugeVec is a gauge for one label combination.
type GaugeVec struct {
	labels map[string]string
	value  atomicFloat64
}

func newGauge(name, help string, labelNames []string) *Gauge {
	return &Gauge{f: newFamily(name, help, labelNames, func(l map[string]string) *GaugeVec {
		return &GaugeVec{labels: l}
	})}
}

func (g *Gauge) Name() string     { return g.f.name }
func (g *Gauge) Help() string     { return g.f.help }
func (g *Gauge) Type() MetricType { return MetricTypeGauge }

// WithLabels returns the gauge for the given label values.
func (g *Gauge) WithLabels(values ...string) (*GaugeVec, error) {
	return g.f.child("gauge", values)
}

// Set sets an unlabelled gauge.
func (g *Gauge) Set(value float64) error {
	v, err := g.WithLabels()
	if err != nil {
		return err
	}
	v.Set(value)
	return nil
}

// SetBool sets an unlabelled gauge to 1 or 0.
func (g *Gauge) SetBool(b bool) error {
	if b {
		return g.Set(1)
	}
	return g.Set(0)
}

// Collect returns all samples.
func (g *Gauge) Collect() []Sample {
	var out []Sample
	g.f.each(func(v *GaugeVec) {
		out = append(out, Sample{Name: g.f.name, Labels: v.labels, Value: v.value.Load()})
	})
	return out
}

func (v *GaugeVec) Set(value float64) { v.value.Store(value) }
func (v *GaugeVec) Inc()              { v.value.Add(1) }
func (v *GaugeVec) Dec()              { v.value.Add(-1) }
func (v *GaugeVec) Add(delta float64) { v.value.Add(delta) }
func (v *GaugeVec) Value() float64    { return v.value.Load() }

// ----------------------------------------------------------------------------
// Histogram
// ----------------------------------------------------------------------------

// Histogram tracks the distribution of observed values in cumulative buckets.
type Histogram struct {
	f       *family[HistogramVec]
	buckets []float64
}

// HistogramVec is a histogram for one label combination.
type HistogramVec struct {
	labels  map[string]string
	buckets []float64
	counts  []atomic.Uint64
	sum     atomicFloat64
	count   atomic.Uint64
}

func newHistogram(name, help string, buckets []float64, labelNames []string) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	h := &Histogram{buckets: bounds}
	h.f = newFamily(name, help, labelNames, func(l map[string]string) *HistogramVec {
		return &HistogramVec{labels: l, buckets: bounds, counts: make([]atomic.Uint64, len(bounds))}
	})
	return h
}

func (h *Histogram) Name() string     { return h.f.name }
func (h *Histogram) Help() string     { return h.f.help }
func (h *Histogram) Type() MetricType { return MetricTypeHistogram }

// WithLabels returns the histogram for the given label values.
func (h *Histogram) WithLabels(values ...string) (*HistogramVec, error) {
	return h.f.child("histogram", values)
}

// Observe records a value on an unlabelled histogram.
func (h *Histogram) Observe(value float64) error {
	v, err := h.WithLabels()
	if err != nil {
		return err
	}
	v.Observe(value)
	return nil
}

// Collect returns _bucket, _sum and _count samples.
func (h *Histogram) Collect() []Sample {
	var out []Sample
	h.f.each(func(v *HistogramVec) {
		var cumulative uint64
		for i, bound := range v.buckets {
			cumulative += v.counts[i].Load()
			labels := make(map[string]string, len(v.labels)+1)
			for k, val := range v.labels {
				labels[k] = val
			}
			labels["le"] = formatFloat(bound)
			out = append(out, Sample{Name: h.f.name + "_bucket", Labels: labels, Value: float64(cumulative)})
		}
		out = append(out,
			Sample{Name: h.f.name + "_sum", Labels: v.labels, Value: v.sum.Load()},
			Sample{Name: h.f.name + "_count", Labels: v.labels, Value: float64(v.count.Load())},
		)
	})
	return out
}

// Observe records value in the first bucket whose bound is >= value.
func (v *HistogramVec) Observe(value float64) {
	for i, bound := range v.buckets {
		if value <= bound {
			v.counts[i].Add(1)
			break
		}
	}
	v.sum.Add(value)
	v.count.Add(1)
}

// Count returns the number of observations.
func (v *HistogramVec) Count() uint64 { return v.count.Load() }

// ----------------------------------------------------------------------------
// Registry
// ----------------------------------------------------------------------------

// Registry holds all registered metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// NewCounter creates and registers a counter.
func (r *Registry) NewCounter(name, help string, labels ...string) *Counter {
	c := newCounter(name, help, labels)
	r.register(c)
	return c
}

// NewGauge creates and registers a gauge.
func (r *Registry) NewGauge(name, help string, labels ...string) *Gauge {
	g := newGauge(name, help, labels)
	r.register(g)
	return g
}

// NewHistogram creates and registers a histogram.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labels ...string) *Histogram {
	h := newHistogram(name, help, buckets, labels)
	r.register(h)
	return h
}

// register panics on duplicate names, which would produce invalid exposition output.
func (r *Registry) register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.names[m.Name()]; exists {
		panic(fmt.Sprintf("%s: %s", ErrDuplicateMetric, m.Name()))
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
}

// Metrics returns a copy of the registered metrics.
func (r *Registry) Metrics() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Metric(nil), r.metrics...)
}
