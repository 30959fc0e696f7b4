package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	t.Run("without labels", func(t *testing.T) {
		r := NewRegistry()
		c := r.NewCounter("test_counter", "A test counter")

		_ = c.Inc()
		_ = c.Inc()
		_ = c.Add(3)

		samples := c.Collect()
		if len(samples) != 1 {
			t.Fatalf("expected 1 sample, got %d", len(samples))
		}
		if samples[0].Value != 5 {
			t.Errorf("expected value 5, got %f", samples[0].Value)
		}
	})

	t.Run("with labels", func(t *testing.T) {
		r := NewRegistry()
		c := r.NewCounter("ops", "Operations", "op", "outcome")

		vec, err := c.WithLabels("release", "ok")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_ = vec.Inc()
		vec, _ = c.WithLabels("release", "ok")
		_ = vec.Inc()
		vec, _ = c.WithLabels("store", "ok")
		_ = vec.Inc()

		samples := c.Collect()
		if len(samples) != 2 {
			t.Fatalf("expected 2 samples, got %d", len(samples))
		}
		if samples[0].Value != 2 || samples[0].Labels["op"] != "release" {
			t.Errorf("unexpected first sample: %+v", samples[0])
		}
	})

	t.Run("label mismatch", func(t *testing.T) {
		r := NewRegistry()
		c := r.NewCounter("ops", "Operations", "op")
		if _, err := c.WithLabels("a", "b"); !errors.Is(err, ErrLabelCountMismatch) {
			t.Errorf("expected ErrLabelCountMismatch, got %v", err)
		}
	})

	t.Run("negative add", func(t *testing.T) {
		r := NewRegistry()
		c := r.NewCounter("ops", "Operations")
		if err := c.Add(-1); !errors.Is(err, ErrNegativeCounterValue) {
			t.Errorf("expected ErrNegativeCounterValue, got %v", err)
		}
	})
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("armed", "Armed flag")

	_ = g.SetBool(true)
	if v := g.Collect()[0].Value; v != 1 {
		t.Errorf("expected 1, got %f", v)
	}
	_ = g.SetBool(false)
	if v := g.Collect()[0].Value; v != 0 {
		t.Errorf("expected 0, got %f", v)
	}

	vec, _ := g.WithLabels()
	vec.Inc()
	vec.Inc()
	vec.Dec()
	if vec.Value() != 1 {
		t.Errorf("expected 1, got %f", vec.Value())
	}
}

func TestHistogram(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("latency", "Latency", []float64{0.1, 1}, "path")

	vec, err := h.WithLabels("forward")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vec.Observe(0.0625)
	vec.Observe(0.5)
	vec.Observe(4)

	if vec.Count() != 3 {
		t.Fatalf("expected count 3, got %d", vec.Count())
	}

	samples := h.Collect()
	// three buckets (0.1, 1, +Inf) plus _sum and _count
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	want := map[string]float64{"0.1": 1, "1": 2, "+Inf": 3}
	for _, s := range samples[:3] {
		if s.Value != want[s.Labels["le"]] {
			t.Errorf("bucket le=%s: expected %f, got %f", s.Labels["le"], want[s.Labels["le"]], s.Value)
		}
	}
	if samples[3].Name != "latency_sum" || samples[3].Value != 4.5625 {
		t.Errorf("unexpected sum sample: %+v", samples[3])
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("dup", "first")

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate metric")
		}
	}()
	r.NewGauge("dup", "second")
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("relayd_test_total", "Help with \"quotes\"", "op")
	vec, _ := c.WithLabels(`we"ird`)
	_ = vec.Inc()
	r.NewGauge("relayd_empty", "never set")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	if ct := rec.Header().Get("Content-Type"); ct != ContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(out, "# TYPE relayd_test_total counter") {
		t.Errorf("missing TYPE line:\n%s", out)
	}
	if !strings.Contains(out, `relayd_test_total{op="we\"ird"} 1`) {
		t.Errorf("missing escaped sample:\n%s", out)
	}
	if strings.Contains(out, "relayd_empty") {
		t.Errorf("metric without samples should be omitted:\n%s", out)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("concurrent", "Concurrent counter", "op")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			vec, _ := c.WithLabels("forward")
			for j := 0; j < 100; j++ {
				_ = vec.Inc()
			}
		}()
	}
	wg.Wait()

	if v := c.Collect()[0].Value; v != 5000 {
		t.Errorf("expected 5000, got %f", v)
	}
}

func TestInit_Idempotent(t *testing.T) {
	a := Init()
	b := Init()
	if a != b || Default() != a {
		t.Fatal("Init should return the same registry")
	}

	RecordOperation("store", OutcomeOK)
	vec, _ := OperationsTotal.WithLabels("store", OutcomeOK)
	if vec.Value() < 1 {
		t.Errorf("expected store counter to be incremented")
	}
}
