package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// ContentType is the Prometheus text exposition content type.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

// Handler returns an http.Handler serving the registry in text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", ContentType)
		_ = r.Write(w)
	})
}

// Write renders every metric with at least one sample.
func (r *Registry) Write(w io.Writer) error {
	for _, m := range r.Metrics() {
		samples := m.Collect()
		if len(samples) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", m.Name(), escapeHelp(m.Help()), m.Name(), m.Type()); err != nil {
			return err
		}
		for _, s := range samples {
			if _, err := io.WriteString(w, formatSample(s)); err != nil {
				return err
			}
		}
	}
	return nil
}

func formatSample(s Sample) string {
	if len(s.Labels) == 0 {
		return s.Name + " " + formatFloat(s.Value) + "\n"
	}
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + `="` + escapeLabelValue(s.Labels[k]) + `"`
	}
	return s.Name + "{" + strings.Join(parts, ",") + "} " + formatFloat(s.Value) + "\n"
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func escapeHelp(s string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(s)
}

func escapeLabelValue(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s)
}
