package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

const (
	eventsMetric  = "aero_camera_signal_events_total"
	clientsMetric = "aero_camera_signal_clients"
)

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Counters are exported as one family with an `event` label. If clients is
// non-nil it is called on every scrape and each entry becomes a gauge sample
// labelled with `role`.
func PrometheusHandler(m *Metrics, clients func() map[string]int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		snap := m.Snapshot()
		_, _ = fmt.Fprintf(w, "# HELP %s Internal event counters.\n", eventsMetric)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", eventsMetric)
		for _, k := range sortedKeys(snap) {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventsMetric, labelEscaper.Replace(k), snap[k])
		}

		if clients == nil {
			return
		}
		counts := clients()
		_, _ = fmt.Fprintf(w, "# HELP %s Registered signaling clients by role.\n", clientsMetric)
		_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", clientsMetric)
		for _, k := range sortedKeys(counts) {
			_, _ = fmt.Fprintf(w, "%s{role=\"%s\"} %d\n", clientsMetric, labelEscaper.Replace(k), counts[k])
		}
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
