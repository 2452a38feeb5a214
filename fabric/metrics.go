package fabric

import (
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts endpoint activity on a private registry. The counters feed
// the end-of-run summary; nothing is exported over HTTP.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fabric_api_requests_total",
			Help: "API requests issued, by method and HTTP status.",
		}, []string{"method", "code"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fabric_api_retries_total",
			Help: "Retries performed, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.requests, m.retries)
	return m
}

func (m *Metrics) observeRequest(method string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) observeRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

// Snapshot flattens the counters into sorted "name{labels} value" lines for
// the run summary.
func (m *Metrics) Snapshot() []string {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil
	}
	var lines []string
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			line := family.GetName()
			labels := metric.GetLabel()
			if len(labels) > 0 {
				line += "{"
				for i, label := range labels {
					if i > 0 {
						line += ","
					}
					line += label.GetName() + "=" + label.GetValue()
				}
				line += "}"
			}
			line += " " + strconv.FormatFloat(metric.GetCounter().GetValue(), 'f', -1, 64)
			lines = append(lines, line)
		}
	}
	sort.Strings(lines)
	return lines
}
