package lib

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics is a counter store backed by a private prometheus registry.
type Metrics struct {
	mu       sync.RWMutex
	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, v float64) {
	if m == nil {
		return
	}
	m.counter(name).Add(v)
}

func (m *Metrics) counter(name string) prometheus.Counter {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "calsync",
		Name:      name,
		Help:      "calsync counter " + name,
	})
	m.registry.MustRegister(c)
	m.counters[name] = c
	return c
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string]uint64, len(m.counters))
	for k, c := range m.counters {
		var metric dto.Metric
		if err := c.Write(&metric); err != nil {
			continue
		}
		cp[k] = uint64(metric.GetCounter().GetValue())
	}
	return cp
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
