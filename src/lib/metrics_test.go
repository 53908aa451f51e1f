package lib

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics()
	m.Inc("events")
	m.Inc("events")

	snap := m.Snapshot()
	if snap["events"] != 2 {
		t.Fatalf("events counter = %d, want 2", snap["events"])
	}

	snap["events"] = 100
	snap2 := m.Snapshot()
	if snap2["events"] != 2 {
		t.Fatalf("snapshot should be a copy; got %d", snap2["events"])
	}
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.Add("mirror_events_created_total", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "calsync_mirror_events_created_total 3") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc("ignored")
}
