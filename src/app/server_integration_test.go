package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calsync/src/lib"
	"calsync/src/models"
	"calsync/src/services"
	"calsync/src/storage/storagetest"
)

func icsAround(now time.Time) string {
	day := now.UTC().Truncate(24 * time.Hour).Add(48 * time.Hour)
	stamp := func(t time.Time) string { return t.Format("20060102T150405Z") }
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//calsync//itest//EN",
		"BEGIN:VEVENT",
		"UID:itest-1@example.com",
		"DTSTAMP:" + stamp(now.UTC().Truncate(time.Second)),
		"DTSTART:" + stamp(day.Add(18*time.Hour)),
		"DTEND:" + stamp(day.Add(20*time.Hour)),
		"SUMMARY:Go night",
		"LOCATION:Library",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:itest-2@example.com",
		"DTSTAMP:" + stamp(now.UTC().Truncate(time.Second)),
		"DTSTART:" + stamp(day.Add(7*24*time.Hour+18*time.Hour)),
		"DTEND:" + stamp(day.Add(7*24*time.Hour+19*time.Hour)),
		"SUMMARY:Hack night",
		"END:VEVENT",
		"END:VCALENDAR",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func TestServerRunOnceFromSeed(t *testing.T) {
	dbURL := storagetest.DatabaseURL(t, "app")
	ctx := context.Background()

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(icsAround(time.Now())))
	}))
	defer feed.Close()

	seedPath := filepath.Join(t.TempDir(), "seed.yaml")
	seed := fmt.Sprintf(`hubs:
  - name: Triangle
    communities:
      - name: Go Raleigh
        ics_url: %s
        primary_color: "#00ADD8"
      - name: Dormant
        ics_url: %s
        sync_behaviour: Ignore
`, feed.URL, feed.URL)
	if err := os.WriteFile(seedPath, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	cfg := lib.Config{
		DatabaseURL:     dbURL,
		HTTPAddr:        "127.0.0.1:0",
		LogLevel:        "ERROR",
		HubName:         "Triangle",
		SeedFile:        seedPath,
		WindowPast:      30 * 24 * time.Hour,
		WindowFuture:    60 * 24 * time.Hour,
		FeedConcurrency: 2,
		CredentialTTL:   time.Minute,
	}
	server, err := NewServer(ctx, cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer server.Close()

	report, err := server.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	var active services.CommunityReport
	skipped := 0
	for _, c := range report.Communities {
		if c.Skipped {
			skipped++
			continue
		}
		active = c
	}
	if skipped != 1 || active.Actions != (services.ActionCounts{Added: 2}) {
		t.Fatalf("first run communities = %+v", report.Communities)
	}
	if len(report.Sinks) != 0 {
		t.Fatalf("sinks ran without configuration: %+v", report.Sinks)
	}

	report, err = server.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	for _, c := range report.Communities {
		if c.Actions != (services.ActionCounts{}) {
			t.Fatalf("second run changed the store: %+v", c)
		}
	}

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?hub_id="+report.HubID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /events status = %d: %s", rec.Code, rec.Body.String())
	}
	var events []models.CommunityEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 || events[0].Name != "Go night" || events[0].CommunityColor != "#00ADD8" {
		t.Fatalf("events = %+v", events)
	}

	rec = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "calsync_sync_runs_total 2") {
		t.Fatalf("metrics missing sync runs:\n%s", rec.Body.String())
	}
}
