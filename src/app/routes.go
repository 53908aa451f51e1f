package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"calsync/src/models"
	"calsync/src/services"
	"calsync/src/storage"
)

type eventSearcher interface {
	Search(ctx context.Context, search models.EventsSearch) ([]models.CommunityEvent, error)
}

type syncer interface {
	Sync(ctx context.Context, hubID string) (services.SyncReport, error)
	SyncCommunity(ctx context.Context, communityID string) (services.CommunityReport, error)
}

type Routes struct {
	Events eventSearcher
	Sync   syncer
	Logger *slog.Logger
}

func RegisterRoutes(mux *http.ServeMux, routes Routes) {
	mux.HandleFunc("/events", routes.handleEvents)
	mux.HandleFunc("/hubs/", routes.handleHubSubroutes)
	mux.HandleFunc("/communities/", routes.handleCommunitySubroutes)
}

func (r Routes) handleEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	search, err := parseEventsSearch(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	events, err := r.Events.Search(req.Context(), search)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidSearch) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		r.Logger.Error("search events failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "search failed"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (r Routes) handleHubSubroutes(w http.ResponseWriter, req *http.Request) {
	hubID, ok := syncTarget(w, req, "/hubs/")
	if !ok {
		return
	}
	report, err := r.Sync.Sync(req.Context(), hubID)
	if err != nil {
		if errors.Is(err, storage.ErrHubNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "hub not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (r Routes) handleCommunitySubroutes(w http.ResponseWriter, req *http.Request) {
	communityID, ok := syncTarget(w, req, "/communities/")
	if !ok {
		return
	}
	report, err := r.Sync.SyncCommunity(req.Context(), communityID)
	if err != nil {
		if errors.Is(err, storage.ErrCommunityNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "community not found"})
			return
		}
		r.Logger.Error("community sync failed", "community_id", communityID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// syncTarget accepts POST <prefix>{uuid}/sync and writes the error response
// for anything else.
func syncTarget(w http.ResponseWriter, req *http.Request, prefix string) (string, bool) {
	if req.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return "", false
	}
	parts := strings.Split(strings.TrimPrefix(req.URL.Path, prefix), "/")
	if len(parts) != 2 || parts[1] != "sync" || strings.TrimSpace(parts[0]) == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return "", false
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be a uuid"})
		return "", false
	}
	return parts[0], true
}

func parseEventsSearch(req *http.Request) (models.EventsSearch, error) {
	q := req.URL.Query()
	search := models.EventsSearch{
		HubID:       strings.TrimSpace(q.Get("hub_id")),
		CommunityID: strings.TrimSpace(q.Get("community_id")),
	}
	if raw := q.Get("min_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return models.EventsSearch{}, fmt.Errorf("min_date: %w", err)
		}
		search.MinDate = &t
	}
	if raw := q.Get("max_date"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return models.EventsSearch{}, fmt.Errorf("max_date: %w", err)
		}
		search.MaxDate = &t
	}
	return search, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
