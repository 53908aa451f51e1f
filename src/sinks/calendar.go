package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/calendar/v3"

	"calsync/src/clients/gcal"
	"calsync/src/lib"
	"calsync/src/models"
)

const MirrorGoogleCalendar = "gcal"

// GoogleCalendar is the subset of *gcal.Client the calendar sink uses.
type GoogleCalendar interface {
	ListEvents(ctx context.Context, minDate, maxDate time.Time) ([]*calendar.Event, error)
	CreateEvent(ctx context.Context, event models.CommunityEvent) (*calendar.Event, error)
	PatchEvent(ctx context.Context, eventID string, event models.CommunityEvent) error
	DeleteEvent(ctx context.Context, eventID string) error
}

// CalendarOpener returns a client bound to one calendar id.
type CalendarOpener func(ctx context.Context, calendarID string) (GoogleCalendar, error)

// GCalOpener adapts a gcal factory.
func GCalOpener(factory *gcal.Factory) CalendarOpener {
	return func(ctx context.Context, calendarID string) (GoogleCalendar, error) {
		client, err := factory.Open(ctx, calendarID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// CalendarSink mirrors hub events into the hub's shared Google calendar.
type CalendarSink struct {
	hub     models.Hub
	open    CalendarOpener
	xrefs   XrefStore
	pacer   *lib.Pacer
	logger  *slog.Logger
	metrics *lib.Metrics
}

func NewCalendarSink(hub models.Hub, open CalendarOpener, xrefs XrefStore, pacer *lib.Pacer, logger *slog.Logger, metrics *lib.Metrics) (*CalendarSink, error) {
	if hub.GoogleCalendarID == "" {
		return nil, fmt.Errorf("%w: hub %s has no calendar id", ErrSinkNotConfigured, hub.Name)
	}
	if open == nil {
		return nil, fmt.Errorf("%w: no google credentials", ErrSinkNotConfigured)
	}
	if logger == nil {
		logger = lib.DiscardLogger()
	}
	return &CalendarSink{
		hub:     hub,
		open:    open,
		xrefs:   xrefs,
		pacer:   pacer,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (s *CalendarSink) Name() string {
	return MirrorGoogleCalendar
}

func (s *CalendarSink) ProcessEvents(ctx context.Context, events []models.CommunityEvent, minDate, maxDate time.Time) (models.MirrorSummary, error) {
	client, err := s.open(ctx, s.hub.GoogleCalendarID)
	if err != nil {
		return models.MirrorSummary{Sink: s.Name()}, fmt.Errorf("open hub calendar: %w", err)
	}
	mirror := &gcalMirror{client: client, logger: s.logger}
	return reconcileMirror(ctx, reconcileMirrorInput{
		hub:     s.hub,
		name:    s.Name(),
		mirror:  mirror,
		xrefs:   s.xrefs,
		pacer:   s.pacer,
		logger:  s.logger,
		metrics: s.metrics,
		events:  events,
		minDate: minDate,
		maxDate: maxDate,
	})
}

type reconcileMirrorInput struct {
	hub     models.Hub
	name    string
	mirror  MirrorCalendar
	xrefs   XrefStore
	pacer   *lib.Pacer
	logger  *slog.Logger
	metrics *lib.Metrics
	events  []models.CommunityEvent
	minDate time.Time
	maxDate time.Time
}

// reconcileMirror lists the mirror once over the window the events were
// loaded with, loads the xrefs of events and runs one reconciliation pass.
func reconcileMirror(ctx context.Context, in reconcileMirrorInput) (models.MirrorSummary, error) {
	listing, err := in.mirror.ListEvents(ctx, in.minDate, in.maxDate)
	if err != nil {
		return models.MirrorSummary{Sink: in.name}, fmt.Errorf("list %s events: %w", in.name, err)
	}

	eventIDs := make([]string, 0, len(in.events))
	for _, e := range in.events {
		eventIDs = append(eventIDs, e.ID)
	}
	xrefs := []models.HubEventXref{}
	if len(eventIDs) > 0 {
		xrefs, err = in.xrefs.ListByHub(ctx, in.hub.ID, in.name, eventIDs)
		if err != nil {
			return models.MirrorSummary{Sink: in.name}, fmt.Errorf("load %s xrefs: %w", in.name, err)
		}
	}

	result := NewReconciler(in.mirror, in.xrefs, in.pacer, in.logger, in.metrics).Reconcile(ctx, ReconcileInput{
		Hub:     in.hub,
		Mirror:  in.name,
		Events:  in.events,
		Xrefs:   xrefs,
		Listing: listing,
	})
	in.logger.Info("mirror reconciled",
		"hub_id", in.hub.ID,
		"mirror", in.name,
		"created", len(result.Created),
		"bound", len(result.Bound),
		"patched", len(result.Patched),
		"deleted", len(result.Deleted),
		"healed", len(result.HealedXrefs),
		"failures", len(result.Failures),
	)
	return result.Summary(in.name), result.Err()
}

type gcalMirror struct {
	client GoogleCalendar
	logger *slog.Logger
}

func (m *gcalMirror) ListEvents(ctx context.Context, minDate, maxDate time.Time) ([]MirrorEvent, error) {
	items, err := m.client.ListEvents(ctx, minDate, maxDate)
	if err != nil {
		return nil, err
	}
	out := make([]MirrorEvent, 0, len(items))
	for _, item := range items {
		if item.Status == "cancelled" {
			continue
		}
		start, end, err := gcal.EventTimes(item)
		if err != nil {
			m.logger.Warn("skip mirror event without times", "mirror_event_id", item.Id, "error", err)
			continue
		}
		out = append(out, MirrorEvent{
			ID:          item.Id,
			Name:        item.Summary,
			Description: item.Description,
			Location:    item.Location,
			StartDate:   start,
			EndDate:     end,
		})
	}
	return out, nil
}

func (m *gcalMirror) CreateEvent(ctx context.Context, event models.CommunityEvent) (string, error) {
	created, err := m.client.CreateEvent(ctx, event)
	if err != nil {
		return "", err
	}
	if created == nil || created.Id == "" {
		return "", fmt.Errorf("calendar returned no event id")
	}
	return created.Id, nil
}

func (m *gcalMirror) PatchEvent(ctx context.Context, mirrorEventID string, event models.CommunityEvent) error {
	return m.client.PatchEvent(ctx, mirrorEventID, event)
}

func (m *gcalMirror) DeleteEvent(ctx context.Context, mirrorEventID string) error {
	return m.client.DeleteEvent(ctx, mirrorEventID)
}
