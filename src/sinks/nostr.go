package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"calsync/src/clients/nostrcal"
	"calsync/src/lib"
	"calsync/src/models"
)

const MirrorNostr = "nostr"

// NostrCalendar is the subset of *nostrcal.Client the nostr sink uses.
type NostrCalendar interface {
	List(ctx context.Context, minDate, maxDate time.Time) ([]nostrcal.CalendarEvent, error)
	Publish(ctx context.Context, event nostrcal.CalendarEvent) error
	Delete(ctx context.Context, d string) error
}

// NostrSink mirrors hub events as NIP-52 calendar events on a relay.
type NostrSink struct {
	hub     models.Hub
	client  NostrCalendar
	xrefs   XrefStore
	pacer   *lib.Pacer
	logger  *slog.Logger
	metrics *lib.Metrics
}

func NewNostrSink(hub models.Hub, client NostrCalendar, xrefs XrefStore, pacer *lib.Pacer, logger *slog.Logger, metrics *lib.Metrics) (*NostrSink, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: no nostr relay configured", ErrSinkNotConfigured)
	}
	if logger == nil {
		logger = lib.DiscardLogger()
	}
	return &NostrSink{
		hub:     hub,
		client:  client,
		xrefs:   xrefs,
		pacer:   pacer,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func (s *NostrSink) Name() string {
	return MirrorNostr
}

func (s *NostrSink) ProcessEvents(ctx context.Context, events []models.CommunityEvent, minDate, maxDate time.Time) (models.MirrorSummary, error) {
	return reconcileMirror(ctx, reconcileMirrorInput{
		hub:     s.hub,
		name:    s.Name(),
		mirror:  &nostrMirror{client: s.client},
		xrefs:   s.xrefs,
		pacer:   s.pacer,
		logger:  s.logger,
		metrics: s.metrics,
		events:  events,
		minDate: minDate,
		maxDate: maxDate,
	})
}

type nostrMirror struct {
	client NostrCalendar
}

func (m *nostrMirror) ListEvents(ctx context.Context, minDate, maxDate time.Time) ([]MirrorEvent, error) {
	listed, err := m.client.List(ctx, minDate, maxDate)
	if err != nil {
		return nil, err
	}
	out := make([]MirrorEvent, 0, len(listed))
	for _, e := range listed {
		out = append(out, MirrorEvent{
			ID:          e.D,
			Name:        e.Title,
			Description: e.Description,
			Location:    e.Location,
			StartDate:   e.Start,
			EndDate:     e.End,
		})
	}
	return out, nil
}

func (m *nostrMirror) CreateEvent(ctx context.Context, event models.CommunityEvent) (string, error) {
	d := uuid.NewString()
	if err := m.client.Publish(ctx, toCalendarEvent(d, event)); err != nil {
		return "", err
	}
	return d, nil
}

func (m *nostrMirror) PatchEvent(ctx context.Context, mirrorEventID string, event models.CommunityEvent) error {
	return m.client.Publish(ctx, toCalendarEvent(mirrorEventID, event))
}

func (m *nostrMirror) DeleteEvent(ctx context.Context, mirrorEventID string) error {
	return m.client.Delete(ctx, mirrorEventID)
}

func toCalendarEvent(d string, event models.CommunityEvent) nostrcal.CalendarEvent {
	return nostrcal.CalendarEvent{
		D:           d,
		Title:       event.Name,
		Description: event.Description,
		Location:    event.Location,
		Link:        event.Link,
		Start:       event.StartDate.UTC().Truncate(time.Second),
		End:         event.EndDate.UTC().Truncate(time.Second),
	}
}
