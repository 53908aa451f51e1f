package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calsync/src/lib"
	"calsync/src/models"
)

// ErrXrefConsistency marks a mirror object whose cross-reference could not be
// recorded after it was created.
var ErrXrefConsistency = errors.New("mirror xref consistency failure")

// ErrSinkNotConfigured is returned by sink constructors missing a required identifier.
var ErrSinkNotConfigured = errors.New("sink not configured")

// MirrorEvent is the comparable view of one object in a mirror.
type MirrorEvent struct {
	ID          string
	Name        string
	Description string
	Location    string
	StartDate   time.Time
	EndDate     time.Time
}

func (m MirrorEvent) Schema() models.EventSchema {
	return models.EventSchema{
		ExternalID:  m.ID,
		Name:        m.Name,
		Description: m.Description,
		Location:    m.Location,
		StartDate:   m.StartDate,
		EndDate:     m.EndDate,
	}
}

// MirrorCalendar is a downstream system addressed by mirror-side ids.
type MirrorCalendar interface {
	ListEvents(ctx context.Context, minDate, maxDate time.Time) ([]MirrorEvent, error)
	CreateEvent(ctx context.Context, event models.CommunityEvent) (string, error)
	PatchEvent(ctx context.Context, mirrorEventID string, event models.CommunityEvent) error
	DeleteEvent(ctx context.Context, mirrorEventID string) error
}

// XrefStore persists hub event cross-references.
type XrefStore interface {
	ListByHub(ctx context.Context, hubID, mirror string, eventIDs []string) ([]models.HubEventXref, error)
	Add(ctx context.Context, xref models.HubEventXref) (models.HubEventXref, error)
	Delete(ctx context.Context, id string) error
	DeleteByMirrorEventID(ctx context.Context, hubID, mirror, mirrorEventID string) error
}

type ReconcileInput struct {
	Hub     models.Hub
	Mirror  string
	Events  []models.CommunityEvent
	Xrefs   []models.HubEventXref
	Listing []MirrorEvent
}

// ReconcileResult lists what one pass did, by mirror event id unless noted.
type ReconcileResult struct {
	Created     []string
	Bound       []string
	Patched     []string
	Deleted     []string
	HealedXrefs []string
	Failures    []error
	Critical    []error
}

// Err joins the critical failures of the pass.
func (r ReconcileResult) Err() error {
	return errors.Join(r.Critical...)
}

// Reconciler applies canonical hub events to one mirror through the xref store.
type Reconciler struct {
	calendar MirrorCalendar
	xrefs    XrefStore
	pacer    *lib.Pacer
	logger   *slog.Logger
	metrics  *lib.Metrics
}

func NewReconciler(calendar MirrorCalendar, xrefs XrefStore, pacer *lib.Pacer, logger *slog.Logger, metrics *lib.Metrics) *Reconciler {
	if logger == nil {
		logger = lib.DiscardLogger()
	}
	return &Reconciler{
		calendar: calendar,
		xrefs:    xrefs,
		pacer:    pacer,
		logger:   logger,
		metrics:  metrics,
	}
}

// unaccounted tracks listed mirror events not yet claimed by a canonical
// event, in listing order.
type unaccounted struct {
	byID  map[string]MirrorEvent
	order []string
}

func newUnaccounted(listing []MirrorEvent) *unaccounted {
	u := &unaccounted{byID: make(map[string]MirrorEvent, len(listing))}
	for _, m := range listing {
		if _, dup := u.byID[m.ID]; dup {
			continue
		}
		u.byID[m.ID] = m
		u.order = append(u.order, m.ID)
	}
	return u
}

func (u *unaccounted) take(id string) {
	delete(u.byID, id)
}

func (u *unaccounted) findSame(event models.CommunityEvent) (MirrorEvent, bool) {
	for _, id := range u.order {
		m, ok := u.byID[id]
		if ok && models.SameSchedule(event.Schema(), m.Schema()) {
			return m, true
		}
	}
	return MirrorEvent{}, false
}

func (u *unaccounted) remaining() []string {
	ids := make([]string, 0, len(u.byID))
	for _, id := range u.order {
		if _, ok := u.byID[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Reconciler) Reconcile(ctx context.Context, in ReconcileInput) ReconcileResult {
	var result ReconcileResult
	logger := r.logger.With("hub_id", in.Hub.ID, "mirror", in.Mirror)

	listed := make(map[string]MirrorEvent, len(in.Listing))
	for _, m := range in.Listing {
		listed[m.ID] = m
	}
	open := newUnaccounted(in.Listing)

	xrefByEventID := make(map[string]models.HubEventXref, len(in.Xrefs))
	for _, x := range in.Xrefs {
		if x.CommunityEventID == nil {
			continue
		}
		if _, exists := xrefByEventID[*x.CommunityEventID]; !exists {
			xrefByEventID[*x.CommunityEventID] = x
		}
		// Referenced objects are never dedupe candidates for other events.
		open.take(x.MirrorEventID)
	}

	for _, event := range in.Events {
		if xref, ok := xrefByEventID[event.ID]; ok {
			r.reconcileReferenced(ctx, logger, event, xref, listed, open, &result)
			continue
		}
		r.reconcileUnreferenced(ctx, logger, in, event, open, &result)
	}

	leftovers := open.remaining()
	if !in.Hub.AllowsMirrorDelete() {
		if len(leftovers) > 0 {
			logger.Info("mirror delete suppressed by hub policy", "unaccounted", len(leftovers))
		}
		return result
	}
	for _, mirrorID := range leftovers {
		if err := r.wait(ctx); err != nil {
			result.Failures = append(result.Failures, err)
			return result
		}
		if err := r.calendar.DeleteEvent(ctx, mirrorID); err != nil {
			logger.Error("delete mirror event", "mirror_event_id", mirrorID, "error", err)
			r.metrics.Inc("mirror_errors_total")
			result.Failures = append(result.Failures, fmt.Errorf("delete mirror event %s: %w", mirrorID, err))
			continue
		}
		r.metrics.Inc("mirror_events_deleted_total")
		result.Deleted = append(result.Deleted, mirrorID)
		if err := r.xrefs.DeleteByMirrorEventID(ctx, in.Hub.ID, in.Mirror, mirrorID); err != nil {
			logger.Error("delete xrefs of deleted mirror event", "mirror_event_id", mirrorID, "error", err)
			result.Failures = append(result.Failures, err)
		}
	}
	return result
}

func (r *Reconciler) reconcileReferenced(
	ctx context.Context,
	logger *slog.Logger,
	event models.CommunityEvent,
	xref models.HubEventXref,
	listed map[string]MirrorEvent,
	open *unaccounted,
	result *ReconcileResult,
) {
	mirrored, ok := listed[xref.MirrorEventID]
	if !ok {
		// Deleted out of band. Dropping the xref lets the next pass recreate it.
		if err := r.xrefs.Delete(ctx, xref.ID); err != nil {
			logger.Error("delete dangling xref", "xref_id", xref.ID, "error", err)
			result.Failures = append(result.Failures, err)
			return
		}
		logger.Info("healed dangling xref", "xref_id", xref.ID, "event_id", event.ID, "mirror_event_id", xref.MirrorEventID)
		r.metrics.Inc("mirror_xrefs_healed_total")
		result.HealedXrefs = append(result.HealedXrefs, xref.ID)
		return
	}
	open.take(mirrored.ID)

	if models.SameSchedule(event.Schema(), mirrored.Schema()) {
		return
	}
	if err := r.wait(ctx); err != nil {
		result.Failures = append(result.Failures, err)
		return
	}
	if err := r.calendar.PatchEvent(ctx, mirrored.ID, event); err != nil {
		logger.Error("patch mirror event", "mirror_event_id", mirrored.ID, "event_id", event.ID, "error", err)
		r.metrics.Inc("mirror_errors_total")
		result.Failures = append(result.Failures, fmt.Errorf("patch mirror event %s: %w", mirrored.ID, err))
		return
	}
	r.metrics.Inc("mirror_events_patched_total")
	result.Patched = append(result.Patched, mirrored.ID)
}

func (r *Reconciler) reconcileUnreferenced(
	ctx context.Context,
	logger *slog.Logger,
	in ReconcileInput,
	event models.CommunityEvent,
	open *unaccounted,
	result *ReconcileResult,
) {
	var mirrorID string
	created := false
	if existing, ok := open.findSame(event); ok {
		mirrorID = existing.ID
		logger.Info("bound existing mirror event", "mirror_event_id", mirrorID, "event_id", event.ID)
	} else {
		if err := r.wait(ctx); err != nil {
			result.Failures = append(result.Failures, err)
			return
		}
		id, err := r.calendar.CreateEvent(ctx, event)
		if err != nil {
			logger.Error("create mirror event", "event_id", event.ID, "name", event.Name, "error", err)
			r.metrics.Inc("mirror_errors_total")
			result.Failures = append(result.Failures, fmt.Errorf("create mirror event for %s: %w", event.ID, err))
			return
		}
		mirrorID = id
		created = true
		logger.Info("created mirror event", "mirror_event_id", mirrorID, "event_id", event.ID, "name", event.Name)
	}
	open.take(mirrorID)

	eventID := event.ID
	_, err := r.xrefs.Add(ctx, models.HubEventXref{
		HubID:                    in.Hub.ID,
		Mirror:                   in.Mirror,
		CommunityEventID:         &eventID,
		CommunityEventExternalID: event.ExternalID,
		MirrorEventID:            mirrorID,
	})
	if err == nil {
		if created {
			r.metrics.Inc("mirror_events_created_total")
			result.Created = append(result.Created, mirrorID)
		} else {
			r.metrics.Inc("mirror_events_bound_total")
			result.Bound = append(result.Bound, mirrorID)
		}
		return
	}

	if !created {
		// The object predates this pass; the next pass binds it again.
		logger.Error("record xref for bound mirror event", "mirror_event_id", mirrorID, "event_id", eventID, "error", err)
		result.Failures = append(result.Failures, fmt.Errorf("add xref for %s: %w", mirrorID, err))
		return
	}

	critical := fmt.Errorf("%w: add xref for event %s -> %s: %v", ErrXrefConsistency, eventID, mirrorID, err)
	if waitErr := r.wait(ctx); waitErr != nil {
		critical = fmt.Errorf("%w; compensating delete not attempted: %v", critical, waitErr)
	} else if delErr := r.calendar.DeleteEvent(ctx, mirrorID); delErr != nil {
		critical = fmt.Errorf("%w; compensating delete failed: %v", critical, delErr)
	}
	lib.Critical(ctx, logger, "mirror xref write failed after create", "event_id", eventID, "mirror_event_id", mirrorID, "error", critical)
	r.metrics.Inc("mirror_xref_critical_total")
	result.Critical = append(result.Critical, critical)
}

func (r *Reconciler) wait(ctx context.Context) error {
	if err := r.pacer.Wait(ctx); err != nil {
		return fmt.Errorf("pace mirror call: %w", err)
	}
	return nil
}

// Summary converts the result for reporting under the given sink name.
func (r ReconcileResult) Summary(sink string) models.MirrorSummary {
	return models.MirrorSummary{
		Sink:        sink,
		Created:     r.Created,
		Bound:       r.Bound,
		Patched:     r.Patched,
		Deleted:     r.Deleted,
		HealedXrefs: r.HealedXrefs,
		Failures:    len(r.Failures),
		Critical:    len(r.Critical),
	}
}
