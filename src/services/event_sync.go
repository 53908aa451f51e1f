package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"calsync/src/lib"
	"calsync/src/models"
)

// EventFeed yields one community's events from one provider.
type EventFeed interface {
	Name() string
	GetEventStream(ctx context.Context, minDate, maxDate time.Time) ([]models.EventSchema, error)
	ConvertToCommunityEvent(schema models.EventSchema) models.CommunityEvent
}

// EventSink propagates the canonical events of a hub into one mirror. The
// window is the one the events were loaded with, so the mirror listing covers
// the same span.
type EventSink interface {
	Name() string
	ProcessEvents(ctx context.Context, events []models.CommunityEvent, minDate, maxDate time.Time) (models.MirrorSummary, error)
}

// FeedBuilder returns the feeds a community is configured for. A non-nil
// error means at least one configured feed could not be built.
type FeedBuilder func(c models.Community) ([]EventFeed, error)

// SinkBuilder returns the sinks enabled for a hub.
type SinkBuilder func(hub models.Hub) ([]EventSink, error)

type syncHubRepo interface {
	GetHub(ctx context.Context, hubID string) (models.Hub, error)
	GetCommunity(ctx context.Context, communityID string) (models.Community, error)
	ListCommunities(ctx context.Context, hubID string) ([]models.Community, error)
}

type syncEventsRepo interface {
	ListByCommunity(ctx context.Context, communityID string, minDate, maxDate time.Time) ([]models.CommunityEvent, error)
	ListByHub(ctx context.Context, hubID string, minDate, maxDate time.Time) ([]models.CommunityEvent, error)
	ApplyActions(ctx context.Context, deleteIDs []string, save []models.CommunityEvent) ([]models.CommunityEvent, error)
}

type CommunityReport struct {
	CommunityID    string       `json:"community_id"`
	Name           string       `json:"name"`
	Skipped        bool         `json:"skipped,omitempty"`
	Fetched        int          `json:"fetched"`
	SuppressDelete bool         `json:"suppress_delete"`
	Actions        ActionCounts `json:"actions"`
	FeedErrors     []string     `json:"feed_errors,omitempty"`
}

type SyncReport struct {
	HubID       string                 `json:"hub_id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Communities []CommunityReport      `json:"communities"`
	Sinks       []models.MirrorSummary `json:"sinks"`
	Errors      []string               `json:"errors,omitempty"`
}

type SyncOptions struct {
	Window          lib.Window
	FeedConcurrency int
}

// EventSyncService runs the feed -> store -> mirror pipeline for a hub.
type EventSyncService struct {
	hubs        syncHubRepo
	events      syncEventsRepo
	feeds       FeedBuilder
	sinks       SinkBuilder
	window      lib.Window
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
	metrics     *lib.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEventSyncService(
	hubs syncHubRepo,
	events syncEventsRepo,
	feeds FeedBuilder,
	sinks SinkBuilder,
	opts SyncOptions,
	logger *slog.Logger,
	metrics *lib.Metrics,
) *EventSyncService {
	if logger == nil {
		logger = lib.DiscardLogger()
	}
	if opts.FeedConcurrency < 1 {
		opts.FeedConcurrency = 1
	}
	return &EventSyncService{
		hubs:        hubs,
		events:      events,
		feeds:       feeds,
		sinks:       sinks,
		window:      opts.Window,
		concurrency: opts.FeedConcurrency,
		now:         time.Now,
		logger:      logger,
		metrics:     metrics,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lock serializes runs that touch the same key.
func (s *EventSyncService) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Sync pulls every non-ignored community of the hub, persists the
// consolidated actions in one transaction and drives each sink with the
// refreshed hub events. Sink failures are reported, not returned.
func (s *EventSyncService) Sync(ctx context.Context, hubID string) (SyncReport, error) {
	defer s.lock("hub:" + hubID)()

	report := SyncReport{HubID: hubID, StartedAt: s.now()}
	logger := s.logger.With("hub_id", hubID)
	fail := func(err error) (SyncReport, error) {
		logger.Error("hub sync failed", "error", err)
		s.metrics.Inc("sync_failures_total")
		report.Errors = append(report.Errors, err.Error())
		report.FinishedAt = s.now()
		return report, err
	}

	hub, err := s.hubs.GetHub(ctx, hubID)
	if err != nil {
		return fail(fmt.Errorf("load hub: %w", err))
	}
	communities, err := s.hubs.ListCommunities(ctx, hubID)
	if err != nil {
		return fail(fmt.Errorf("load hub communities: %w", err))
	}
	minDate, maxDate := s.window.Bounds(report.StartedAt)
	logger.Info("hub sync started", "hub", hub.Name, "communities", len(communities), "min_date", minDate, "max_date", maxDate)

	active := make([]models.Community, 0, len(communities))
	for _, c := range communities {
		if c.SyncBehaviour == models.SyncIgnore {
			report.Communities = append(report.Communities, CommunityReport{CommunityID: c.ID, Name: c.Name, Skipped: true})
			continue
		}
		active = append(active, c)
	}

	fetched := s.fetchAll(ctx, active, minDate, maxDate)
	applied, err := s.apply(ctx, fetched, report.StartedAt, minDate, maxDate)
	report.Communities = append(report.Communities, applied.reports...)
	if err != nil {
		return fail(err)
	}

	hubEvents, err := s.events.ListByHub(ctx, hubID, minDate, maxDate)
	if err != nil {
		return fail(fmt.Errorf("reload hub events: %w", err))
	}
	report.Sinks = s.propagate(ctx, logger, hub, hubEvents, minDate, maxDate)

	report.FinishedAt = s.now()
	s.metrics.Inc("sync_runs_total")
	logger.Info("hub sync finished",
		"events", len(hubEvents),
		"saved", applied.saved,
		"deleted", applied.deleted,
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, nil
}

// SyncCommunity pulls one community into the store without touching any
// mirror.
func (s *EventSyncService) SyncCommunity(ctx context.Context, communityID string) (CommunityReport, error) {
	community, err := s.hubs.GetCommunity(ctx, communityID)
	if err != nil {
		return CommunityReport{CommunityID: communityID}, fmt.Errorf("load community: %w", err)
	}
	if community.SyncBehaviour == models.SyncIgnore {
		return CommunityReport{CommunityID: community.ID, Name: community.Name, Skipped: true}, nil
	}

	now := s.now()
	minDate, maxDate := s.window.Bounds(now)
	fetched := s.fetchAll(ctx, []models.Community{community}, minDate, maxDate)
	applied, err := s.apply(ctx, fetched, now, minDate, maxDate)
	report := CommunityReport{CommunityID: community.ID, Name: community.Name}
	if len(applied.reports) > 0 {
		report = applied.reports[0]
	}
	if err != nil {
		return report, err
	}
	s.logger.Info("community sync finished", "community_id", community.ID, "added", report.Actions.Added,
		"updated", report.Actions.Updated, "deleted", report.Actions.Deleted)
	return report, nil
}

// lockCommunities takes every community lock in id order, so hub runs and
// community runs sharing a community never interleave their plan and apply
// steps and never deadlock.
func (s *EventSyncService) lockCommunities(communities []models.Community) func() {
	ids := make([]string, 0, len(communities))
	for _, c := range communities {
		ids = append(ids, c.ID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	unlocks := make([]func(), 0, len(ids))
	for _, id := range ids {
		unlocks = append(unlocks, s.lock("community:"+id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

type applyResult struct {
	reports []CommunityReport
	saved   int
	deleted int
}

// apply consolidates each fetched community against the store and writes
// every action in one transaction, holding the community locks throughout.
func (s *EventSyncService) apply(ctx context.Context, fetched []communityFetch, now, minDate, maxDate time.Time) (applyResult, error) {
	communities := make([]models.Community, 0, len(fetched))
	for _, f := range fetched {
		communities = append(communities, f.community)
	}
	defer s.lockCommunities(communities)()

	var (
		result    applyResult
		deleteIDs []string
		save      []models.CommunityEvent
	)
	for _, f := range fetched {
		plan, err := s.plan(ctx, f, now, minDate, maxDate)
		result.reports = append(result.reports, plan.report)
		if err != nil {
			return result, err
		}
		deleteIDs = append(deleteIDs, internalIDsToDelete(plan.actions)...)
		save = append(save, EventsToSave(plan.actions)...)
	}

	if _, err := s.events.ApplyActions(ctx, deleteIDs, save); err != nil {
		return result, fmt.Errorf("apply event actions: %w", err)
	}
	s.metrics.Add("events_saved_total", float64(len(save)))
	s.metrics.Add("events_deleted_total", float64(len(deleteIDs)))
	result.saved, result.deleted = len(save), len(deleteIDs)
	return result, nil
}

// UpcomingOnlyFeed is implemented by feeds whose provider never reports
// events that have already started.
type UpcomingOnlyFeed interface {
	UpcomingOnly() bool
}

type communityFetch struct {
	community    models.Community
	events       []models.CommunityEvent
	errs         []error
	upcomingOnly bool
}

// fetchAll reads the feeds of each community, at most s.concurrency
// communities at a time. Results keep the input order.
func (s *EventSyncService) fetchAll(ctx context.Context, communities []models.Community, minDate, maxDate time.Time) []communityFetch {
	results := make([]communityFetch, len(communities))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, c := range communities {
		g.Go(func() error {
			results[i] = s.fetchCommunity(ctx, c, minDate, maxDate)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *EventSyncService) fetchCommunity(ctx context.Context, c models.Community, minDate, maxDate time.Time) communityFetch {
	out := communityFetch{community: c, events: []models.CommunityEvent{}}
	feeds, err := s.feeds(c)
	if err != nil {
		s.logger.Warn("community feeds unavailable", "community_id", c.ID, "community", c.Name, "error", err)
		out.errs = append(out.errs, err)
	}
	for _, feed := range feeds {
		if u, ok := feed.(UpcomingOnlyFeed); ok && u.UpcomingOnly() {
			out.upcomingOnly = true
		}
		schemas, err := feed.GetEventStream(ctx, minDate, maxDate)
		if err != nil {
			out.errs = append(out.errs, fmt.Errorf("%s: %w", feed.Name(), err))
			continue
		}
		for _, schema := range schemas {
			out.events = append(out.events, feed.ConvertToCommunityEvent(schema))
		}
	}
	return out
}

type communityPlan struct {
	actions []models.Action
	report  CommunityReport
}

func (s *EventSyncService) plan(ctx context.Context, f communityFetch, now, minDate, maxDate time.Time) (communityPlan, error) {
	c := f.community
	report := CommunityReport{CommunityID: c.ID, Name: c.Name, Fetched: len(f.events)}
	for _, err := range f.errs {
		report.FeedErrors = append(report.FeedErrors, err.Error())
	}

	stored, err := s.events.ListByCommunity(ctx, c.ID, minDate, maxDate)
	if err != nil {
		return communityPlan{report: report}, fmt.Errorf("load stored events for %s: %w", c.Name, err)
	}
	// A feed that failed this run must not look like an empty calendar.
	report.SuppressDelete = c.SuppressDelete() || len(f.errs) > 0
	actions := Consolidate(f.events, stored, report.SuppressDelete)
	if f.upcomingOnly {
		actions = keepStarted(actions, now)
	}
	report.Actions = CountActions(actions)

	s.logger.Info("community consolidated",
		"community_id", c.ID,
		"community", c.Name,
		"fetched", report.Fetched,
		"stored", len(stored),
		"added", report.Actions.Added,
		"updated", report.Actions.Updated,
		"deleted", report.Actions.Deleted,
		"suppress_delete", report.SuppressDelete,
		"upcoming_only", f.upcomingOnly,
	)
	return communityPlan{actions: actions, report: report}, nil
}

// keepStarted drops DELETE actions for events that started before now. An
// upcoming-only feed cannot report them, so their absence means nothing.
func keepStarted(actions []models.Action, now time.Time) []models.Action {
	out := make([]models.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == models.ActionDelete && a.Event.StartDate.Before(now) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// propagate drives each sink in order over the window the events were
// loaded with. A failing sink does not stop the ones after it.
func (s *EventSyncService) propagate(ctx context.Context, logger *slog.Logger, hub models.Hub, events []models.CommunityEvent, minDate, maxDate time.Time) []models.MirrorSummary {
	sinks, err := s.sinks(hub)
	if err != nil {
		logger.Warn("hub sinks unavailable", "error", err)
	}
	summaries := make([]models.MirrorSummary, 0, len(sinks))
	for _, sink := range sinks {
		summary, err := sink.ProcessEvents(ctx, events, minDate, maxDate)
		summary.Sink = sink.Name()
		if err != nil {
			summary.Error = err.Error()
			s.metrics.Inc("sink_failures_total")
			logger.Error("sink failed", "sink", sink.Name(), "critical", summary.Critical, "error", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries
}
