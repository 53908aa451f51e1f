package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"calsync/src/lib"
	"calsync/src/models"
)

var (
	syncNow    = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	syncWindow = lib.Window{Past: 30 * 24 * time.Hour, Future: 60 * 24 * time.Hour}
	errFeed    = errors.New("feed down")
)

type fakeHubRepo struct {
	hub         models.Hub
	communities []models.Community
}

func (f *fakeHubRepo) GetHub(_ context.Context, hubID string) (models.Hub, error) {
	if hubID != f.hub.ID {
		return models.Hub{}, errors.New("hub not found")
	}
	return f.hub, nil
}

func (f *fakeHubRepo) GetCommunity(_ context.Context, communityID string) (models.Community, error) {
	for _, c := range f.communities {
		if c.ID == communityID {
			return c, nil
		}
	}
	return models.Community{}, errors.New("community not found")
}

func (f *fakeHubRepo) ListCommunities(context.Context, string) ([]models.Community, error) {
	return f.communities, nil
}

// fakeEventStore keeps rows by internal id and upserts on
// (community_id, external_id) like the real table.
type fakeEventStore struct {
	mu          sync.Mutex
	rows        map[string]models.CommunityEvent
	nextID      int
	applied     int
	applyErr    error
	listed      map[string]int
	beforeApply func()
}

func newFakeEventStore(rows ...models.CommunityEvent) *fakeEventStore {
	s := &fakeEventStore{rows: make(map[string]models.CommunityEvent), listed: make(map[string]int)}
	for _, r := range rows {
		s.rows[r.ID] = r
	}
	return s
}

func (s *fakeEventStore) ListByCommunity(_ context.Context, communityID string, minDate, maxDate time.Time) ([]models.CommunityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed[communityID]++
	return s.list(func(e models.CommunityEvent) bool { return e.CommunityID == communityID }, minDate, maxDate), nil
}

func (s *fakeEventStore) ListByHub(_ context.Context, _ string, minDate, maxDate time.Time) ([]models.CommunityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(func(models.CommunityEvent) bool { return true }, minDate, maxDate), nil
}

func (s *fakeEventStore) list(keep func(models.CommunityEvent) bool, minDate, maxDate time.Time) []models.CommunityEvent {
	out := make([]models.CommunityEvent, 0)
	for _, e := range s.rows {
		if keep(e) && lib.Overlaps(e.StartDate, e.EndDate, minDate, maxDate) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *fakeEventStore) ApplyActions(_ context.Context, deleteIDs []string, save []models.CommunityEvent) ([]models.CommunityEvent, error) {
	if s.beforeApply != nil {
		s.beforeApply()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	s.applied++
	for _, id := range deleteIDs {
		delete(s.rows, id)
	}
	saved := make([]models.CommunityEvent, 0, len(save))
	for _, e := range save {
		for id, existing := range s.rows {
			if existing.CommunityID == e.CommunityID && existing.ExternalID == e.ExternalID {
				e.ID = id
			}
		}
		if e.ID == "" {
			s.nextID++
			e.ID = fmt.Sprintf("ev-%03d", s.nextID)
		}
		s.rows[e.ID] = e
		saved = append(saved, e)
	}
	return saved, nil
}

func (s *fakeEventStore) listCalls(communityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listed[communityID]
}

func (s *fakeEventStore) byExternalID(externalID string) (models.CommunityEvent, bool) {
	for _, e := range s.rows {
		if e.ExternalID == externalID {
			return e, true
		}
	}
	return models.CommunityEvent{}, false
}

type fakeFeed struct {
	community models.Community
	schemas   []models.EventSchema
	err       error
}

func (f fakeFeed) Name() string { return "fake" }

func (f fakeFeed) GetEventStream(context.Context, time.Time, time.Time) ([]models.EventSchema, error) {
	if f.err != nil {
		return []models.EventSchema{}, f.err
	}
	return f.schemas, nil
}

func (f fakeFeed) ConvertToCommunityEvent(s models.EventSchema) models.CommunityEvent {
	return models.NewCommunityEvent(s, f.community.ID)
}

type fakeSink struct {
	name     string
	err      error
	received []models.CommunityEvent
	minDate  time.Time
	maxDate  time.Time
	calls    int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) ProcessEvents(_ context.Context, events []models.CommunityEvent, minDate, maxDate time.Time) (models.MirrorSummary, error) {
	f.calls++
	f.received = events
	f.minDate, f.maxDate = minDate, maxDate
	return models.MirrorSummary{Created: []string{"x"}}, f.err
}

// upcomingFeed reports only events that have not started, like Meetup.
type upcomingFeed struct {
	fakeFeed
}

func (upcomingFeed) UpcomingOnly() bool { return true }

func schema(externalID, name string, offset time.Duration) models.EventSchema {
	start := syncNow.Add(24*time.Hour + offset)
	return models.EventSchema{ExternalID: externalID, Name: name, StartDate: start, EndDate: start.Add(time.Hour)}
}

func stored(id, communityID string, s models.EventSchema) models.CommunityEvent {
	e := models.NewCommunityEvent(s, communityID)
	e.ID = id
	return e
}

type syncFixture struct {
	hubs   *fakeHubRepo
	store  *fakeEventStore
	feeds  map[string][]EventFeed
	sinks  []EventSink
	svc    *EventSyncService
	counts *lib.Metrics
}

func newSyncFixture(communities []models.Community, store *fakeEventStore, feeds map[string][]EventFeed, sinks ...EventSink) *syncFixture {
	f := &syncFixture{
		hubs:   &fakeHubRepo{hub: models.Hub{ID: "hub-1", Name: "Triangle"}, communities: communities},
		store:  store,
		feeds:  feeds,
		sinks:  sinks,
		counts: lib.NewMetrics(),
	}
	feedBuilder := func(c models.Community) ([]EventFeed, error) {
		return f.feeds[c.ID], nil
	}
	sinkBuilder := func(models.Hub) ([]EventSink, error) {
		return f.sinks, nil
	}
	f.svc = NewEventSyncService(f.hubs, f.store, feedBuilder, sinkBuilder, SyncOptions{Window: syncWindow, FeedConcurrency: 2}, nil, f.counts)
	f.svc.now = func() time.Time { return syncNow }
	return f
}

func TestSyncPersistsAndPropagates(t *testing.T) {
	go1 := models.Community{ID: "c-go", Name: "Go"}
	rust := models.Community{ID: "c-rust", Name: "Rust"}
	store := newFakeEventStore(
		stored("ev-keep", go1.ID, schema("g1", "Old name", 0)),
		stored("ev-gone", go1.ID, schema("g2", "Cancelled", time.Hour)),
	)
	feeds := map[string][]EventFeed{
		go1.ID:  {fakeFeed{community: go1, schemas: []models.EventSchema{schema("g1", "New name", 0)}}},
		rust.ID: {fakeFeed{community: rust, schemas: []models.EventSchema{schema("r1", "Rust night", 2*time.Hour)}}},
	}
	gcal := &fakeSink{name: "gcal"}
	fx := newSyncFixture([]models.Community{go1, rust}, store, feeds, gcal)

	report, err := fx.svc.Sync(context.Background(), "hub-1")
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if store.applied != 1 {
		t.Fatalf("ApplyActions called %d times, want 1", store.applied)
	}
	kept, ok := store.byExternalID("g1")
	if !ok || kept.ID != "ev-keep" || kept.Name != "New name" {
		t.Fatalf("updated event = %+v, %v", kept, ok)
	}
	if _, ok := store.byExternalID("g2"); ok {
		t.Fatalf("missing feed event was not deleted")
	}
	if _, ok := store.byExternalID("r1"); !ok {
		t.Fatalf("new feed event was not added")
	}

	if len(report.Communities) != 2 {
		t.Fatalf("report communities = %+v", report.Communities)
	}
	if got := report.Communities[0].Actions; got != (ActionCounts{Updated: 1, Deleted: 1}) {
		t.Fatalf("go actions = %+v", got)
	}
	if got := report.Communities[1].Actions; got != (ActionCounts{Added: 1}) {
		t.Fatalf("rust actions = %+v", got)
	}
	if gcal.calls != 1 || len(gcal.received) != 2 {
		t.Fatalf("sink received %d events in %d calls, want 2 in 1", len(gcal.received), gcal.calls)
	}
	for _, e := range gcal.received {
		if e.ID == "" {
			t.Fatalf("sink received unsaved event %+v", e)
		}
	}
	if len(report.Sinks) != 1 || report.Sinks[0].Sink != "gcal" {
		t.Fatalf("report sinks = %+v", report.Sinks)
	}
}

func TestSyncFailedFeedSuppressesDelete(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Go"}
	store := newFakeEventStore(stored("ev-1", c.ID, schema("g1", "Go night", 0)))
	feeds := map[string][]EventFeed{c.ID: {fakeFeed{community: c, err: errFeed}}}
	fx := newSyncFixture([]models.Community{c}, store, feeds)

	report, err := fx.svc.Sync(context.Background(), "hub-1")
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if _, ok := store.byExternalID("g1"); !ok {
		t.Fatalf("stored event deleted after feed failure")
	}
	cr := report.Communities[0]
	if !cr.SuppressDelete || len(cr.FeedErrors) != 1 || cr.Actions.Deleted != 0 {
		t.Fatalf("community report = %+v", cr)
	}
}

func TestSyncNoDeleteAndIgnore(t *testing.T) {
	keep := models.Community{ID: "c-keep", Name: "Keep", SyncBehaviour: models.SyncNoDelete}
	ignored := models.Community{ID: "c-ignored", Name: "Ignored", SyncBehaviour: models.SyncIgnore}
	store := newFakeEventStore(
		stored("ev-1", keep.ID, schema("k1", "Kept", 0)),
		stored("ev-2", ignored.ID, schema("i1", "Untouched", 0)),
	)
	feeds := map[string][]EventFeed{
		keep.ID:    {fakeFeed{community: keep}},
		ignored.ID: {fakeFeed{community: ignored, schemas: []models.EventSchema{schema("i2", "Never read", 0)}}},
	}
	fx := newSyncFixture([]models.Community{keep, ignored}, store, feeds)

	report, err := fx.svc.Sync(context.Background(), "hub-1")
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if _, ok := store.byExternalID("k1"); !ok {
		t.Fatalf("NoDelete community lost its event")
	}
	if _, ok := store.byExternalID("i2"); ok {
		t.Fatalf("ignored community feed was read")
	}
	if _, ok := store.byExternalID("i1"); !ok {
		t.Fatalf("ignored community event was deleted")
	}
	var skipped bool
	for _, cr := range report.Communities {
		if cr.CommunityID == ignored.ID {
			skipped = cr.Skipped
		}
	}
	if !skipped {
		t.Fatalf("ignored community not reported as skipped: %+v", report.Communities)
	}
}

func TestSyncSinkFailureDoesNotStopLaterSinks(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Go"}
	feeds := map[string][]EventFeed{c.ID: {fakeFeed{community: c, schemas: []models.EventSchema{schema("g1", "Go", 0)}}}}
	broken := &fakeSink{name: "gcal", err: errors.New("calendar unavailable")}
	cms := &fakeSink{name: "cms"}
	fx := newSyncFixture([]models.Community{c}, newFakeEventStore(), feeds, broken, cms)

	report, err := fx.svc.Sync(context.Background(), "hub-1")
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if cms.calls != 1 {
		t.Fatalf("second sink calls = %d, want 1", cms.calls)
	}
	if report.Sinks[0].Error == "" || report.Sinks[1].Error != "" {
		t.Fatalf("sink summaries = %+v", report.Sinks)
	}
	if fx.counts.Snapshot()["sink_failures_total"] != 1 {
		t.Fatalf("sink_failures_total = %d, want 1", fx.counts.Snapshot()["sink_failures_total"])
	}
}

func TestSyncApplyFailureSkipsSinks(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Go"}
	store := newFakeEventStore()
	store.applyErr = errors.New("tx aborted")
	feeds := map[string][]EventFeed{c.ID: {fakeFeed{community: c, schemas: []models.EventSchema{schema("g1", "Go", 0)}}}}
	sink := &fakeSink{name: "gcal"}
	fx := newSyncFixture([]models.Community{c}, store, feeds, sink)

	report, err := fx.svc.Sync(context.Background(), "hub-1")
	if !errors.Is(err, store.applyErr) {
		t.Fatalf("Sync error = %v, want %v", err, store.applyErr)
	}
	if sink.calls != 0 {
		t.Fatalf("sink called after failed persist")
	}
	if len(report.Errors) != 1 {
		t.Fatalf("report errors = %v", report.Errors)
	}
}

func TestSyncUnknownHub(t *testing.T) {
	fx := newSyncFixture(nil, newFakeEventStore(), nil)
	if _, err := fx.svc.Sync(context.Background(), "nope"); err == nil {
		t.Fatalf("Sync(unknown hub) returned nil error")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Go"}
	feeds := map[string][]EventFeed{c.ID: {fakeFeed{community: c, schemas: []models.EventSchema{
		schema("g1", "One", 0),
		schema("g2", "Two", time.Hour),
	}}}}
	fx := newSyncFixture([]models.Community{c}, newFakeEventStore(), feeds)
	ctx := context.Background()

	if _, err := fx.svc.Sync(ctx, "hub-1"); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	report, err := fx.svc.Sync(ctx, "hub-1")
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if got := report.Communities[0].Actions; got != (ActionCounts{}) {
		t.Fatalf("second pass actions = %+v, want none", got)
	}
}

func TestSyncCommunity(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Go"}
	other := models.Community{ID: "c-2", Name: "Other"}
	store := newFakeEventStore(stored("ev-other", other.ID, schema("o1", "Other", 0)))
	feeds := map[string][]EventFeed{
		c.ID:     {fakeFeed{community: c, schemas: []models.EventSchema{schema("g1", "Go", 0)}}},
		other.ID: {fakeFeed{community: other}},
	}
	sink := &fakeSink{name: "gcal"}
	fx := newSyncFixture([]models.Community{c, other}, store, feeds, sink)

	report, err := fx.svc.SyncCommunity(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("SyncCommunity returned error: %v", err)
	}
	if report.Actions != (ActionCounts{Added: 1}) {
		t.Fatalf("actions = %+v", report.Actions)
	}
	if _, ok := store.byExternalID("o1"); !ok {
		t.Fatalf("other community touched")
	}
	if sink.calls != 0 {
		t.Fatalf("SyncCommunity drove a sink")
	}
	if _, err := fx.svc.SyncCommunity(context.Background(), "missing"); err == nil {
		t.Fatalf("SyncCommunity(missing) returned nil error")
	}
}

func TestSyncKeepsEventRunningAtWindowStart(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Go"}
	minDate, maxDate := syncWindow.Bounds(syncNow)
	long := models.EventSchema{ExternalID: "long", Name: "Residency", StartDate: minDate.Add(-10 * 24 * time.Hour), EndDate: syncNow.Add(5 * 24 * time.Hour)}
	store := newFakeEventStore(stored("ev-long", c.ID, long))
	feeds := map[string][]EventFeed{c.ID: {fakeFeed{community: c, schemas: []models.EventSchema{long}}}}
	gcal := &fakeSink{name: "gcal"}
	fx := newSyncFixture([]models.Community{c}, store, feeds, gcal)

	report, err := fx.svc.Sync(context.Background(), "hub-1")
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if got := report.Communities[0].Actions; got != (ActionCounts{}) {
		t.Fatalf("actions = %+v, want none for a stored running event", got)
	}
	if len(gcal.received) != 1 || gcal.received[0].ID != "ev-long" {
		t.Fatalf("sink received %+v, want the running event", gcal.received)
	}
	if !gcal.minDate.Equal(minDate) || !gcal.maxDate.Equal(maxDate) {
		t.Fatalf("sink window = [%v, %v], want [%v, %v]", gcal.minDate, gcal.maxDate, minDate, maxDate)
	}
}

func TestSyncUpcomingOnlyFeedKeepsStartedEvents(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Meetup group"}
	past := schema("m-past", "Last week", -8*24*time.Hour)
	store := newFakeEventStore(
		stored("ev-past", c.ID, past),
		stored("ev-future", c.ID, schema("m-future", "Cancelled upstream", 0)),
	)
	feeds := map[string][]EventFeed{c.ID: {upcomingFeed{fakeFeed{community: c}}}}
	fx := newSyncFixture([]models.Community{c}, store, feeds)

	report, err := fx.svc.Sync(context.Background(), "hub-1")
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if _, ok := store.byExternalID("m-past"); !ok {
		t.Fatalf("started event deleted because an upcoming-only feed omitted it")
	}
	if _, ok := store.byExternalID("m-future"); ok {
		t.Fatalf("upcoming event missing from the feed was kept")
	}
	if got := report.Communities[0].Actions; got != (ActionCounts{Deleted: 1}) {
		t.Fatalf("actions = %+v, want one delete", got)
	}
}

func TestSyncAndSyncCommunitySerializeOnCommunity(t *testing.T) {
	c := models.Community{ID: "c-1", Name: "Go"}
	store := newFakeEventStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.beforeApply = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	feeds := map[string][]EventFeed{c.ID: {fakeFeed{community: c, schemas: []models.EventSchema{schema("g1", "Go", 0)}}}}
	fx := newSyncFixture([]models.Community{c}, store, feeds)
	ctx := context.Background()

	done := make(chan error, 2)
	go func() {
		_, err := fx.svc.Sync(ctx, "hub-1")
		done <- err
	}()
	<-entered
	go func() {
		_, err := fx.svc.SyncCommunity(ctx, c.ID)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if n := store.listCalls(c.ID); n != 1 {
		t.Fatalf("community listed %d times while the hub run was applying, want 1", n)
	}
	close(release)
	for range 2 {
		if err := <-done; err != nil {
			t.Fatalf("sync returned error: %v", err)
		}
	}
	if n := store.listCalls(c.ID); n != 2 {
		t.Fatalf("community listed %d times, want 2", n)
	}
	if len(store.rows) != 1 {
		t.Fatalf("rows = %+v, want the single event", store.rows)
	}
}
