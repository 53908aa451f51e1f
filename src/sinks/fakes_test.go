package sinks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"calsync/src/models"
)

var errFake = errors.New("fake remote failure")

type fakeMirror struct {
	events  map[string]MirrorEvent
	order   []string
	nextID  int
	calls   []string
	failOn  map[string]bool
	listErr error
}

func newFakeMirror(events ...MirrorEvent) *fakeMirror {
	f := &fakeMirror{events: make(map[string]MirrorEvent), failOn: make(map[string]bool)}
	for _, e := range events {
		f.events[e.ID] = e
		f.order = append(f.order, e.ID)
	}
	return f
}

func (f *fakeMirror) ListEvents(_ context.Context, _, _ time.Time) ([]MirrorEvent, error) {
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]MirrorEvent, 0, len(f.events))
	for _, id := range f.order {
		if e, ok := f.events[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeMirror) CreateEvent(_ context.Context, event models.CommunityEvent) (string, error) {
	f.calls = append(f.calls, "create:"+event.ID)
	if f.failOn["create:"+event.ID] {
		return "", errFake
	}
	f.nextID++
	id := fmt.Sprintf("m-new-%d", f.nextID)
	f.events[id] = mirrorOf(id, event)
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeMirror) PatchEvent(_ context.Context, mirrorEventID string, event models.CommunityEvent) error {
	f.calls = append(f.calls, "patch:"+mirrorEventID)
	if f.failOn["patch:"+mirrorEventID] {
		return errFake
	}
	f.events[mirrorEventID] = mirrorOf(mirrorEventID, event)
	return nil
}

func (f *fakeMirror) DeleteEvent(_ context.Context, mirrorEventID string) error {
	f.calls = append(f.calls, "delete:"+mirrorEventID)
	if f.failOn["delete:"+mirrorEventID] {
		return errFake
	}
	delete(f.events, mirrorEventID)
	return nil
}

func (f *fakeMirror) count(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func mirrorOf(id string, event models.CommunityEvent) MirrorEvent {
	return MirrorEvent{
		ID:          id,
		Name:        event.Name,
		Description: event.Description,
		Location:    event.Location,
		StartDate:   event.StartDate,
		EndDate:     event.EndDate,
	}
}

type fakeXrefs struct {
	rows    map[string]models.HubEventXref
	nextID  int
	failAdd bool
}

func newFakeXrefs(rows ...models.HubEventXref) *fakeXrefs {
	f := &fakeXrefs{rows: make(map[string]models.HubEventXref)}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeXrefs) ListByHub(_ context.Context, hubID, mirror string, eventIDs []string) ([]models.HubEventXref, error) {
	wanted := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		wanted[id] = true
	}
	out := make([]models.HubEventXref, 0)
	for _, r := range f.rows {
		if r.HubID != hubID || r.Mirror != mirror {
			continue
		}
		if len(eventIDs) > 0 && (r.CommunityEventID == nil || !wanted[*r.CommunityEventID]) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeXrefs) Add(_ context.Context, xref models.HubEventXref) (models.HubEventXref, error) {
	if f.failAdd {
		return models.HubEventXref{}, errFake
	}
	f.nextID++
	xref.ID = fmt.Sprintf("x-%03d", f.nextID)
	f.rows[xref.ID] = xref
	return xref, nil
}

func (f *fakeXrefs) Delete(_ context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeXrefs) DeleteByMirrorEventID(_ context.Context, hubID, mirror, mirrorEventID string) error {
	for id, r := range f.rows {
		if r.HubID == hubID && r.Mirror == mirror && r.MirrorEventID == mirrorEventID {
			delete(f.rows, id)
		}
	}
	return nil
}

func (f *fakeXrefs) forEvent(eventID string) []models.HubEventXref {
	out := make([]models.HubEventXref, 0)
	for _, r := range f.rows {
		if r.CommunityEventID != nil && *r.CommunityEventID == eventID {
			out = append(out, r)
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
