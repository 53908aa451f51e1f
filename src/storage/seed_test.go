package storage

import (
	"context"
	"strings"
	"testing"

	"calsync/src/models"
)

const sampleSeed = `
hubs:
  - name: Triangle
    google_calendar_id: hub@group.calendar.google.com
    mirror_behaviour: NoDelete
    communities:
      - name: Go Raleigh
        meetup_urlname: go-raleigh
        primary_color: "#00ADD8"
      - name: Durham Devs
        google_calendar_id: devs@group.calendar.google.com
        sync_behaviour: Ignore
`

type fakeSeedWriter struct {
	hubs        []models.Hub
	communities []models.Community
	links       []string
}

func (f *fakeSeedWriter) UpsertHub(_ context.Context, hub models.Hub) (string, error) {
	f.hubs = append(f.hubs, hub)
	return "hub-" + hub.Name, nil
}

func (f *fakeSeedWriter) UpsertCommunity(_ context.Context, c models.Community) (string, error) {
	f.communities = append(f.communities, c)
	return "c-" + c.Name, nil
}

func (f *fakeSeedWriter) LinkCommunity(_ context.Context, hubID, communityID string) error {
	f.links = append(f.links, hubID+"/"+communityID)
	return nil
}

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed([]byte(sampleSeed))
	if err != nil {
		t.Fatalf("ParseSeed returned error: %v", err)
	}
	if len(seed.Hubs) != 1 {
		t.Fatalf("hubs = %d, want 1", len(seed.Hubs))
	}
	hub := seed.Hubs[0]
	if hub.Name != "Triangle" || hub.MirrorBehaviour != models.SyncNoDelete {
		t.Fatalf("unexpected hub: %+v", hub.Hub)
	}
	if len(hub.Communities) != 2 {
		t.Fatalf("communities = %d, want 2", len(hub.Communities))
	}
	if hub.Communities[0].MeetupURLName != "go-raleigh" || hub.Communities[0].PrimaryColor != "#00ADD8" {
		t.Fatalf("unexpected first community: %+v", hub.Communities[0])
	}
	if hub.Communities[1].SyncBehaviour != models.SyncIgnore {
		t.Fatalf("second community behaviour = %q, want Ignore", hub.Communities[1].SyncBehaviour)
	}
}

func TestParseSeedRejectsUnnamedCommunity(t *testing.T) {
	_, err := ParseSeed([]byte("hubs:\n  - name: A\n    communities:\n      - meetup_urlname: x\n"))
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("ParseSeed error = %v, want name is required", err)
	}
}

func TestApplySeedLinksCommunities(t *testing.T) {
	seed, err := ParseSeed([]byte(sampleSeed))
	if err != nil {
		t.Fatalf("ParseSeed returned error: %v", err)
	}
	w := &fakeSeedWriter{}
	if err := ApplySeed(context.Background(), w, seed); err != nil {
		t.Fatalf("ApplySeed returned error: %v", err)
	}
	want := []string{"hub-Triangle/c-Go Raleigh", "hub-Triangle/c-Durham Devs"}
	if len(w.links) != len(want) {
		t.Fatalf("links = %v, want %v", w.links, want)
	}
	for i := range want {
		if w.links[i] != want[i] {
			t.Fatalf("links[%d] = %q, want %q", i, w.links[i], want[i])
		}
	}
}
