package nostrcal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"calsync/src/lib"
)

const (
	// KindTimeCalendarEvent is the addressable NIP-52 time-based calendar event.
	KindTimeCalendarEvent = 31923
	KindDeletion          = 5
)

// CalendarEvent is the decoded form of a kind 31923 event. D is its address.
type CalendarEvent struct {
	D           string
	Title       string
	Description string
	Location    string
	Link        string
	Start       time.Time
	End         time.Time
}

// Client publishes calendar events signed with one key to one relay.
type Client struct {
	relayURL string
	privKey  string
	pubKey   string

	mu    sync.Mutex
	relay *nostr.Relay
}

func NewClient(relayURL, privKey string) (*Client, error) {
	if strings.TrimSpace(relayURL) == "" {
		return nil, fmt.Errorf("relay url is required")
	}
	pubKey, err := nostr.GetPublicKey(privKey)
	if err != nil {
		return nil, fmt.Errorf("derive pubkey: %w", err)
	}
	return &Client{relayURL: relayURL, privKey: privKey, pubKey: pubKey}, nil
}

func (c *Client) PubKey() string {
	return c.pubKey
}

func (c *Client) connection(ctx context.Context) (*nostr.Relay, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay != nil && c.relay.IsConnected() {
		return c.relay, nil
	}
	relay, err := nostr.RelayConnect(ctx, c.relayURL)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.relayURL, err)
	}
	c.relay = relay
	return relay, nil
}

// Close drops the relay connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay == nil {
		return nil
	}
	err := c.relay.Close()
	c.relay = nil
	return err
}

// List returns our calendar events overlapping [minDate, maxDate), newest
// version per address.
func (c *Client) List(ctx context.Context, minDate, maxDate time.Time) ([]CalendarEvent, error) {
	relay, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	events, err := relay.QuerySync(ctx, nostr.Filter{
		Kinds:   []int{KindTimeCalendarEvent},
		Authors: []string{c.pubKey},
		Limit:   5000,
	})
	if err != nil {
		return nil, fmt.Errorf("query calendar events: %w", err)
	}

	latest := make(map[string]*nostr.Event, len(events))
	order := make([]string, 0, len(events))
	for _, ev := range events {
		d := tagValue(ev.Tags, "d")
		prev, seen := latest[d]
		if !seen {
			order = append(order, d)
		}
		if !seen || ev.CreatedAt > prev.CreatedAt {
			latest[d] = ev
		}
	}

	out := make([]CalendarEvent, 0, len(latest))
	for _, d := range order {
		decoded, ok := decode(latest[d])
		if !ok {
			continue
		}
		if !lib.Overlaps(decoded.Start, decoded.End, minDate, maxDate) {
			continue
		}
		out = append(out, decoded)
	}
	return out, nil
}

// Publish signs and sends a calendar event. Re-publishing an address replaces it.
func (c *Client) Publish(ctx context.Context, event CalendarEvent) error {
	tags := nostr.Tags{
		nostr.Tag{"d", event.D},
		nostr.Tag{"title", event.Title},
		nostr.Tag{"start", strconv.FormatInt(event.Start.Unix(), 10)},
		nostr.Tag{"end", strconv.FormatInt(event.End.Unix(), 10)},
		nostr.Tag{"start_tzid", "UTC"},
	}
	if event.Location != "" {
		tags = append(tags, nostr.Tag{"location", event.Location})
	}
	if event.Link != "" {
		tags = append(tags, nostr.Tag{"r", event.Link})
	}
	return c.sign(ctx, KindTimeCalendarEvent, tags, event.Description)
}

// Delete requests deletion of the calendar event at address d.
func (c *Client) Delete(ctx context.Context, d string) error {
	address := fmt.Sprintf("%d:%s:%s", KindTimeCalendarEvent, c.pubKey, d)
	return c.sign(ctx, KindDeletion, nostr.Tags{nostr.Tag{"a", address}}, "")
}

func (c *Client) sign(ctx context.Context, kind int, tags nostr.Tags, content string) error {
	ev := nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      tags,
		Content:   content,
	}
	if err := ev.Sign(c.privKey); err != nil {
		return fmt.Errorf("sign kind %d event: %w", kind, err)
	}
	relay, err := c.connection(ctx)
	if err != nil {
		return err
	}
	if err := relay.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish kind %d event: %w", kind, err)
	}
	return nil
}

func decode(ev *nostr.Event) (CalendarEvent, bool) {
	start, err := strconv.ParseInt(tagValue(ev.Tags, "start"), 10, 64)
	if err != nil {
		return CalendarEvent{}, false
	}
	end := start
	if raw := tagValue(ev.Tags, "end"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			end = parsed
		}
	}
	return CalendarEvent{
		D:           tagValue(ev.Tags, "d"),
		Title:       tagValue(ev.Tags, "title"),
		Description: ev.Content,
		Location:    tagValue(ev.Tags, "location"),
		Link:        tagValue(ev.Tags, "r"),
		Start:       time.Unix(start, 0).UTC(),
		End:         time.Unix(end, 0).UTC(),
	}, true
}

func tagValue(tags nostr.Tags, name string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}
