package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calsync/src/models"
)

// ErrNotConfigured is returned when no service account is configured.
var ErrNotConfigured = errors.New("google service account not configured")

// ServiceAccount holds the credentials shared by every calendar.
type ServiceAccount struct {
	ClientEmail string
	PrivateKey  string
}

// Factory opens calendar clients authenticated as the service account.
type Factory struct {
	account ServiceAccount
	cache   *CredentialCache
	options []option.ClientOption
}

// NewFactory builds a factory. Extra client options are appended to every
// service, which tests use to point at a local endpoint.
func NewFactory(account ServiceAccount, cache *CredentialCache, opts ...option.ClientOption) *Factory {
	return &Factory{account: account, cache: cache, options: opts}
}

func (f *Factory) Open(ctx context.Context, calendarID string) (*Client, error) {
	if strings.TrimSpace(calendarID) == "" {
		return nil, fmt.Errorf("calendar id is required")
	}

	opts := make([]option.ClientOption, 0, len(f.options)+1)
	if f.account.ClientEmail != "" {
		source, err := f.cache.Get(ctx, calendarID, f.loadTokenSource)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithTokenSource(source))
	} else if len(f.options) == 0 {
		return nil, ErrNotConfigured
	}
	opts = append(opts, f.options...)

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Client{svc: svc, calendarID: calendarID}, nil
}

func (f *Factory) loadTokenSource(_ context.Context) (oauth2.TokenSource, error) {
	conf := &jwt.Config{
		Email:      f.account.ClientEmail,
		PrivateKey: []byte(f.account.PrivateKey),
		Scopes:     []string{calendar.CalendarScope},
		TokenURL:   google.JWTTokenURL,
	}
	// The source outlives the call that loaded it.
	return conf.TokenSource(context.Background()), nil
}

// Client is bound to one calendar id.
type Client struct {
	svc        *calendar.Service
	calendarID string
}

func (c *Client) CalendarID() string {
	return c.calendarID
}

// ListEvents returns single (recurrence-expanded) events in the window.
func (c *Client) ListEvents(ctx context.Context, minDate, maxDate time.Time) ([]*calendar.Event, error) {
	events := make([]*calendar.Event, 0)
	call := c.svc.Events.List(c.calendarID).
		SingleEvents(true).
		ShowDeleted(false).
		TimeMin(minDate.UTC().Format(time.RFC3339)).
		TimeMax(maxDate.UTC().Format(time.RFC3339)).
		MaxResults(250)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		events = append(events, page.Items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", c.calendarID, err)
	}
	return events, nil
}

func (c *Client) CreateEvent(ctx context.Context, event models.CommunityEvent) (*calendar.Event, error) {
	created, err := c.svc.Events.Insert(c.calendarID, toCalendarEvent(event)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event into %s: %w", c.calendarID, err)
	}
	return created, nil
}

func (c *Client) PatchEvent(ctx context.Context, eventID string, event models.CommunityEvent) error {
	if _, err := c.svc.Events.Patch(c.calendarID, eventID, toCalendarEvent(event)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("patch event %s in %s: %w", eventID, c.calendarID, err)
	}
	return nil
}

// DeleteEvent treats an already missing event as deleted.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return nil
	}
	return fmt.Errorf("delete event %s from %s: %w", eventID, c.calendarID, err)
}

func toCalendarEvent(event models.CommunityEvent) *calendar.Event {
	return &calendar.Event{
		Summary:     event.Name,
		Location:    event.Location,
		Description: event.Description,
		Start:       &calendar.EventDateTime{DateTime: event.StartDate.UTC().Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: event.EndDate.UTC().Format(time.RFC3339)},
		// Patch must be able to clear fields.
		ForceSendFields: []string{"Summary", "Location", "Description"},
	}
}

// EventTimes resolves start and end of a listed event. All-day events start
// at midnight UTC of their date.
func EventTimes(event *calendar.Event) (time.Time, time.Time, error) {
	start, err := parseEventDateTime(event.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s start: %w", event.Id, err)
	}
	end, err := parseEventDateTime(event.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event %s end: %w", event.Id, err)
	}
	return start, end, nil
}

func parseEventDateTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	if dt.Date != "" {
		return time.Parse("2006-01-02", dt.Date)
	}
	return time.Time{}, fmt.Errorf("missing date")
}
