package feeds

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

// CalendarLister is the read side of *gcal.Client.
type CalendarLister interface {
	ListEvents(ctx context.Context, minDate, maxDate time.Time) ([]*calendar.Event, error)
}

type CalendarOpener func(ctx context.Context, calendarID string) (CalendarLister, error)

func GCalOpener(factory *gcal.Factory) CalendarOpener {
	return func(ctx context.Context, calendarID string) (CalendarLister, error) {
		client, err := factory.Open(ctx, calendarID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// GoogleCalendarFeed reads a community's own Google calendar. Recurring
// events arrive expanded, one external id per instance.
type GoogleCalendarFeed struct {
	base
	open CalendarOpener
}

func NewGoogleCalendarFeed(c models.Community, open CalendarOpener, logger *slog.Logger, metrics *lib.Metrics) (*GoogleCalendarFeed, error) {
	if c.GoogleCalendarID == "" {
		return nil, fmt.Errorf("%w: no google calendar for community %s", ErrFeedNotConfigured, c.Name)
	}
	if open == nil {
		return nil, fmt.Errorf("%w: google credentials missing for community %s", ErrFeedNotConfigured, c.Name)
	}
	return &GoogleCalendarFeed{base: newBase("gcal", c, logger, metrics), open: open}, nil
}

func (f *GoogleCalendarFeed) GetEventStream(ctx context.Context, minDate, maxDate time.Time) ([]models.EventSchema, error) {
	client, err := f.open(ctx, f.community.GoogleCalendarID)
	if err != nil {
		return []models.EventSchema{}, f.fail(err)
	}
	items, err := client.ListEvents(ctx, minDate, maxDate)
	if err != nil {
		return []models.EventSchema{}, f.fail(err)
	}

	out := make([]models.EventSchema, 0, len(items))
	for _, item := range items {
		if item.Status == "cancelled" {
			continue
		}
		schema, err := FromGoogleEvent(item)
		if err != nil {
			f.logger.Warn("skip calendar event", "event_id", item.Id, "error", err)
			continue
		}
		out = append(out, schema)
	}
	return out, nil
}

func FromGoogleEvent(item *calendar.Event) (models.EventSchema, error) {
	start, end, err := gcal.EventTimes(item)
	if err != nil {
		return models.EventSchema{}, err
	}
	return Normalize(models.EventSchema{
		ExternalID:          item.Id,
		ExternalRecurringID: item.RecurringEventId,
		Name:                item.Summary,
		Location:            item.Location,
		Description:         item.Description,
		Link:                linkOr(item.Description, item.HtmlLink),
		StartDate:           start,
		EndDate:             end,
	}), nil
}
