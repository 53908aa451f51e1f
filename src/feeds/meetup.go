package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"calsync/src/clients/meetup"
	"calsync/src/lib"
	"calsync/src/models"
)

// MeetupEvents is the subset of *meetup.Client the feed uses.
type MeetupEvents interface {
	GetCommunityEvents(ctx context.Context, urlname string) ([]meetup.Event, error)
}

// MeetupFeed reads a group's upcoming events. The API has no date filter,
// so the window is applied here.
type MeetupFeed struct {
	base
	client MeetupEvents
}

func NewMeetupFeed(c models.Community, client MeetupEvents, logger *slog.Logger, metrics *lib.Metrics) (*MeetupFeed, error) {
	if c.MeetupURLName == "" {
		return nil, fmt.Errorf("%w: no meetup group for community %s", ErrFeedNotConfigured, c.Name)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: meetup credentials missing for community %s", ErrFeedNotConfigured, c.Name)
	}
	return &MeetupFeed{base: newBase("meetup", c, logger, metrics), client: client}, nil
}

func (f *MeetupFeed) GetEventStream(ctx context.Context, minDate, maxDate time.Time) ([]models.EventSchema, error) {
	events, err := f.client.GetCommunityEvents(ctx, f.community.MeetupURLName)
	if err != nil {
		return []models.EventSchema{}, f.fail(err)
	}

	out := make([]models.EventSchema, 0, len(events))
	for _, e := range events {
		schema, err := FromMeetupEvent(e)
		if err != nil {
			f.logger.Warn("skip meetup event", "event_id", e.ID, "error", err)
			continue
		}
		if !lib.Overlaps(schema.StartDate, schema.EndDate, minDate, maxDate) {
			continue
		}
		out = append(out, schema)
	}
	return out, nil
}

// UpcomingOnly reports that the API never returns events that have started,
// so their absence from the stream is not a deletion.
func (f *MeetupFeed) UpcomingOnly() bool {
	return true
}

// FromMeetupEvent converts one event node. A missing end time yields a
// zero-length event.
func FromMeetupEvent(e meetup.Event) (models.EventSchema, error) {
	start, err := meetup.ParseTime(e.DateTime)
	if err != nil {
		return models.EventSchema{}, err
	}
	end := start
	if e.EndTime != "" {
		if end, err = meetup.ParseTime(e.EndTime); err != nil {
			return models.EventSchema{}, err
		}
	}
	return Normalize(models.EventSchema{
		ExternalID:  e.ID,
		Name:        e.Title,
		Location:    e.VenueName(),
		Description: e.Description,
		Link:        e.EventURL,
		StartDate:   start,
		EndDate:     end,
	}), nil
}
