package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"calsync/src/lib"
	"calsync/src/models"
)

// ErrFeedNotConfigured is returned when a community lacks the identifier a
// feed variant needs, or the service it reads from is disabled.
var ErrFeedNotConfigured = errors.New("feed not configured")

// Source yields the events of one community from one provider.
type Source interface {
	Name() string
	GetEventStream(ctx context.Context, minDate, maxDate time.Time) ([]models.EventSchema, error)
	ConvertToCommunityEvent(schema models.EventSchema) models.CommunityEvent
}

// Deps carries the shared clients feeds are built from. A nil field disables
// the variants that need it.
type Deps struct {
	OpenCalendar CalendarOpener
	Meetup       MeetupEvents
	HTTPClient   *http.Client
	Logger       *slog.Logger
	Metrics      *lib.Metrics
}

// ForCommunity builds every feed the community is configured for. Variants
// that cannot be built are reported in the joined error; the rest are
// still returned.
func ForCommunity(c models.Community, deps Deps) ([]Source, error) {
	var (
		sources []Source
		errs    []error
	)
	if c.GoogleCalendarID != "" {
		feed, err := NewGoogleCalendarFeed(c, deps.OpenCalendar, deps.Logger, deps.Metrics)
		if err != nil {
			errs = append(errs, err)
		} else {
			sources = append(sources, feed)
		}
	}
	if c.MeetupURLName != "" {
		feed, err := NewMeetupFeed(c, deps.Meetup, deps.Logger, deps.Metrics)
		if err != nil {
			errs = append(errs, err)
		} else {
			sources = append(sources, feed)
		}
	}
	if c.ICSURL != "" {
		feed, err := NewICSFeed(c, deps.HTTPClient, deps.Logger, deps.Metrics)
		if err != nil {
			errs = append(errs, err)
		} else {
			sources = append(sources, feed)
		}
	}
	return sources, errors.Join(errs...)
}

type base struct {
	name      string
	community models.Community
	logger    *slog.Logger
	metrics   *lib.Metrics
}

func newBase(name string, community models.Community, logger *slog.Logger, metrics *lib.Metrics) base {
	if logger == nil {
		logger = lib.DiscardLogger()
	}
	return base{
		name:      name,
		community: community,
		logger:    logger.With("feed", name, "community_id", community.ID),
		metrics:   metrics,
	}
}

func (b base) Name() string {
	return b.name
}

func (b base) ConvertToCommunityEvent(schema models.EventSchema) models.CommunityEvent {
	return ToCommunityEvent(schema, b.community)
}

// fail records a remote failure. Callers return an empty slice with it.
func (b base) fail(err error) error {
	b.logger.Error("fetch feed events", "community", b.community.Name, "error", err)
	b.metrics.Inc("feed_fetch_errors_total")
	return fmt.Errorf("%s feed for %s: %w", b.name, b.community.Name, err)
}
