package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"calsync/src/lib"
	"calsync/src/models"
)

const (
	maxICSBody           = 10 << 20
	maxOccurrencesPerUID = 1000
)

// ICSFeed reads a published iCalendar URL. Recurring series are expanded
// inside the window; every occurrence becomes an independent event whose
// external id is "<UID>/<RFC3339 start>" and whose recurring id is the UID.
type ICSFeed struct {
	base
	url     string
	client  *http.Client
	maxBody int64
}

func NewICSFeed(c models.Community, client *http.Client, logger *slog.Logger, metrics *lib.Metrics) (*ICSFeed, error) {
	if c.ICSURL == "" {
		return nil, fmt.Errorf("%w: no ics url for community %s", ErrFeedNotConfigured, c.Name)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ICSFeed{base: newBase("ics", c, logger, metrics), url: c.ICSURL, client: client, maxBody: maxICSBody}, nil
}

func (f *ICSFeed) GetEventStream(ctx context.Context, minDate, maxDate time.Time) ([]models.EventSchema, error) {
	body, err := f.fetch(ctx)
	if err != nil {
		return []models.EventSchema{}, f.fail(err)
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return []models.EventSchema{}, f.fail(fmt.Errorf("parse calendar: %w", err))
	}

	var (
		masters   []vevent
		overrides = make(map[string]map[int64]vevent)
	)
	for _, component := range cal.Events() {
		ev, err := parseVEvent(component)
		if err != nil {
			f.logger.Warn("skip ics event", "error", err)
			continue
		}
		if ev.recurrenceID != nil {
			if overrides[ev.uid] == nil {
				overrides[ev.uid] = make(map[int64]vevent)
			}
			overrides[ev.uid][ev.recurrenceID.Unix()] = ev
			continue
		}
		masters = append(masters, ev)
	}

	out := make([]models.EventSchema, 0, len(masters))
	for _, ev := range masters {
		if ev.rrule == "" {
			if ev.cancelled || !lib.Overlaps(ev.start, ev.end, minDate, maxDate) {
				continue
			}
			out = append(out, ev.schema(ev.uid, "", ev.start, ev.end))
			continue
		}
		occurrences, err := expand(ev, minDate, maxDate)
		if err != nil {
			f.logger.Warn("skip ics series", "uid", ev.uid, "rrule", ev.rrule, "error", err)
			continue
		}
		duration := ev.end.Sub(ev.start)
		for _, start := range occurrences {
			externalID := ev.uid + "/" + start.UTC().Format(time.RFC3339)
			instance, occStart, occEnd := ev, start, start.Add(duration)
			if o, ok := overrides[ev.uid][start.Unix()]; ok {
				instance, occStart, occEnd = o, o.start, o.end
			}
			if instance.cancelled || !lib.Overlaps(occStart, occEnd, minDate, maxDate) {
				continue
			}
			out = append(out, instance.schema(externalID, ev.uid, occStart, occEnd))
		}
	}
	return out, nil
}

func (f *ICSFeed) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get calendar: status %d", resp.StatusCode)
	}
	// A truncated calendar can still parse and would read as deletions.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("read calendar: body exceeds %d bytes", f.maxBody)
	}
	return body, nil
}

type vevent struct {
	uid          string
	summary      string
	description  string
	location     string
	url          string
	start        time.Time
	end          time.Time
	rrule        string
	exdates      []time.Time
	recurrenceID *time.Time
	cancelled    bool
}

func (v vevent) schema(externalID, recurringID string, start, end time.Time) models.EventSchema {
	return Normalize(models.EventSchema{
		ExternalID:          externalID,
		ExternalRecurringID: recurringID,
		Name:                v.summary,
		Location:            v.location,
		Description:         v.description,
		Link:                linkOr(v.description, v.url),
		StartDate:           start,
		EndDate:             end,
	})
}

func parseVEvent(ve *ical.VEvent) (vevent, error) {
	var out vevent
	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.uid = uid.Value

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("event %s start: %w", out.uid, err)
	}
	out.start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.end = end
	} else if isDateValue(ve.GetProperty(ical.ComponentPropertyDtStart)) {
		out.end = start.Add(24 * time.Hour)
	} else {
		out.end = start
	}

	out.summary = propValue(ve, ical.ComponentPropertySummary)
	out.description = propValue(ve, ical.ComponentPropertyDescription)
	out.location = propValue(ve, ical.ComponentPropertyLocation)
	out.url = propValue(ve, ical.ComponentPropertyUrl)
	out.rrule = propValue(ve, ical.ComponentPropertyRrule)
	out.cancelled = strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED")

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, raw := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(raw), tzid(p), start.Location()); err == nil {
				out.exdates = append(out.exdates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		t, err := parseICSTime(p.Value, tzid(p), start.Location())
		if err != nil {
			return out, fmt.Errorf("event %s recurrence id: %w", out.uid, err)
		}
		out.recurrenceID = &t
	}
	return out, nil
}

func expand(ev vevent, minDate, maxDate time.Time) ([]time.Time, error) {
	opts, err := rrule.StrToROption(ev.rrule)
	if err != nil {
		return nil, err
	}
	opts.Dtstart = ev.start
	rule, err := rrule.NewRRule(*opts)
	if err != nil {
		return nil, err
	}

	var set rrule.Set
	set.RRule(rule)
	for _, ex := range ev.exdates {
		set.ExDate(ex.In(ev.start.Location()))
	}
	// Occurrences that started before minDate may still be running.
	from := minDate.Add(-ev.end.Sub(ev.start)).In(ev.start.Location())
	occurrences := set.Between(from, maxDate.In(ev.start.Location()), true)
	if len(occurrences) > maxOccurrencesPerUID {
		occurrences = occurrences[:maxOccurrencesPerUID]
	}
	return occurrences, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func tzid(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if v := p.ICalParameters["TZID"]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	if p == nil {
		return false
	}
	if v := p.ICalParameters["VALUE"]; len(v) > 0 && strings.EqualFold(v[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseICSTime handles the UTC, floating and date-only forms used by EXDATE
// and RECURRENCE-ID.
func parseICSTime(v, tz string, fallback *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	loc := fallback
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
