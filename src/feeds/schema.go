package feeds

import (
	"regexp"
	"strings"
	"time"

	"calsync/src/models"
)

var (
	meetupLink = regexp.MustCompile(`https?://([a-zA-Z\d-]+\.)*meetup\.com(/\S*)?`)
	anyLink    = regexp.MustCompile(`(https?://)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b[-a-zA-Z0-9()@:%_+.~#?&/=]*`)
)

// ExtractLink returns the first meetup.com URL in description, else the
// first URL-looking token, else "".
func ExtractLink(description string) string {
	if description == "" {
		return ""
	}
	if m := meetupLink.FindString(description); m != "" {
		return m
	}
	return anyLink.FindString(description)
}

// Normalize trims strings and moves times to UTC at second precision so that
// values from different providers compare equal.
func Normalize(s models.EventSchema) models.EventSchema {
	s.ExternalID = strings.TrimSpace(s.ExternalID)
	s.ExternalRecurringID = strings.TrimSpace(s.ExternalRecurringID)
	s.Name = strings.TrimSpace(s.Name)
	s.Location = strings.TrimSpace(s.Location)
	s.Description = strings.TrimSpace(s.Description)
	s.Link = strings.TrimSpace(s.Link)
	s.StartDate = s.StartDate.UTC().Truncate(time.Second)
	s.EndDate = s.EndDate.UTC().Truncate(time.Second)
	return s
}

// ToCommunityEvent stamps a normalized schema with its owning community.
func ToCommunityEvent(s models.EventSchema, community models.Community) models.CommunityEvent {
	return models.NewCommunityEvent(Normalize(s), community.ID)
}

func linkOr(description, fallback string) string {
	if link := ExtractLink(description); link != "" {
		return link
	}
	return fallback
}
