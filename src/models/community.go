package models

// SyncBehaviour is the delete policy attached to a community feed or a hub mirror.
type SyncBehaviour string

const (
	SyncStandard SyncBehaviour = "Standard"
	SyncNoDelete SyncBehaviour = "NoDelete"
	SyncIgnore   SyncBehaviour = "Ignore"
)

// ParseSyncBehaviour maps stored or configured values, defaulting to Standard.
func ParseSyncBehaviour(raw string) SyncBehaviour {
	switch SyncBehaviour(raw) {
	case SyncNoDelete:
		return SyncNoDelete
	case SyncIgnore:
		return SyncIgnore
	default:
		return SyncStandard
	}
}

// Community owns one or more upstream feeds.
type Community struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	GoogleCalendarID string        `json:"google_calendar_id,omitempty" yaml:"google_calendar_id"`
	MeetupURLName    string        `json:"meetup_urlname,omitempty" yaml:"meetup_urlname"`
	ICSURL           string        `json:"ics_url,omitempty" yaml:"ics_url"`
	PrimaryColor     string        `json:"primary_color,omitempty" yaml:"primary_color"`
	SyncBehaviour    SyncBehaviour `json:"sync_behaviour" yaml:"sync_behaviour"`
}

// SuppressDelete is true when events missing from the feed must be kept.
func (c Community) SuppressDelete() bool {
	return c.SyncBehaviour == SyncNoDelete
}
