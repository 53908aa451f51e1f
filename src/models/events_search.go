package models

import "time"

// EventsSearch filters canonical events. HubID and CommunityID are exclusive.
type EventsSearch struct {
	HubID       string
	CommunityID string
	MinDate     *time.Time
	MaxDate     *time.Time
}
