package models

import "time"

// EventSchema is the provider-neutral shape every feed adapter produces.
type EventSchema struct {
	ExternalID          string    `json:"external_id"`
	ExternalRecurringID string    `json:"external_recurring_id,omitempty"`
	Name                string    `json:"name"`
	Location            string    `json:"location,omitempty"`
	Description         string    `json:"description,omitempty"`
	Link                string    `json:"link,omitempty"`
	StartDate           time.Time `json:"start_date"`
	EndDate             time.Time `json:"end_date"`
}

// CommunityEvent is the canonical event row. ID is empty until the store
// assigns one; it is never reused.
type CommunityEvent struct {
	ID                  string    `json:"id,omitempty"`
	ExternalID          string    `json:"external_id"`
	ExternalRecurringID string    `json:"external_recurring_id,omitempty"`
	Name                string    `json:"name"`
	Location            string    `json:"location,omitempty"`
	Description         string    `json:"description,omitempty"`
	Link                string    `json:"link,omitempty"`
	StartDate           time.Time `json:"start_date"`
	EndDate             time.Time `json:"end_date"`
	CommunityID         string    `json:"community_id"`

	// Filled only by hub-scoped reads.
	CommunityName  string `json:"community_name,omitempty"`
	CommunityColor string `json:"community_color,omitempty"`
}

// Schema drops the store-owned fields.
func (e CommunityEvent) Schema() EventSchema {
	return EventSchema{
		ExternalID:          e.ExternalID,
		ExternalRecurringID: e.ExternalRecurringID,
		Name:                e.Name,
		Location:            e.Location,
		Description:         e.Description,
		Link:                e.Link,
		StartDate:           e.StartDate,
		EndDate:             e.EndDate,
	}
}

// NewCommunityEvent builds an unsaved canonical event owned by communityID.
func NewCommunityEvent(schema EventSchema, communityID string) CommunityEvent {
	return CommunityEvent{
		ExternalID:          schema.ExternalID,
		ExternalRecurringID: schema.ExternalRecurringID,
		Name:                schema.Name,
		Location:            schema.Location,
		Description:         schema.Description,
		Link:                schema.Link,
		StartDate:           schema.StartDate,
		EndDate:             schema.EndDate,
		CommunityID:         communityID,
	}
}

// SameSchedule reports whether two events agree on name, description,
// start, end and location. Link and recurrence id are not compared.
func SameSchedule(a, b EventSchema) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		a.StartDate.Equal(b.StartDate) &&
		a.EndDate.Equal(b.EndDate) &&
		a.Location == b.Location
}
