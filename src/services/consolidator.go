package services

import "calsync/src/models"

// Consolidate diffs freshly fetched feed events against the stored events of
// the same scope. Stored events absent from the feed become DELETE unless
// suppressDelete is set; matched events whose schedule changed become UPDATE
// carrying the stored id; unmatched feed events become ADD with no id.
//
// DELETE and UPDATE follow stored order, ADD follows feed order. A repeated
// external id in the feed keeps the last record at the position of the first.
func Consolidate(feed, stored []models.CommunityEvent, suppressDelete bool) []models.Action {
	feedByExternalID := make(map[string]models.CommunityEvent, len(feed))
	feedOrder := make([]string, 0, len(feed))
	for _, event := range feed {
		if _, seen := feedByExternalID[event.ExternalID]; !seen {
			feedOrder = append(feedOrder, event.ExternalID)
		}
		feedByExternalID[event.ExternalID] = event
	}

	actions := make([]models.Action, 0)
	for _, current := range stored {
		incoming, ok := feedByExternalID[current.ExternalID]
		if !ok {
			if !suppressDelete {
				actions = append(actions, models.Action{Type: models.ActionDelete, Event: current})
			}
			continue
		}
		delete(feedByExternalID, current.ExternalID)

		if models.SameSchedule(current.Schema(), incoming.Schema()) {
			continue
		}
		actions = append(actions, models.Action{Type: models.ActionUpdate, Event: mergeUpdate(current, incoming)})
	}

	for _, externalID := range feedOrder {
		incoming, ok := feedByExternalID[externalID]
		if !ok {
			continue
		}
		incoming.ID = ""
		actions = append(actions, models.Action{Type: models.ActionAdd, Event: incoming})
	}
	return actions
}

// mergeUpdate builds a new record from the stored identity and the feed values.
func mergeUpdate(current, incoming models.CommunityEvent) models.CommunityEvent {
	merged := models.NewCommunityEvent(incoming.Schema(), current.CommunityID)
	merged.ID = current.ID
	merged.CommunityName = current.CommunityName
	merged.CommunityColor = current.CommunityColor
	return merged
}

// EventsToSave returns the ADD and UPDATE events in action order.
func EventsToSave(actions []models.Action) []models.CommunityEvent {
	events := make([]models.CommunityEvent, 0, len(actions))
	for _, a := range actions {
		if a.Type == models.ActionAdd || a.Type == models.ActionUpdate {
			events = append(events, a.Event)
		}
	}
	return events
}

func EventsToUpdate(actions []models.Action) []models.CommunityEvent {
	events := make([]models.CommunityEvent, 0)
	for _, a := range actions {
		if a.Type == models.ActionUpdate {
			events = append(events, a.Event)
		}
	}
	return events
}

// EventsToDelete returns the external ids of the DELETE actions.
func EventsToDelete(actions []models.Action) []string {
	ids := make([]string, 0)
	for _, a := range actions {
		if a.Type == models.ActionDelete {
			ids = append(ids, a.Event.ExternalID)
		}
	}
	return ids
}

// internalIDsToDelete returns the store ids of the DELETE actions.
func internalIDsToDelete(actions []models.Action) []string {
	ids := make([]string, 0)
	for _, a := range actions {
		if a.Type == models.ActionDelete && a.Event.ID != "" {
			ids = append(ids, a.Event.ID)
		}
	}
	return ids
}

// ActionCounts tallies actions by type.
type ActionCounts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
}

func CountActions(actions []models.Action) ActionCounts {
	var c ActionCounts
	for _, a := range actions {
		switch a.Type {
		case models.ActionAdd:
			c.Added++
		case models.ActionUpdate:
			c.Updated++
		case models.ActionDelete:
			c.Deleted++
		}
	}
	return c
}
