package models

// HubEventXref records that a community event is mirrored as MirrorEventID
// in the named mirror of a hub. CommunityEventID is nil once the source
// event has been deleted.
type HubEventXref struct {
	ID                       string  `json:"id"`
	HubID                    string  `json:"hub_id"`
	Mirror                   string  `json:"mirror"`
	CommunityEventID         *string `json:"community_event_id,omitempty"`
	CommunityEventExternalID string  `json:"community_event_external_id"`
	MirrorEventID            string  `json:"mirror_event_id"`
}
