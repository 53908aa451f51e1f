package models

type ActionType string

const (
	ActionNone   ActionType = "NONE"
	ActionAdd    ActionType = "ADD"
	ActionUpdate ActionType = "UPDATE"
	ActionDelete ActionType = "DELETE"
)

// Action is one consolidation outcome. DELETE actions carry the stored event
// so the writer can address it by internal id.
type Action struct {
	Type  ActionType     `json:"action"`
	Event CommunityEvent `json:"event"`
}
