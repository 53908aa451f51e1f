package models

// Hub aggregates communities and owns the shared mirrors.
type Hub struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	GoogleCalendarID string        `json:"google_calendar_id,omitempty" yaml:"google_calendar_id"`
	MirrorBehaviour  SyncBehaviour `json:"mirror_behaviour" yaml:"mirror_behaviour"`
}

// AllowsMirrorDelete reports whether unaccounted mirror objects may be removed.
func (h Hub) AllowsMirrorDelete() bool {
	return h.MirrorBehaviour != SyncNoDelete
}
