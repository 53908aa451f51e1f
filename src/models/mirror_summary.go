package models

// MirrorSummary reports what one sink did in a run. Id lists hold mirror-side ids.
type MirrorSummary struct {
	Sink        string   `json:"sink"`
	Created     []string `json:"created,omitempty"`
	Bound       []string `json:"bound,omitempty"`
	Patched     []string `json:"patched,omitempty"`
	Deleted     []string `json:"deleted,omitempty"`
	HealedXrefs []string `json:"healed_xrefs,omitempty"`
	Failures    int      `json:"failures"`
	Critical    int      `json:"critical"`
	Error       string   `json:"error,omitempty"`
}
