package integration

import "time"

// Snapshot is the latest known state for one integration, versioned by a
// per-integration sequence number. A snapshot with Err set still carries the
// previous successful Payload and Rendered so widgets keep showing
// stale-but-valid data while surfacing the failure.
type Snapshot struct {
	// Integration is the name of the integration this snapshot belongs to.
	Integration string `json:"integration"`

	// Seq is the per-integration sequence number. It is strictly increasing
	// and never reused; failed fetches consume a sequence number too, so
	// viewers can detect gaps.
	Seq uint64 `json:"seq"`

	// Payload is the opaque structured data returned by the source.
	Payload map[string]any `json:"payload,omitempty"`

	// Rendered is the pre-rendered widget HTML. Empty until the first
	// successful fetch.
	Rendered string `json:"rendered,omitempty"`

	// FetchedAt is when the acquisition attempt finished.
	FetchedAt time.Time `json:"fetchedAt"`

	// Err is the failure description from the most recent attempt.
	// Empty when the attempt succeeded.
	Err string `json:"error,omitempty"`
}

// OK reports whether the snapshot's most recent acquisition succeeded.
func (s Snapshot) OK() bool {
	return s.Err == ""
}
