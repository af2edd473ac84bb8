package emotion

import "time"

// Signal is the boundary type exchanged with the fusion service: one
// four-class observation from one modality. Timestamps are timezone-aware
// (UTC+8 in this deployment) and serialized as ISO 8601 with offset on
// the wire.
type Signal struct {
	UserID     string
	Timestamp  time.Time
	Modality   Modality
	Label      Label
	Confidence float64
}
