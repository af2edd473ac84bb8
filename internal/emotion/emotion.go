package emotion

import "strings"

// Label is the four-class emotion contract shared with the downstream
// fusion service. No other label may leave this process in a ChunkResult
// or an aggregate.
type Label string

const (
	Angry Label = "Angry"
	Sad   Label = "Sad"
	Happy Label = "Happy"
	Fear  Label = "Fear"
)

// All returns the four labels in canonical order. Aggregation tie-breaks
// follow this order, earliest wins.
func All() []Label {
	return []Label{Angry, Sad, Happy, Fear}
}

// Valid reports whether l is one of the four canonical labels.
func (l Label) Valid() bool {
	switch l {
	case Angry, Sad, Happy, Fear:
		return true
	}
	return false
}

// fourClass maps classifier output and legacy stored labels onto the
// four-class contract. The speech classifier emits nine classes; older
// rows in the speech table may carry three-letter seven-class codes.
// Anything absent here is dropped, never persisted or aggregated:
// neutral, other, and unknown have no downstream meaning.
var fourClass = map[string]Label{
	// nine-class classifier output
	"angry":     Angry,
	"disgusted": Angry,
	"sad":       Sad,
	"happy":     Happy,
	"fearful":   Fear,
	"surprised": Fear,
	// seven-class codes found in older speech rows
	"ang": Angry,
	"hap": Happy,
	"fea": Fear,
	// already-canonical labels, any casing
	"fear": Fear,
}

// MapRaw maps a raw classifier or stored label onto the four-class enum.
// The second return is false when the label must be dropped.
func MapRaw(raw string) (Label, bool) {
	l, ok := fourClass[strings.ToLower(strings.TrimSpace(raw))]
	return l, ok
}

// Modality identifies one of the three signal sources the fusion service
// consumes.
type Modality string

const (
	Speech Modality = "speech"
	Face   Modality = "face"
	Vitals Modality = "vitals"
)

// Modalities returns the three modalities in canonical order.
func Modalities() []Modality {
	return []Modality{Speech, Face, Vitals}
}

// ParseModality validates a wire-format modality string.
func ParseModality(s string) (Modality, bool) {
	switch Modality(strings.ToLower(strings.TrimSpace(s))) {
	case Speech:
		return Speech, true
	case Face:
		return Face, true
	case Vitals:
		return Vitals, true
	}
	return "", false
}

// NormalizeLanguage collapses detector output onto the supported set
// {en, ms, zh}; anything else is "unknown". Indonesian is close enough
// to Malay for the transcription models in use.
func NormalizeLanguage(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	switch {
	case c == "en":
		return "en"
	case c == "ms" || c == "id":
		return "ms"
	case c == "zh" || strings.HasPrefix(c, "zh-"):
		return "zh"
	}
	return "unknown"
}
