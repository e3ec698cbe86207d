package moderation

import "fmt"

// Category names an independent keyword list. A keyword configured for one
// category never applies to another.
type Category string

const (
	CategoryReward        Category = "reward"
	CategoryImageFilter   Category = "image-filter"
	CategoryMessageFilter Category = "message-filter"
)

// Categories lists every known category in a stable order.
var Categories = []Category{CategoryReward, CategoryImageFilter, CategoryMessageFilter}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("moderation: unknown category %q", s)
}

// MarkerKind identifies which check produced a Marker.
type MarkerKind int

const (
	MarkerKeyword MarkerKind = iota + 1
	MarkerExcessLength
	MarkerNumericRun
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerKeyword:
		return "keyword"
	case MarkerExcessLength:
		return "excess_length"
	case MarkerNumericRun:
		return "numeric_run"
	default:
		return "unknown"
	}
}

// Marker is the outcome of a positive detection. Exactly one of the payload
// fields is meaningful, selected by Kind.
type Marker struct {
	Kind     MarkerKind
	Keywords []string // MarkerKeyword: matched keywords in list order
	Count    int      // MarkerExcessLength: characters of the watched script
	Numbers  []string // MarkerNumericRun: qualifying digit runs
}

// String renders the marker for logs and audit reasons.
func (m *Marker) String() string {
	if m == nil {
		return "none"
	}
	switch m.Kind {
	case MarkerKeyword:
		return fmt.Sprintf("keyword%v", m.Keywords)
	case MarkerExcessLength:
		return fmt.Sprintf("excess_length(%d)", m.Count)
	case MarkerNumericRun:
		return fmt.Sprintf("numeric_run%v", m.Numbers)
	default:
		return "unknown"
	}
}

// MatchCount returns the number of matched keywords carried by m, or zero for
// a nil or non-keyword marker.
func MatchCount(m *Marker) int {
	if m == nil || m.Kind != MarkerKeyword {
		return 0
	}
	return len(m.Keywords)
}

// RewardMatch is the result of screening a reward submission. Matched and
// Count are filled even when the submission does not qualify.
type RewardMatch struct {
	Qualifies bool
	Matched   []string
	Count     int
	Required  int
}

// ReloadRequest is published on the admin reload subject by operators.
type ReloadRequest struct {
	RequestedBy string `json:"requested_by"`
	Ts          int64  `json:"ts"`
}
