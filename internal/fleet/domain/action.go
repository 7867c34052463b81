package domain

import "time"

// ActionItem is an operational issue awaiting acknowledgement. Lower Priority
// is more urgent.
type ActionItem struct {
	Key            string     `json:"key"`
	Priority       int        `json:"priority"`
	Category       string     `json:"category"`
	Title          string     `json:"title,omitempty"`
	SiteID         string     `json:"site_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
}

// Acknowledged reports whether the item carries an acknowledgement time.
func (a ActionItem) Acknowledged() bool {
	return a.AcknowledgedAt != nil && !a.AcknowledgedAt.IsZero()
}
