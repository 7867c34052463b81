package aggregation

import (
	"sort"

	"fleet-dashboard/internal/fleet/domain"
)

// DefaultActionLimit caps the unacknowledged part of the queue.
const DefaultActionLimit = 10

// ActionQueue is the triage view of action items.
type ActionQueue struct {
	Unacknowledged []domain.ActionItem `json:"unacknowledged"`
	Acknowledged   []domain.ActionItem `json:"acknowledged"`
	// PendingTotal counts unacknowledged items before the cap.
	PendingTotal int `json:"pending_total"`
}

// BuildActionQueue puts unacknowledged items first, capped to limit, then all
// acknowledged items. Both parts are ordered by ascending priority; equal
// priorities keep input order. A non-positive limit uses DefaultActionLimit.
func BuildActionQueue(items []domain.ActionItem, limit int) ActionQueue {
	if limit <= 0 {
		limit = DefaultActionLimit
	}
	pending := make([]domain.ActionItem, 0, len(items))
	acked := make([]domain.ActionItem, 0)
	for _, item := range items {
		if item.Acknowledged() {
			acked = append(acked, item)
		} else {
			pending = append(pending, item)
		}
	}
	byPriority(pending)
	byPriority(acked)

	queue := ActionQueue{
		Acknowledged: acked,
		PendingTotal: len(pending),
	}
	if len(pending) > limit {
		pending = pending[:limit]
	}
	queue.Unacknowledged = pending
	return queue
}

func byPriority(items []domain.ActionItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority < items[j].Priority })
}
