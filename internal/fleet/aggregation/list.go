package aggregation

import (
	"sort"
	"strings"

	"fleet-dashboard/internal/fleet/domain"
)

// Sort keys for trailer lists.
const (
	SortByName     = "name"
	SortBySOC      = "soc"
	SortByLastSeen = "last_seen"
	SortByStatus   = "status"
)

// TrailerFilter narrows and orders a trailer list.
type TrailerFilter struct {
	Query  string
	Status domain.Status
	Sort   string
	Desc   bool
}

// FilterTrailers returns the trailers matching f. Query matches name or site
// id, case-insensitively. Trailers lacking the sort value go last in either
// direction; ties keep input order.
func FilterTrailers(trailers []TrailerView, f TrailerFilter) []TrailerView {
	query := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]TrailerView, 0, len(trailers))
	for _, t := range trailers {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(t.Name), query) &&
			!strings.Contains(strings.ToLower(t.SiteID), query) {
			continue
		}
		out = append(out, t)
	}

	switch f.Sort {
	case SortBySOC:
		sortNullable(out, f.Desc, func(t TrailerView) (float64, bool) {
			if t.SOC == nil {
				return 0, false
			}
			return *t.SOC, true
		})
	case SortByLastSeen:
		sortNullable(out, f.Desc, func(t TrailerView) (float64, bool) {
			if t.LastSeen == nil {
				return 0, false
			}
			return float64(t.LastSeen.UnixMilli()), true
		})
	case SortByStatus:
		sortNullable(out, f.Desc, func(t TrailerView) (float64, bool) {
			return float64(t.Status.Severity()), true
		})
	case SortByName:
		c := newCollator()
		sort.SliceStable(out, func(i, j int) bool {
			cmp := c.CompareString(out[i].Name, out[j].Name)
			if f.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}
	return out
}

func sortNullable(items []TrailerView, desc bool, key func(TrailerView) (float64, bool)) {
	sort.SliceStable(items, func(i, j int) bool {
		a, okA := key(items[i])
		b, okB := key(items[j])
		switch {
		case !okA || !okB:
			return okA && !okB
		case desc:
			return a > b
		default:
			return a < b
		}
	})
}
