package domain

import "sort"

// Daily metric fields.
const (
	FieldYieldWh    = "yield_wh"
	FieldConsumedWh = "consumed_wh"
	FieldMinSOC     = "min_soc"
	FieldMaxSOC     = "max_soc"
)

// DailyPoint is one day of metrics for a site.
type DailyPoint struct {
	Date   string             `json:"date"`
	Values map[string]float64 `json:"values"`
}

// Value returns the named field.
func (p DailyPoint) Value(field string) (float64, bool) {
	if p.Values == nil {
		return 0, false
	}
	v, ok := p.Values[field]
	return v, ok
}

// Latest returns the point with the greatest date.
func Latest(points []DailyPoint) (DailyPoint, bool) {
	var latest DailyPoint
	found := false
	for _, p := range points {
		if p.Date == "" {
			continue
		}
		if !found || p.Date >= latest.Date {
			latest = p
			found = true
		}
	}
	return latest, found
}

// SortByDate orders points ascending in place.
func SortByDate(points []DailyPoint) {
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
}
