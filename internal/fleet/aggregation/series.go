package aggregation

import (
	"sort"

	"fleet-dashboard/internal/fleet/domain"
)

// Comparison limits.
const (
	MinCompareSeries = 2
	MaxCompareSeries = 4
)

// Palette assigns colors by selection order.
var Palette = []string{"#2563eb", "#16a34a", "#f59e0b", "#dc2626"}

// SeriesInput is one site's daily series as fetched.
type SeriesInput struct {
	SiteID string              `json:"site_id"`
	Label  string              `json:"label"`
	Points []domain.DailyPoint `json:"points"`
}

// AlignedSeries holds one value per comparison label; nil marks a gap.
type AlignedSeries struct {
	SiteID string     `json:"site_id"`
	Label  string     `json:"label"`
	Color  string     `json:"color"`
	Index  int        `json:"index"`
	Values []*float64 `json:"values"`
}

// Comparison is a set of series aligned on a shared date axis.
type Comparison struct {
	Metric string          `json:"metric"`
	Labels []string        `json:"labels"`
	Series []AlignedSeries `json:"series"`
}

// AlignSeries aligns series on the ascending union of their dates. Dates a
// series lacks, or where the metric is absent, become nil; nothing is
// interpolated or zero-filled. Series keep input order, and color and index
// depend only on that order.
func AlignSeries(inputs []SeriesInput, metric string) Comparison {
	seen := make(map[string]struct{})
	lookups := make([]map[string]float64, len(inputs))
	for i, input := range inputs {
		values := make(map[string]float64, len(input.Points))
		for _, p := range input.Points {
			if p.Date == "" {
				continue
			}
			seen[p.Date] = struct{}{}
			if v, ok := p.Value(metric); ok {
				values[p.Date] = v
			}
		}
		lookups[i] = values
	}

	labels := make([]string, 0, len(seen))
	for date := range seen {
		labels = append(labels, date)
	}
	sort.Strings(labels)

	series := make([]AlignedSeries, len(inputs))
	for i, input := range inputs {
		values := make([]*float64, len(labels))
		for j, date := range labels {
			if v, ok := lookups[i][date]; ok {
				v := v
				values[j] = &v
			}
		}
		label := input.Label
		if label == "" {
			label = input.SiteID
		}
		series[i] = AlignedSeries{
			SiteID: input.SiteID,
			Label:  label,
			Color:  Palette[i%len(Palette)],
			Index:  i,
			Values: values,
		}
	}
	return Comparison{Metric: metric, Labels: labels, Series: series}
}
