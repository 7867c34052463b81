package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"fleet-dashboard/internal/fleet/aggregation"
	"fleet-dashboard/internal/fleet/domain"
	"fleet-dashboard/internal/polling"
)

var (
	// ErrInvalidSelection is returned for fewer than two, more than four, or
	// duplicate sites.
	ErrInvalidSelection = errors.New("dashboard: select 2 to 4 distinct sites")
	// ErrInvalidWindow is returned for a window other than 7, 30 or 90 days.
	ErrInvalidWindow = errors.New("dashboard: days must be 7, 30 or 90")
	// ErrInvalidMetric is returned for an unknown comparison metric.
	ErrInvalidMetric = errors.New("dashboard: unknown metric")
)

var compareMetrics = map[string]struct{}{
	domain.FieldYieldWh:    {},
	domain.FieldConsumedWh: {},
	domain.FieldMinSOC:     {},
	domain.FieldMaxSOC:     {},
}

// CompareSelection picks the sites and window to compare. Site order fixes
// series color and index.
type CompareSelection struct {
	SiteIDs []string
	Days    int
	Metric  string
}

// Validate checks the selection and fills the default metric.
func (s *CompareSelection) Validate() error {
	if len(s.SiteIDs) < aggregation.MinCompareSeries || len(s.SiteIDs) > aggregation.MaxCompareSeries {
		return ErrInvalidSelection
	}
	seen := make(map[string]struct{}, len(s.SiteIDs))
	for _, id := range s.SiteIDs {
		if id == "" {
			return ErrInvalidSelection
		}
		if _, dup := seen[id]; dup {
			return ErrInvalidSelection
		}
		seen[id] = struct{}{}
	}
	switch s.Days {
	case 7, 30, 90:
	default:
		return ErrInvalidWindow
	}
	if s.Metric == "" {
		s.Metric = domain.FieldYieldWh
	}
	if _, ok := compareMetrics[s.Metric]; !ok {
		return ErrInvalidMetric
	}
	return nil
}

func (s CompareSelection) dependencyKey() []any {
	key := make([]any, 0, len(s.SiteIDs)+2)
	key = append(key, s.Days, s.Metric)
	for _, id := range s.SiteIDs {
		key = append(key, id)
	}
	return key
}

func (s CompareSelection) dedupKey() string {
	return fmt.Sprintf("compare:%s:%d:%s", strings.Join(s.SiteIDs, ","), s.Days, s.Metric)
}

// maxCompareSources bounds how many selections keep polling at once.
const maxCompareSources = 8

type compareEntry struct {
	source *polling.Source[aggregation.Comparison]
	used   uint64
}

// Compare returns the comparison for sel. Each distinct selection is polled by
// its own source, started on first use. When that source has not resolved yet,
// Compare waits for its in-flight fetch.
func (d *Dashboard) Compare(ctx context.Context, sel CompareSelection) (CompareView, error) {
	if err := sel.Validate(); err != nil {
		return CompareView{}, err
	}
	source, err := d.compareSource(sel)
	if err != nil {
		return CompareView{}, err
	}

	state := source.State()
	data := state.Data
	if !state.HasData && state.Error == "" {
		// Joins the fetch issued by Start under the same dedup key.
		value, err := source.Refetch(ctx)
		if err != nil {
			return CompareView{}, err
		}
		data = value
	}
	return CompareView{
		Meta:       buildMeta(source.Status()),
		Comparison: data,
	}, nil
}

// compareSource returns the source polling sel. Beyond maxCompareSources the
// least recently requested selection is stopped.
func (d *Dashboard) compareSource(sel CompareSelection) (*polling.Source[aggregation.Comparison], error) {
	key := sel.dedupKey()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, ErrNotStarted
	}
	d.compareSeq++
	if entry, ok := d.compares[key]; ok {
		entry.used = d.compareSeq
		return entry.source, nil
	}

	source, err := startSource(d.ctx, d, polling.Descriptor[aggregation.Comparison]{
		Name:          SourceCompare,
		Fetch:         d.compareFetch(sel),
		Interval:      d.intervals.Daily,
		DependencyKey: sel.dependencyKey(),
		DedupKey:      key,
	})
	if err != nil {
		return nil, err
	}
	if d.compares == nil {
		d.compares = make(map[string]*compareEntry)
	}
	d.compares[key] = &compareEntry{source: source, used: d.compareSeq}
	for len(d.compares) > maxCompareSources {
		d.evictCompareLocked()
	}
	return source, nil
}

func (d *Dashboard) evictCompareLocked() {
	var oldestKey string
	var oldest uint64
	for key, entry := range d.compares {
		if oldestKey == "" || entry.used < oldest {
			oldestKey, oldest = key, entry.used
		}
	}
	d.compares[oldestKey].source.Stop()
	delete(d.compares, oldestKey)
	d.logger.Debug().Str("dedup_key", oldestKey).Msg("comparison source evicted")
}

func (d *Dashboard) compareStatusesLocked() []polling.Status {
	keys := make([]string, 0, len(d.compares))
	for key := range d.compares {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	statuses := make([]polling.Status, 0, len(keys))
	for _, key := range keys {
		statuses = append(statuses, d.compares[key].source.Status())
	}
	return statuses
}

func (d *Dashboard) compareFetch(sel CompareSelection) polling.FetchFunc[aggregation.Comparison] {
	siteIDs := append([]string(nil), sel.SiteIDs...)
	return func(ctx context.Context) (aggregation.Comparison, error) {
		labels := d.trailerLabels()
		inputs := make([]aggregation.SeriesInput, len(siteIDs))
		g, gctx := errgroup.WithContext(ctx)
		for i, siteID := range siteIDs {
			g.Go(func() error {
				points, err := d.siteSeries(gctx, siteID, sel.Days)
				if err != nil {
					return fmt.Errorf("series %s: %w", siteID, err)
				}
				label := labels[siteID]
				if label == "" {
					label = siteID
				}
				inputs[i] = aggregation.SeriesInput{SiteID: siteID, Label: label, Points: points}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return aggregation.Comparison{}, err
		}
		return aggregation.AlignSeries(inputs, sel.Metric), nil
	}
}

// siteSeries loads one site's series, sharing the request with any other
// comparison that includes the same site and window.
func (d *Dashboard) siteSeries(ctx context.Context, siteID string, days int) ([]domain.DailyPoint, error) {
	key := fmt.Sprintf("daily:%s:%d", siteID, days)
	raw, err := d.registry.Do(ctx, key, func(ctx context.Context) (any, error) {
		return d.series.DailyMetrics(ctx, siteID, days)
	})
	if err != nil {
		return nil, err
	}
	points, ok := raw.([]domain.DailyPoint)
	if !ok && raw != nil {
		return nil, polling.ErrTypeMismatch
	}
	return points, nil
}

func (d *Dashboard) trailerLabels() map[string]string {
	d.mu.Lock()
	source := d.trailers
	d.mu.Unlock()
	labels := make(map[string]string)
	if source == nil {
		return labels
	}
	for _, t := range source.State().Data {
		labels[t.SiteID] = t.Name
	}
	return labels
}
