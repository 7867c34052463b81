package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dashboard/internal/fleet/aggregation"
	"fleet-dashboard/internal/fleet/domain"
	"fleet-dashboard/internal/polling"
)

type fakeBackend struct {
	mu       sync.Mutex
	trailers []domain.Trailer
	devices  []domain.Pepwave
	jobSites []domain.JobSite
	actions  []domain.ActionItem
	energy   map[string][]domain.DailyPoint
	series   map[string][]domain.DailyPoint

	writeErr error
	acked    []string
	assigned [][2]string
	renamed  [][2]string

	trailerCalls  atomic.Int32
	jobSiteCalls  atomic.Int32
	actionCalls   atomic.Int32
	seriesCalls   atomic.Int32
	seriesRelease chan struct{}
}

func (f *fakeBackend) ListTrailers(context.Context) ([]domain.Trailer, error) {
	f.trailerCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trailers, nil
}

func (f *fakeBackend) ListNetworkDevices(context.Context) ([]domain.Pepwave, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeBackend) ListJobSites(context.Context) ([]domain.JobSite, error) {
	f.jobSiteCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.JobSite, len(f.jobSites))
	copy(out, f.jobSites)
	return out, nil
}

func (f *fakeBackend) ListActionItems(context.Context) ([]domain.ActionItem, error) {
	f.actionCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ActionItem(nil), f.actions...), nil
}

func (f *fakeBackend) DailyEnergy(context.Context, int) (map[string][]domain.DailyPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.energy, nil
}

func (f *fakeBackend) DailyMetrics(ctx context.Context, siteID string, days int) ([]domain.DailyPoint, error) {
	f.seriesCalls.Add(1)
	if gate := f.gate(); gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	points, ok := f.series[siteID]
	if !ok {
		return nil, errors.New("no series")
	}
	return points, nil
}

func (f *fakeBackend) gate() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seriesRelease
}

func (f *fakeBackend) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seriesRelease = make(chan struct{})
	return f.seriesRelease
}

func (f *fakeBackend) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeBackend) AcknowledgeAction(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.acked = append(f.acked, key)
	now := time.Now()
	for i := range f.actions {
		if f.actions[i].Key == key {
			f.actions[i].AcknowledgedAt = &now
		}
	}
	return nil
}

func (f *fakeBackend) AssignTrailer(_ context.Context, siteID, jobSiteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.assigned = append(f.assigned, [2]string{siteID, jobSiteID})
	return nil
}

func (f *fakeBackend) RenameJobSite(_ context.Context, jobSiteID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.renamed = append(f.renamed, [2]string{jobSiteID, name})
	for i := range f.jobSites {
		if f.jobSites[i].ID == jobSiteID {
			f.jobSites[i].Name = name
		}
	}
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) toasts() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.items {
		if n.Kind == KindToast {
			out = append(out, n)
		}
	}
	return out
}

func ptr(v float64) *float64 { return &v }

func newFixture() *fakeBackend {
	now := time.Now()
	return &fakeBackend{
		trailers: []domain.Trailer{
			{SiteID: "s1", Name: "PT-01", Snapshot: &domain.Snapshot{SOC: ptr(80), Timestamp: now}},
			{SiteID: "s2", Name: "PT-02", Snapshot: &domain.Snapshot{SOC: ptr(20), Timestamp: now}},
			{SiteID: "s3", Name: "PT-03", Snapshot: &domain.Snapshot{SOC: ptr(60), Timestamp: now}},
		},
		devices: []domain.Pepwave{
			{Name: "pt-01", Online: true, Carrier: "Verizon", LastSeen: now},
			{Name: "PT-02", Online: true, LastSeen: now},
			{Name: "PT-03", Online: true, LastSeen: now},
		},
		jobSites: []domain.JobSite{
			{ID: "j1", Name: "North", Trailers: []domain.TrailerRef{{SiteID: "s1"}, {SiteID: "s2"}}},
		},
		actions: []domain.ActionItem{
			{Key: "a1", Priority: 2},
			{Key: "a2", Priority: 1},
		},
		energy: map[string][]domain.DailyPoint{
			"s1": {{Date: "2026-03-10", Values: map[string]float64{domain.FieldYieldWh: 1000, domain.FieldConsumedWh: 400}}},
		},
		series: map[string][]domain.DailyPoint{
			"s1": {{Date: "2026-03-01", Values: map[string]float64{domain.FieldYieldWh: 1}}},
			"s2": {{Date: "2026-03-02", Values: map[string]float64{domain.FieldYieldWh: 2}}},
		},
	}
}

func startDashboard(t *testing.T, backend *fakeBackend, opts ...Option) *Dashboard {
	t.Helper()
	opts = append([]Option{WithIntervals(Intervals{
		Trailers: time.Hour, Network: time.Hour, JobSites: time.Hour, Actions: time.Hour, Daily: time.Hour,
	})}, opts...)
	dashboard, err := NewDashboard(backend, opts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		dashboard.Close()
	})
	require.NoError(t, dashboard.Start(ctx))
	require.Eventually(t, func() bool {
		view, err := dashboard.Sources()
		if err != nil {
			return false
		}
		for _, s := range view.Sources {
			if !s.HasData {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return dashboard
}

func TestDashboardRequiresStart(t *testing.T) {
	dashboard, err := NewDashboard(newFixture())
	require.NoError(t, err)

	_, err = dashboard.Fleet()
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, dashboard.Acknowledge(context.Background(), "a1"), ErrNotStarted)
	_, err = dashboard.Compare(context.Background(), CompareSelection{SiteIDs: []string{"s1", "s2"}, Days: 7})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestDashboardStartTwice(t *testing.T) {
	dashboard := startDashboard(t, newFixture())
	assert.ErrorIs(t, dashboard.Start(context.Background()), ErrAlreadyStarted)
}

func TestDashboardViews(t *testing.T) {
	dashboard := startDashboard(t, newFixture())

	fleet, err := dashboard.Fleet()
	require.NoError(t, err)
	assert.False(t, fleet.Meta.Loading)
	assert.NotNil(t, fleet.Meta.LastUpdated)
	assert.Equal(t, 3, fleet.KPIs.Trailers)
	assert.Equal(t, 1, fleet.KPIs.Unassigned)
	assert.Equal(t, 1, fleet.KPIs.JobSites)

	grouping, err := dashboard.Grouping()
	require.NoError(t, err)
	require.Len(t, grouping.Groups, 1)
	assert.Len(t, grouping.Groups[0].Trailers, 2)
	require.Len(t, grouping.Summaries, 1)
	assert.Equal(t, 2, grouping.Summaries[0].Members)
	first := grouping.Groups[0].Trailers[0]
	assert.Equal(t, "Verizon", first.Carrier)
	require.NotNil(t, first.Balance)
	assert.Equal(t, 600.0, *first.Balance)

	list, err := dashboard.Trailers(aggregation.TrailerFilter{Query: "pt-0", Sort: aggregation.SortBySOC, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Trailers, 3)
	assert.Equal(t, "s1", list.Trailers[0].SiteID)
	assert.Equal(t, "j1", list.Trailers[0].JobSiteID)
	assert.Equal(t, "", list.Trailers[1].JobSiteID)

	actions, err := dashboard.Actions()
	require.NoError(t, err)
	require.Len(t, actions.Unacknowledged, 2)
	assert.Equal(t, "a2", actions.Unacknowledged[0].Key)
}

func TestAcknowledgeRefetchesActions(t *testing.T) {
	backend := newFixture()
	dashboard := startDashboard(t, backend)
	before := backend.actionCalls.Load()

	require.NoError(t, dashboard.Acknowledge(context.Background(), "a2"))
	assert.Equal(t, []string{"a2"}, backend.acked)
	assert.Equal(t, before+1, backend.actionCalls.Load())

	actions, err := dashboard.Actions()
	require.NoError(t, err)
	require.Len(t, actions.Acknowledged, 1)
	assert.Equal(t, "a2", actions.Acknowledged[0].Key)
}

func TestFailedWritePublishesToastAndKeepsState(t *testing.T) {
	backend := newFixture()
	notifier := &recordingNotifier{}
	dashboard := startDashboard(t, backend, WithNotifier(notifier))
	backend.failWrites(errors.New("backend unavailable"))
	actionsBefore := backend.actionCalls.Load()
	jobSitesBefore := backend.jobSiteCalls.Load()

	assert.Error(t, dashboard.Acknowledge(context.Background(), "a1"))
	assert.Error(t, dashboard.AssignTrailer(context.Background(), "s3", "j1"))
	assert.Error(t, dashboard.RenameJobSite(context.Background(), "j1", "South"))

	assert.Equal(t, actionsBefore, backend.actionCalls.Load())
	assert.Equal(t, jobSitesBefore, backend.jobSiteCalls.Load())
	toasts := notifier.toasts()
	require.Len(t, toasts, 3)
	assert.Equal(t, LevelError, toasts[0].Level)
	assert.Equal(t, SourceActions, toasts[0].Source)

	grouping, err := dashboard.Grouping()
	require.NoError(t, err)
	assert.Equal(t, "North", grouping.Groups[0].Name)
	assert.Len(t, grouping.Unassigned, 1)
}

func TestRenameRefetchesJobSites(t *testing.T) {
	backend := newFixture()
	dashboard := startDashboard(t, backend)
	before := backend.jobSiteCalls.Load()

	require.NoError(t, dashboard.RenameJobSite(context.Background(), "j1", "North Yard"))
	require.NoError(t, dashboard.AssignTrailer(context.Background(), "s3", "j1"))
	assert.Equal(t, before+2, backend.jobSiteCalls.Load())
	assert.Equal(t, [][2]string{{"s3", "j1"}}, backend.assigned)

	grouping, err := dashboard.Grouping()
	require.NoError(t, err)
	assert.Equal(t, "North Yard", grouping.Groups[0].Name)
}

func TestRefreshNotificationsFollowUpdates(t *testing.T) {
	notifier := &recordingNotifier{}
	startDashboard(t, newFixture(), WithNotifier(notifier))

	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		sources := make(map[string]bool)
		for _, n := range notifier.items {
			if n.Kind == KindRefresh {
				sources[n.Source] = true
			}
		}
		return sources[SourceTrailers] && sources[SourceNetwork] && sources[SourceEnergy] &&
			sources[SourceJobSites] && sources[SourceActions]
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, notifier.toasts())
}

func TestCompareSelectionValidate(t *testing.T) {
	cases := []struct {
		name string
		sel  CompareSelection
		err  error
	}{
		{"one site", CompareSelection{SiteIDs: []string{"a"}, Days: 7}, ErrInvalidSelection},
		{"five sites", CompareSelection{SiteIDs: []string{"a", "b", "c", "d", "e"}, Days: 7}, ErrInvalidSelection},
		{"duplicate", CompareSelection{SiteIDs: []string{"a", "a"}, Days: 7}, ErrInvalidSelection},
		{"bad window", CompareSelection{SiteIDs: []string{"a", "b"}, Days: 14}, ErrInvalidWindow},
		{"bad metric", CompareSelection{SiteIDs: []string{"a", "b"}, Days: 30, Metric: "watts"}, ErrInvalidMetric},
		{"ok", CompareSelection{SiteIDs: []string{"a", "b"}, Days: 90}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.sel.Validate()
			if tc.err == nil {
				require.NoError(t, err)
				assert.Equal(t, domain.FieldYieldWh, tc.sel.Metric)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCompareAlignsSeries(t *testing.T) {
	dashboard := startDashboard(t, newFixture())

	view, err := dashboard.Compare(context.Background(), CompareSelection{SiteIDs: []string{"s2", "s1"}, Days: 7})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-01", "2026-03-02"}, view.Labels)
	require.Len(t, view.Series, 2)
	assert.Equal(t, "PT-02", view.Series[0].Label)
	assert.Equal(t, aggregation.Palette[0], view.Series[0].Color)
	assert.Nil(t, view.Series[0].Values[0])
	assert.Equal(t, 2.0, *view.Series[0].Values[1])
}

func TestCompareReusesSourcePerSelection(t *testing.T) {
	backend := newFixture()
	backend.series["s3"] = []domain.DailyPoint{{Date: "2026-03-03", Values: map[string]float64{domain.FieldYieldWh: 3}}}
	dashboard := startDashboard(t, backend)
	ctx := context.Background()

	first, err := dashboard.Compare(ctx, CompareSelection{SiteIDs: []string{"s1", "s2"}, Days: 7})
	require.NoError(t, err)

	// Series fetches block from here on: an unchanged selection must be
	// served from the polled state without a new fetch.
	release := backend.hold()
	again, err := dashboard.Compare(ctx, CompareSelection{SiteIDs: []string{"s1", "s2"}, Days: 7})
	require.NoError(t, err)
	assert.Equal(t, first.Comparison, again.Comparison)
	close(release)

	view, err := dashboard.Compare(ctx, CompareSelection{SiteIDs: []string{"s1", "s3"}, Days: 7})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-01", "2026-03-03"}, view.Labels)
	assert.Equal(t, "s3", view.Series[1].SiteID)
}

func TestCompareConcurrentSelectionsStayIsolated(t *testing.T) {
	backend := newFixture()
	backend.series["s3"] = []domain.DailyPoint{{Date: "2026-03-03", Values: map[string]float64{domain.FieldYieldWh: 3}}}
	dashboard := startDashboard(t, backend)
	release := backend.hold()

	type outcome struct {
		view CompareView
		err  error
	}
	compare := func(ids ...string) <-chan outcome {
		out := make(chan outcome, 1)
		go func() {
			view, err := dashboard.Compare(context.Background(), CompareSelection{SiteIDs: ids, Days: 7})
			out <- outcome{view: view, err: err}
		}()
		return out
	}

	first := compare("s1", "s2")
	require.Eventually(t, func() bool {
		return dashboard.Registry().Waiting("daily:s2:7") > 0
	}, time.Second, time.Millisecond)
	second := compare("s1", "s3")
	require.Eventually(t, func() bool {
		return dashboard.Registry().Waiting("daily:s3:7") > 0
	}, time.Second, time.Millisecond)
	close(release)

	a := <-first
	require.NoError(t, a.err)
	require.Len(t, a.view.Series, 2)
	assert.Equal(t, "s2", a.view.Series[1].SiteID)
	assert.Equal(t, []string{"2026-03-01", "2026-03-02"}, a.view.Labels)

	b := <-second
	require.NoError(t, b.err)
	require.Len(t, b.view.Series, 2)
	assert.Equal(t, "s3", b.view.Series[1].SiteID)
	assert.Equal(t, []string{"2026-03-01", "2026-03-03"}, b.view.Labels)
}

func TestCompareEvictsLeastRecentSelection(t *testing.T) {
	backend := newFixture()
	backend.series["s3"] = []domain.DailyPoint{{Date: "2026-03-03", Values: map[string]float64{domain.FieldYieldWh: 3}}}
	dashboard := startDashboard(t, backend)
	ctx := context.Background()

	var selections []CompareSelection
	for _, days := range []int{7, 30, 90} {
		for _, ids := range [][]string{{"s1", "s2"}, {"s2", "s1"}, {"s1", "s3"}} {
			selections = append(selections, CompareSelection{SiteIDs: ids, Days: days, Metric: domain.FieldYieldWh})
		}
	}
	require.Greater(t, len(selections), maxCompareSources)
	for _, sel := range selections {
		_, err := dashboard.Compare(ctx, sel)
		require.NoError(t, err)
	}

	view, err := dashboard.Sources()
	require.NoError(t, err)
	assert.Len(t, view.Sources, 5+maxCompareSources)

	dashboard.mu.Lock()
	_, kept := dashboard.compares[selections[0].dedupKey()]
	dashboard.mu.Unlock()
	assert.False(t, kept)
}

func TestCompareSharesSiteSeriesRequests(t *testing.T) {
	backend := newFixture()
	release := backend.hold()
	dashboard := startDashboard(t, backend)

	var wg sync.WaitGroup
	results := make([][]domain.DailyPoint, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = dashboard.siteSeries(context.Background(), "s1", 30)
		}()
	}
	require.Eventually(t, func() bool {
		return dashboard.Registry().Waiting("daily:s1:30") == 4
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), backend.seriesCalls.Load())
	for _, points := range results {
		assert.Len(t, points, 1)
	}
}

func TestBuildMeta(t *testing.T) {
	early := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	meta := buildMeta(
		polling.Status{Name: "a", LastUpdated: &late},
		polling.Status{Name: "b", LastUpdated: &early, Error: "boom"},
	)
	require.NotNil(t, meta.LastUpdated)
	assert.Equal(t, early, *meta.LastUpdated)
	assert.Equal(t, map[string]string{"b": "boom"}, meta.Errors)

	meta = buildMeta(
		polling.Status{Name: "a", LastUpdated: &late},
		polling.Status{Name: "b", Loading: true},
	)
	assert.Nil(t, meta.LastUpdated)
	assert.True(t, meta.Loading)
}
