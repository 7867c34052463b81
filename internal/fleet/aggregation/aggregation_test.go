package aggregation

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-dashboard/internal/fleet/domain"
)

func f(v float64) *float64 { return &v }

func TestGroupByJobSite_IsCompleteWithoutDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		trailers := make([]TrailerView, rng.Intn(40))
		for i := range trailers {
			trailers[i] = TrailerView{SiteID: fmt.Sprintf("s%d", i), Name: fmt.Sprintf("Trailer %d", i), Status: domain.StatusOK, Online: true}
		}
		jobSites := make([]domain.JobSite, rng.Intn(6))
		for j := range jobSites {
			jobSites[j] = domain.JobSite{ID: fmt.Sprintf("j%d", j), Name: fmt.Sprintf("Job %d", j)}
			for k := 0; k < rng.Intn(10); k++ {
				idx := rng.Intn(50)
				// alternate id and name references, including dangling ones
				if rng.Intn(2) == 0 {
					jobSites[j].Trailers = append(jobSites[j].Trailers, domain.TrailerRef{SiteID: fmt.Sprintf("s%d", idx)})
				} else {
					jobSites[j].Trailers = append(jobSites[j].Trailers, domain.TrailerRef{Name: fmt.Sprintf("trailer %d", idx)})
				}
			}
		}

		grouping := GroupByJobSite(trailers, jobSites)
		seen := make(map[string]int)
		for _, g := range grouping.Groups {
			for _, tr := range g.Trailers {
				seen[tr.SiteID]++
				assert.Equal(t, g.ID, tr.JobSiteID)
			}
		}
		for _, tr := range grouping.Unassigned {
			seen[tr.SiteID]++
		}
		require.Len(t, seen, len(trailers), "round %d", round)
		for id, n := range seen {
			require.Equal(t, 1, n, "trailer %s in round %d", id, round)
		}
		assert.Len(t, grouping.Groups, len(jobSites))
	}
}

func TestGroupByJobSite_JoinsAndTotals(t *testing.T) {
	trailers := []TrailerView{
		{SiteID: "s1", Name: "PT-01", Status: domain.StatusOK, Online: true, YieldToday: f(1200), ConsumedToday: f(400), AlertCount: 1},
		{SiteID: "s2", Name: "PT-02", Status: domain.StatusOffline},
		{SiteID: "s3", Name: "PT-03", Status: domain.StatusWarning, Online: true, YieldToday: f(300)},
		{SiteID: "s4", Name: "PT-04", Status: domain.StatusOK, Online: true},
	}
	jobSites := []domain.JobSite{
		{ID: "j10", Name: "Site 10", Trailers: []domain.TrailerRef{{SiteID: "s1"}, {Name: "pt-03"}}},
		{ID: "j2", Name: "Site 2", Trailers: []domain.TrailerRef{{SiteID: "s2"}, {SiteID: "s1"}}},
		{ID: "jempty", Name: "Depot"},
	}

	grouping := GroupByJobSite(trailers, jobSites)

	require.Len(t, grouping.Groups, 3)
	assert.Equal(t, []string{"Depot", "Site 2", "Site 10"}, []string{grouping.Groups[0].Name, grouping.Groups[1].Name, grouping.Groups[2].Name})

	site10 := grouping.Groups[2]
	require.Len(t, site10.Trailers, 2)
	assert.Equal(t, "s1", site10.Trailers[0].SiteID)
	assert.Equal(t, "s3", site10.Trailers[1].SiteID)
	assert.Equal(t, 1500.0, site10.TotalYield)
	assert.Equal(t, 400.0, site10.TotalConsumed)
	assert.Equal(t, 1100.0, site10.Balance)
	assert.Equal(t, 1, site10.AlertCount)
	assert.Equal(t, 2, site10.OnlineCount)
	assert.Equal(t, domain.StatusWarning, site10.WorstStatus)

	site2 := grouping.Groups[1]
	require.Len(t, site2.Trailers, 1)
	assert.Equal(t, 1, site2.OfflineCount)
	assert.Equal(t, domain.StatusOffline, site2.WorstStatus)

	assert.Equal(t, domain.StatusUnknown, grouping.Groups[0].WorstStatus)
	require.Len(t, grouping.Unassigned, 1)
	assert.Equal(t, "s4", grouping.Unassigned[0].SiteID)
}

func TestWorstStatus_AlarmDominatesOK(t *testing.T) {
	members := make([]TrailerView, 0, 10)
	for i := 0; i < 9; i++ {
		members = append(members, TrailerView{Status: domain.StatusOK})
	}
	members = append(members, TrailerView{Status: domain.StatusAlarm})
	assert.Equal(t, domain.StatusAlarm, WorstStatus(members))

	members = append(members, TrailerView{Status: domain.StatusOffline})
	assert.Equal(t, domain.StatusOffline, WorstStatus(members))
}

func TestWeightedAverageSOC(t *testing.T) {
	avg := WeightedAverageSOC([]SiteSummary{
		{ID: "a", AvgSOC: f(80), SOCCount: 2},
		{ID: "b", AvgSOC: f(20), SOCCount: 1},
		{ID: "empty", AvgSOC: nil, SOCCount: 0},
	})
	require.NotNil(t, avg)
	assert.InDelta(t, 60.0, *avg, 1e-9)

	assert.Nil(t, WeightedAverageSOC([]SiteSummary{{ID: "none"}}))
}

func TestSummarizeTrailers_SkipsMissingSOC(t *testing.T) {
	summary := SummarizeTrailers("j1", "Job", []TrailerView{
		{SOC: f(50), Status: domain.StatusOK},
		{SOC: nil, Status: domain.StatusOffline},
		{SOC: f(0), Status: domain.StatusAlarm},
	})
	assert.Equal(t, 3, summary.Members)
	assert.Equal(t, 2, summary.SOCCount)
	require.NotNil(t, summary.AvgSOC)
	assert.Equal(t, 25.0, *summary.AvgSOC)
	assert.Equal(t, domain.StatusOffline, summary.WorstStatus)
}

func TestRollupFleet(t *testing.T) {
	grouping := Grouping{
		Groups: []Group{
			{ID: "a", Trailers: []TrailerView{
				{SOC: f(80), Status: domain.StatusOK, Online: true, YieldToday: f(1000)},
				{SOC: f(80), Status: domain.StatusAlarm, Online: true, AlertCount: 2},
			}},
			{ID: "b", Trailers: []TrailerView{
				{SOC: f(20), Status: domain.StatusWarning, Online: true, ConsumedToday: f(250)},
			}},
			{ID: "c", Trailers: []TrailerView{{Status: domain.StatusOffline}}},
			{ID: "d", Trailers: []TrailerView{{SOC: f(90), Status: domain.StatusOK, Online: true}}},
		},
		Unassigned: []TrailerView{{Status: domain.StatusOffline}},
	}

	kpis := RollupFleet(grouping)
	assert.Equal(t, 6, kpis.Trailers)
	assert.Equal(t, 4, kpis.Online)
	assert.Equal(t, 2, kpis.Offline)
	assert.Equal(t, 1, kpis.Unassigned)
	assert.Equal(t, 4, kpis.JobSites)
	assert.Equal(t, 1, kpis.Critical)
	assert.Equal(t, 1, kpis.AtRisk)
	assert.Equal(t, 1, kpis.OfflineSites)
	assert.Equal(t, 1, kpis.Healthy)
	assert.Equal(t, 2, kpis.ActiveAlerts)
	require.NotNil(t, kpis.AvgSOC)
	assert.InDelta(t, (80*2+20+90)/4.0, *kpis.AvgSOC, 1e-9)
	require.NotNil(t, kpis.TotalYield)
	assert.Equal(t, 1000.0, *kpis.TotalYield)
	require.NotNil(t, kpis.Balance)
	assert.Equal(t, 750.0, *kpis.Balance)
}

func TestRollupFleet_NoDataIsNil(t *testing.T) {
	kpis := RollupFleet(Grouping{Unassigned: []TrailerView{{Status: domain.StatusOffline}}})
	assert.Nil(t, kpis.AvgSOC)
	assert.Nil(t, kpis.TotalYield)
	assert.Nil(t, kpis.TotalConsumed)
	assert.Nil(t, kpis.Balance)
	assert.Equal(t, Sentinel, FormatOptional(kpis.AvgSOC, 1))
	assert.Equal(t, "0.0", FormatOptional(f(0), 1))
}

func TestRollupFleet_BalanceNeedsBothTotals(t *testing.T) {
	kpis := RollupFleet(Grouping{Unassigned: []TrailerView{
		{SOC: f(70), Status: domain.StatusOK, Online: true, YieldToday: f(1200)},
	}})
	require.NotNil(t, kpis.TotalYield)
	assert.Nil(t, kpis.TotalConsumed)
	assert.Nil(t, kpis.Balance)

	kpis = RollupFleet(Grouping{Unassigned: []TrailerView{
		{SOC: f(70), Status: domain.StatusOK, Online: true, ConsumedToday: f(300)},
	}})
	assert.Nil(t, kpis.TotalYield)
	assert.Nil(t, kpis.Balance)
}

func TestBuildActionQueue_CapsAndOrders(t *testing.T) {
	priorities := []int{5, 1, 3, 1, 2, 4, 2, 5, 1, 3, 4, 2, 1, 5, 3}
	items := make([]domain.ActionItem, 0, len(priorities)+2)
	for i, p := range priorities {
		items = append(items, domain.ActionItem{Key: fmt.Sprintf("a%d", i), Priority: p})
	}
	ackedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items = append(items,
		domain.ActionItem{Key: "ack-late", Priority: 9, AcknowledgedAt: &ackedAt},
		domain.ActionItem{Key: "ack-early", Priority: 0, AcknowledgedAt: &ackedAt},
	)

	queue := BuildActionQueue(items, 0)

	keys := make([]string, 0, len(queue.Unacknowledged))
	for _, item := range queue.Unacknowledged {
		keys = append(keys, item.Key)
	}
	assert.Equal(t, []string{"a1", "a3", "a8", "a12", "a4", "a6", "a11", "a2", "a9", "a14"}, keys)
	assert.Equal(t, 15, queue.PendingTotal)
	require.Len(t, queue.Acknowledged, 2)
	assert.Equal(t, "ack-early", queue.Acknowledged[0].Key)
	assert.Equal(t, "ack-late", queue.Acknowledged[1].Key)

	// input untouched
	assert.Equal(t, "a0", items[0].Key)
}

func TestAlignSeries_RaggedDates(t *testing.T) {
	a := SeriesInput{SiteID: "A", Points: []domain.DailyPoint{
		{Date: "2026-03-03", Values: map[string]float64{domain.FieldYieldWh: 30}},
		{Date: "2026-03-01", Values: map[string]float64{domain.FieldYieldWh: 10}},
	}}
	b := SeriesInput{SiteID: "B", Label: "Trailer B", Points: []domain.DailyPoint{
		{Date: "2026-03-02", Values: map[string]float64{domain.FieldYieldWh: 20}},
		{Date: "2026-03-03", Values: map[string]float64{domain.FieldYieldWh: 0}},
	}}

	cmp := AlignSeries([]SeriesInput{a, b}, domain.FieldYieldWh)

	assert.Equal(t, []string{"2026-03-01", "2026-03-02", "2026-03-03"}, cmp.Labels)
	require.Len(t, cmp.Series, 2)
	assert.Equal(t, []*float64{f(10), nil, f(30)}, cmp.Series[0].Values)
	assert.Equal(t, []*float64{nil, f(20), f(0)}, cmp.Series[1].Values)
	assert.Equal(t, "A", cmp.Series[0].Label)
	assert.Equal(t, "Trailer B", cmp.Series[1].Label)
	assert.Equal(t, Palette[0], cmp.Series[0].Color)
	assert.Equal(t, Palette[1], cmp.Series[1].Color)
}

func TestAlignSeries_EmptySeriesKeepsIdentity(t *testing.T) {
	cmp := AlignSeries([]SeriesInput{
		{SiteID: "A"},
		{SiteID: "B", Points: []domain.DailyPoint{{Date: "2026-03-01", Values: map[string]float64{domain.FieldYieldWh: 1}}}},
	}, domain.FieldYieldWh)

	require.Len(t, cmp.Series, 2)
	assert.Equal(t, "A", cmp.Series[0].SiteID)
	assert.Equal(t, Palette[0], cmp.Series[0].Color)
	assert.Equal(t, []*float64{nil}, cmp.Series[0].Values)
	assert.Equal(t, 1, cmp.Series[1].Index)
}

func TestJoinTrailers(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	bars := 4
	trailers := []domain.Trailer{
		{SiteID: "s1", Name: "PT-01", Snapshot: &domain.Snapshot{SOC: f(64), Timestamp: now.Add(-time.Minute)}},
		{SiteID: "s2", Name: "PT-02"},
	}
	network := []domain.Pepwave{{Name: "pt-01 ", Online: true, SignalBars: &bars, Carrier: "Verizon", LastSeen: now}}
	energy := map[string][]domain.DailyPoint{
		"s1": {
			{Date: "2026-03-02", Values: map[string]float64{domain.FieldYieldWh: 999, domain.FieldConsumedWh: 1}},
			{Date: "2026-03-03", Values: map[string]float64{domain.FieldYieldWh: 500, domain.FieldConsumedWh: 200}},
		},
		"s2": {{Date: "2026-03-03", Values: map[string]float64{domain.FieldYieldWh: 10}}},
	}

	views := JoinTrailers(JoinInput{Trailers: trailers, Network: network, Energy: energy, Now: now, Policy: domain.DefaultStatusPolicy()})

	require.Len(t, views, 2)
	assert.Equal(t, domain.StatusOK, views[0].Status)
	assert.Equal(t, "Verizon", views[0].Carrier)
	assert.Equal(t, 500.0, *views[0].YieldToday)
	assert.Equal(t, 300.0, *views[0].Balance)
	require.NotNil(t, views[0].LastSeen)
	assert.Equal(t, now, *views[0].LastSeen)

	assert.Equal(t, domain.StatusOffline, views[1].Status)
	assert.False(t, views[1].Online)
	assert.Nil(t, views[1].SOC)
	assert.Equal(t, 10.0, *views[1].YieldToday)
	assert.Nil(t, views[1].ConsumedToday)
	assert.Nil(t, views[1].Balance)
}

func TestFilterTrailers(t *testing.T) {
	trailers := []TrailerView{
		{SiteID: "s1", Name: "Unit 10", SOC: f(40), Status: domain.StatusOK},
		{SiteID: "s2", Name: "Unit 2", SOC: nil, Status: domain.StatusOffline},
		{SiteID: "s3", Name: "Yard", SOC: f(90), Status: domain.StatusOK},
		{SiteID: "s4", Name: "Unit 1", SOC: f(40), Status: domain.StatusWarning},
	}

	byName := FilterTrailers(trailers, TrailerFilter{Query: "unit", Sort: SortByName})
	assert.Equal(t, []string{"s4", "s2", "s1"}, siteIDs(byName))

	bySOC := FilterTrailers(trailers, TrailerFilter{Sort: SortBySOC, Desc: true})
	assert.Equal(t, []string{"s3", "s1", "s4", "s2"}, siteIDs(bySOC))

	okOnly := FilterTrailers(trailers, TrailerFilter{Status: domain.StatusOK})
	assert.Equal(t, []string{"s1", "s3"}, siteIDs(okOnly))

	assert.Equal(t, "s1", trailers[0].SiteID)
}

func siteIDs(views []TrailerView) []string {
	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.SiteID)
	}
	return ids
}
