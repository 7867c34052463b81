package application

import (
	"time"

	"fleet-dashboard/internal/fleet/aggregation"
	"fleet-dashboard/internal/fleet/domain"
	"fleet-dashboard/internal/polling"
)

// Meta summarizes the sources behind a view.
type Meta struct {
	Loading bool              `json:"loading"`
	Errors  map[string]string `json:"errors,omitempty"`
	// LastUpdated is the oldest successful refresh among the sources, nil
	// until every source has resolved once.
	LastUpdated *time.Time `json:"last_updated"`
}

func buildMeta(statuses ...polling.Status) Meta {
	var meta Meta
	complete := true
	for _, status := range statuses {
		if status.Loading {
			meta.Loading = true
		}
		if status.Error != "" {
			if meta.Errors == nil {
				meta.Errors = make(map[string]string)
			}
			meta.Errors[status.Name] = status.Error
		}
		if status.LastUpdated == nil {
			complete = false
			continue
		}
		if meta.LastUpdated == nil || status.LastUpdated.Before(*meta.LastUpdated) {
			ts := *status.LastUpdated
			meta.LastUpdated = &ts
		}
	}
	if !complete {
		meta.LastUpdated = nil
	}
	return meta
}

// FleetView is the fleet overview.
type FleetView struct {
	Meta Meta                  `json:"meta"`
	KPIs aggregation.FleetKPIs `json:"kpis"`
}

// GroupingView is the job-site breakdown.
type GroupingView struct {
	Meta      Meta                      `json:"meta"`
	Summaries []aggregation.SiteSummary `json:"summaries"`
	aggregation.Grouping
}

// TrailersView is a filtered trailer list.
type TrailersView struct {
	Meta     Meta                      `json:"meta"`
	Total    int                       `json:"total"`
	Trailers []aggregation.TrailerView `json:"trailers"`
}

// ActionsView is the triaged action queue.
type ActionsView struct {
	Meta Meta `json:"meta"`
	aggregation.ActionQueue
}

// CompareView is a multi-site comparison.
type CompareView struct {
	Meta Meta `json:"meta"`
	aggregation.Comparison
}

// SourcesView lists source states and in-flight requests.
type SourcesView struct {
	Sources  []polling.Status `json:"sources"`
	InFlight []polling.Entry  `json:"in_flight"`
}

// snapshot captures the latest data of the telemetry sources at one instant.
type snapshot struct {
	trailers polling.State[[]domain.Trailer]
	network  polling.State[[]domain.Pepwave]
	daily    polling.State[map[string][]domain.DailyPoint]
	jobSites polling.State[[]domain.JobSite]
	statuses []polling.Status
}

func (d *Dashboard) snapshot() (snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return snapshot{}, ErrNotStarted
	}
	return snapshot{
		trailers: d.trailers.State(),
		network:  d.network.State(),
		daily:    d.daily.State(),
		jobSites: d.jobSites.State(),
		statuses: []polling.Status{
			d.trailers.Status(),
			d.network.Status(),
			d.daily.Status(),
			d.jobSites.Status(),
		},
	}, nil
}

func (d *Dashboard) trailerViews(s snapshot) []aggregation.TrailerView {
	return aggregation.JoinTrailers(aggregation.JoinInput{
		Trailers: s.trailers.Data,
		Network:  s.network.Data,
		Energy:   s.daily.Data,
		Now:      d.clock.Now(),
		Policy:   d.policy,
	})
}

// Grouping returns trailers grouped by job site with per-site summaries.
func (d *Dashboard) Grouping() (GroupingView, error) {
	s, err := d.snapshot()
	if err != nil {
		return GroupingView{}, err
	}
	grouping := aggregation.GroupByJobSite(d.trailerViews(s), s.jobSites.Data)
	summaries := make([]aggregation.SiteSummary, 0, len(grouping.Groups))
	for _, group := range grouping.Groups {
		summaries = append(summaries, aggregation.SummarizeGroup(group))
	}
	return GroupingView{
		Meta:      buildMeta(s.statuses...),
		Summaries: summaries,
		Grouping:  grouping,
	}, nil
}

// Fleet returns fleet-wide KPIs.
func (d *Dashboard) Fleet() (FleetView, error) {
	s, err := d.snapshot()
	if err != nil {
		return FleetView{}, err
	}
	grouping := aggregation.GroupByJobSite(d.trailerViews(s), s.jobSites.Data)
	return FleetView{
		Meta: buildMeta(s.statuses...),
		KPIs: aggregation.RollupFleet(grouping),
	}, nil
}

// Trailers returns the trailer list narrowed and ordered by filter.
func (d *Dashboard) Trailers(filter aggregation.TrailerFilter) (TrailersView, error) {
	s, err := d.snapshot()
	if err != nil {
		return TrailersView{}, err
	}
	views := d.trailerViews(s)
	grouping := aggregation.GroupByJobSite(views, s.jobSites.Data)
	jobSiteOf := make(map[string]string)
	for _, group := range grouping.Groups {
		for _, t := range group.Trailers {
			jobSiteOf[t.SiteID] = group.ID
		}
	}
	for i := range views {
		views[i].JobSiteID = jobSiteOf[views[i].SiteID]
	}
	filtered := aggregation.FilterTrailers(views, filter)
	return TrailersView{
		Meta:     buildMeta(s.statuses...),
		Total:    len(views),
		Trailers: filtered,
	}, nil
}

// Actions returns the triaged action queue.
func (d *Dashboard) Actions() (ActionsView, error) {
	actions, err := d.actionsSource()
	if err != nil {
		return ActionsView{}, err
	}
	state := actions.State()
	return ActionsView{
		Meta:        buildMeta(actions.Status()),
		ActionQueue: aggregation.BuildActionQueue(state.Data, d.actionLimit),
	}, nil
}
