package aggregation

import "fleet-dashboard/internal/fleet/domain"

// SiteSummary is the per-site input to fleet averages. SOCCount is the number
// of members that reported a SOC and is the weight of AvgSOC.
type SiteSummary struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Members     int           `json:"members"`
	SOCCount    int           `json:"soc_count"`
	AvgSOC      *float64      `json:"avg_soc"`
	WorstStatus domain.Status `json:"worst_status"`
}

// FleetKPIs is the fleet-wide rollup. Pointer fields are nil when no member
// reported the underlying value.
type FleetKPIs struct {
	Trailers      int      `json:"trailers"`
	Online        int      `json:"online"`
	Offline       int      `json:"offline"`
	Unassigned    int      `json:"unassigned"`
	JobSites      int      `json:"job_sites"`
	Healthy       int      `json:"healthy"`
	AtRisk        int      `json:"at_risk"`
	Critical      int      `json:"critical"`
	OfflineSites  int      `json:"offline_sites"`
	ActiveAlerts  int      `json:"active_alerts"`
	AvgSOC        *float64 `json:"avg_soc"`
	TotalYield    *float64 `json:"total_yield_wh"`
	TotalConsumed *float64 `json:"total_consumed_wh"`
	Balance       *float64 `json:"balance_wh"`
}

// SummarizeTrailers averages SOC over the members that reported one.
func SummarizeTrailers(id, name string, trailers []TrailerView) SiteSummary {
	summary := SiteSummary{
		ID:          id,
		Name:        name,
		Members:     len(trailers),
		WorstStatus: WorstStatus(trailers),
	}
	var sum float64
	for _, t := range trailers {
		if t.SOC == nil {
			continue
		}
		sum += *t.SOC
		summary.SOCCount++
	}
	if summary.SOCCount > 0 {
		avg := sum / float64(summary.SOCCount)
		summary.AvgSOC = &avg
	}
	return summary
}

// SummarizeGroup summarizes one job-site group.
func SummarizeGroup(g Group) SiteSummary {
	return SummarizeTrailers(g.ID, g.Name, g.Trailers)
}

// WorstStatus returns the most severe member status, or StatusUnknown for an
// empty set.
func WorstStatus(trailers []TrailerView) domain.Status {
	worst := domain.StatusUnknown
	for _, t := range trailers {
		worst = domain.Worse(worst, t.Status)
	}
	return worst
}

// WeightedAverageSOC computes sum(avg*count)/sum(count). Sites without data
// are excluded from the denominator.
func WeightedAverageSOC(sites []SiteSummary) *float64 {
	var sum float64
	var weight int
	for _, site := range sites {
		if site.AvgSOC == nil || site.SOCCount <= 0 {
			continue
		}
		sum += *site.AvgSOC * float64(site.SOCCount)
		weight += site.SOCCount
	}
	if weight == 0 {
		return nil
	}
	avg := sum / float64(weight)
	return &avg
}

// RollupFleet computes fleet KPIs. Status counts are per job site from each
// group's worst status; unassigned trailers contribute to trailer counts,
// averages and totals only.
func RollupFleet(g Grouping) FleetKPIs {
	kpis := FleetKPIs{
		JobSites:   len(g.Groups),
		Unassigned: len(g.Unassigned),
	}
	summaries := make([]SiteSummary, 0, len(g.Groups)+1)
	var yield, consumed optionalSum

	count := func(trailers []TrailerView) {
		for _, t := range trailers {
			kpis.Trailers++
			if t.Online {
				kpis.Online++
			} else {
				kpis.Offline++
			}
			kpis.ActiveAlerts += t.AlertCount
			yield.add(t.YieldToday)
			consumed.add(t.ConsumedToday)
		}
	}

	for _, group := range g.Groups {
		count(group.Trailers)
		summary := SummarizeGroup(group)
		summaries = append(summaries, summary)
		switch summary.WorstStatus {
		case domain.StatusOffline:
			kpis.OfflineSites++
		case domain.StatusAlarm:
			kpis.Critical++
		case domain.StatusWarning:
			kpis.AtRisk++
		case domain.StatusOK:
			kpis.Healthy++
		}
	}
	if len(g.Unassigned) > 0 {
		count(g.Unassigned)
		summaries = append(summaries, SummarizeTrailers("", "unassigned", g.Unassigned))
	}

	kpis.AvgSOC = WeightedAverageSOC(summaries)
	kpis.TotalYield = yield.value()
	kpis.TotalConsumed = consumed.value()
	if kpis.TotalYield != nil && kpis.TotalConsumed != nil {
		balance := yield.sum - consumed.sum
		kpis.Balance = &balance
	}
	return kpis
}

type optionalSum struct {
	sum float64
	n   int
}

func (s *optionalSum) add(v *float64) {
	if v == nil {
		return
	}
	s.sum += *v
	s.n++
}

func (s optionalSum) value() *float64 {
	if s.n == 0 {
		return nil
	}
	out := s.sum
	return &out
}
