package aggregation

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"fleet-dashboard/internal/fleet/domain"
)

// Group is one job site with its trailers and totals. Totals treat missing
// per-trailer values as zero.
type Group struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        string        `json:"status"`
	Trailers      []TrailerView `json:"trailers"`
	TotalYield    float64       `json:"total_yield_wh"`
	TotalConsumed float64       `json:"total_consumed_wh"`
	Balance       float64       `json:"balance_wh"`
	AlertCount    int           `json:"alert_count"`
	OnlineCount   int           `json:"online_count"`
	OfflineCount  int           `json:"offline_count"`
	WorstStatus   domain.Status `json:"worst_status"`
}

// Grouping partitions trailers into job sites. Every input trailer appears
// exactly once, either in a group or in Unassigned.
type Grouping struct {
	Groups     []Group       `json:"groups"`
	Unassigned []TrailerView `json:"unassigned"`
}

// GroupByJobSite assigns trailers to job sites using the membership lists
// embedded in jobSites: first by site id, then by normalized name. A trailer
// listed under several job sites goes to the first one. Groups are ordered by
// name using numeric-aware collation; unassigned trailers keep input order.
func GroupByJobSite(trailers []TrailerView, jobSites []domain.JobSite) Grouping {
	groups := make([]Group, len(jobSites))
	byID := make(map[string]int)
	byName := make(map[string]int)
	for i, site := range jobSites {
		groups[i] = Group{
			ID:          site.ID,
			Name:        site.Name,
			Status:      site.Status,
			Trailers:    []TrailerView{},
			WorstStatus: domain.StatusUnknown,
		}
		for _, ref := range site.Trailers {
			if ref.SiteID != "" {
				if _, taken := byID[ref.SiteID]; !taken {
					byID[ref.SiteID] = i
				}
			}
			if name := domain.NormalizeName(ref.Name); name != "" {
				if _, taken := byName[name]; !taken {
					byName[name] = i
				}
			}
		}
	}

	unassigned := make([]TrailerView, 0)
	for _, trailer := range trailers {
		idx, ok := -1, false
		if trailer.SiteID != "" {
			idx, ok = byID[trailer.SiteID]
		}
		if !ok {
			idx, ok = byName[domain.NormalizeName(trailer.Name)]
		}
		if !ok {
			unassigned = append(unassigned, trailer)
			continue
		}
		trailer.JobSiteID = groups[idx].ID
		groups[idx].add(trailer)
	}

	SortGroupsByName(groups)
	return Grouping{Groups: groups, Unassigned: unassigned}
}

func (g *Group) add(t TrailerView) {
	g.Trailers = append(g.Trailers, t)
	if t.YieldToday != nil {
		g.TotalYield += *t.YieldToday
	}
	if t.ConsumedToday != nil {
		g.TotalConsumed += *t.ConsumedToday
	}
	g.Balance = g.TotalYield - g.TotalConsumed
	g.AlertCount += t.AlertCount
	if t.Online {
		g.OnlineCount++
	} else {
		g.OfflineCount++
	}
	g.WorstStatus = domain.Worse(g.WorstStatus, t.Status)
}

// SortGroupsByName orders groups in place by name, comparing digit runs
// numerically ("Site 2" before "Site 10"). Equal names keep their order.
func SortGroupsByName(groups []Group) {
	c := newCollator()
	sort.SliceStable(groups, func(i, j int) bool {
		return c.CompareString(groups[i].Name, groups[j].Name) < 0
	})
}

// CompareNames compares two names with the same collation as group ordering.
func CompareNames(a, b string) int {
	return newCollator().CompareString(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Collators keep internal buffers and are not safe for concurrent use, so
// every call builds its own.
func newCollator() *collate.Collator {
	return collate.New(language.English, collate.Numeric, collate.IgnoreCase)
}
