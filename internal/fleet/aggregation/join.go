package aggregation

import (
	"time"

	"fleet-dashboard/internal/fleet/domain"
)

// TrailerView is a trailer joined with its network and energy data.
type TrailerView struct {
	SiteID        string        `json:"site_id"`
	Name          string        `json:"name"`
	JobSiteID     string        `json:"job_site_id,omitempty"`
	Status        domain.Status `json:"status"`
	Online        bool          `json:"online"`
	SOC           *float64      `json:"soc"`
	YieldToday    *float64      `json:"yield_today_wh"`
	ConsumedToday *float64      `json:"consumed_today_wh"`
	Balance       *float64      `json:"balance_wh"`
	AlertCount    int           `json:"alert_count"`
	Carrier       string        `json:"carrier,omitempty"`
	SignalBars    *int          `json:"signal_bars"`
	LastSeen      *time.Time    `json:"last_seen"`
}

// JoinInput holds the collections joined into trailer views.
type JoinInput struct {
	Trailers []domain.Trailer
	// Network is keyed by device name and matched against trailer names.
	Network []domain.Pepwave
	// Energy is keyed by site id.
	Energy map[string][]domain.DailyPoint
	Now    time.Time
	Policy domain.StatusPolicy
}

// JoinTrailers reconciles the two telemetry sources: network devices by name,
// energy series by site id. Output order follows in.Trailers.
func JoinTrailers(in JoinInput) []TrailerView {
	network := indexNetwork(in.Network)
	views := make([]TrailerView, 0, len(in.Trailers))
	for _, trailer := range in.Trailers {
		if pw, ok := network[domain.NormalizeName(trailer.Name)]; ok {
			trailer.Pepwave = pw
		}
		views = append(views, viewOf(trailer, in.Energy[trailer.SiteID], in.Now, in.Policy))
	}
	return views
}

func indexNetwork(devices []domain.Pepwave) map[string]*domain.Pepwave {
	index := make(map[string]*domain.Pepwave, len(devices))
	for i := range devices {
		key := domain.NormalizeName(devices[i].Name)
		if key == "" {
			continue
		}
		if _, exists := index[key]; exists {
			continue
		}
		device := devices[i]
		index[key] = &device
	}
	return index
}

func viewOf(t domain.Trailer, daily []domain.DailyPoint, now time.Time, policy domain.StatusPolicy) TrailerView {
	status := policy.Evaluate(t, now)
	view := TrailerView{
		SiteID: t.SiteID,
		Name:   t.Name,
		Status: status,
		Online: status != domain.StatusOffline,
	}
	var lastSeen time.Time
	if snap := t.Snapshot; snap != nil {
		view.SOC = copyFloat(snap.SOC)
		view.AlertCount = len(snap.Alarms)
		lastSeen = snap.Timestamp
	}
	if pw := t.Pepwave; pw != nil {
		view.Carrier = pw.Carrier
		if pw.SignalBars != nil {
			bars := *pw.SignalBars
			view.SignalBars = &bars
		}
		if pw.LastSeen.After(lastSeen) {
			lastSeen = pw.LastSeen
		}
	}
	if !lastSeen.IsZero() {
		view.LastSeen = &lastSeen
	}

	if today, ok := domain.Latest(daily); ok {
		if v, ok := today.Value(domain.FieldYieldWh); ok {
			view.YieldToday = &v
		}
		if v, ok := today.Value(domain.FieldConsumedWh); ok {
			view.ConsumedToday = &v
		}
	}
	if view.YieldToday != nil && view.ConsumedToday != nil {
		balance := *view.YieldToday - *view.ConsumedToday
		view.Balance = &balance
	}
	return view
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
