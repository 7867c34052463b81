package application

import (
	"context"

	"fleet-dashboard/internal/fleet/domain"
)

// Backend is the fleet API the dashboard polls and mutates.
type Backend interface {
	ListTrailers(ctx context.Context) ([]domain.Trailer, error)
	ListNetworkDevices(ctx context.Context) ([]domain.Pepwave, error)
	ListJobSites(ctx context.Context) ([]domain.JobSite, error)
	ListActionItems(ctx context.Context) ([]domain.ActionItem, error)
	AcknowledgeAction(ctx context.Context, key string) error
	AssignTrailer(ctx context.Context, siteID, jobSiteID string) error
	RenameJobSite(ctx context.Context, jobSiteID, name string) error
}

// EnergyReader loads daily energy for every site.
type EnergyReader interface {
	DailyEnergy(ctx context.Context, days int) (map[string][]domain.DailyPoint, error)
}

// SeriesReader loads one site's daily series.
type SeriesReader interface {
	DailyMetrics(ctx context.Context, siteID string, days int) ([]domain.DailyPoint, error)
}

// Notification kinds.
const (
	KindToast   = "toast"
	KindRefresh = "refresh"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// Notification is pushed to connected dashboards.
type Notification struct {
	Kind    string `json:"kind"`
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Notifier publishes notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}
