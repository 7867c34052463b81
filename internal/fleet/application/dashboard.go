package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleet-dashboard/internal/fleet/aggregation"
	"fleet-dashboard/internal/fleet/domain"
	"fleet-dashboard/internal/polling"
)

// Source names.
const (
	SourceTrailers = "trailers"
	SourceNetwork  = "network"
	SourceEnergy   = "energy"
	SourceJobSites = "job_sites"
	SourceActions  = "actions"
	SourceCompare  = "compare"
)

// Dedup keys shared by every consumer of the same resource.
const (
	keyTrailers = "sites"
	keyNetwork  = "pepwave:devices"
	keyEnergy   = "energy:daily:1"
	keyJobSites = "job-sites"
	keyActions  = "action-items"
)

var (
	// ErrNotStarted is returned when views or actions are used before Start.
	ErrNotStarted = errors.New("dashboard: not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("dashboard: already started")
)

// Intervals holds per-source poll intervals.
type Intervals struct {
	Trailers time.Duration
	Network  time.Duration
	JobSites time.Duration
	Actions  time.Duration
	Daily    time.Duration
}

// DefaultIntervals returns the standard refresh cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		Trailers: 30 * time.Second,
		Network:  30 * time.Second,
		JobSites: 60 * time.Second,
		Actions:  30 * time.Second,
		Daily:    5 * time.Minute,
	}
}

// Option customizes the dashboard.
type Option func(*Dashboard)

// WithRegistry shares an in-flight registry with other consumers.
func WithRegistry(registry *polling.Registry) Option {
	return func(d *Dashboard) {
		if registry != nil {
			d.registry = registry
		}
	}
}

// WithClock assigns a clock.
func WithClock(clock polling.Clock) Option {
	return func(d *Dashboard) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Dashboard) {
		d.logger = logger
	}
}

// WithObserver installs a fetch observer on every source.
func WithObserver(observer polling.Observer) Option {
	return func(d *Dashboard) {
		if observer != nil {
			d.observer = observer
		}
	}
}

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) Option {
	return func(d *Dashboard) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithIntervals overrides poll intervals. Zero fields keep their defaults.
func WithIntervals(intervals Intervals) Option {
	return func(d *Dashboard) {
		mergeDuration(&d.intervals.Trailers, intervals.Trailers)
		mergeDuration(&d.intervals.Network, intervals.Network)
		mergeDuration(&d.intervals.JobSites, intervals.JobSites)
		mergeDuration(&d.intervals.Actions, intervals.Actions)
		mergeDuration(&d.intervals.Daily, intervals.Daily)
	}
}

// WithStatusPolicy overrides trailer status thresholds.
func WithStatusPolicy(policy domain.StatusPolicy) Option {
	return func(d *Dashboard) {
		d.policy = policy
	}
}

// WithEnergyReader reads daily energy from somewhere other than the backend.
func WithEnergyReader(reader EnergyReader) Option {
	return func(d *Dashboard) {
		if reader != nil {
			d.energy = reader
		}
	}
}

// WithSeriesReader reads comparison series from somewhere other than the backend.
func WithSeriesReader(reader SeriesReader) Option {
	return func(d *Dashboard) {
		if reader != nil {
			d.series = reader
		}
	}
}

// WithActionLimit caps the unacknowledged action list.
func WithActionLimit(limit int) Option {
	return func(d *Dashboard) {
		if limit > 0 {
			d.actionLimit = limit
		}
	}
}

// Dashboard owns the polling sources for one dashboard session and builds
// view models from their latest resolved data.
type Dashboard struct {
	backend     Backend
	energy      EnergyReader
	series      SeriesReader
	registry    *polling.Registry
	clock       polling.Clock
	logger      zerolog.Logger
	observer    polling.Observer
	notifier    Notifier
	intervals   Intervals
	policy      domain.StatusPolicy
	actionLimit int

	mu       sync.Mutex
	ctx      context.Context
	trailers *polling.Source[[]domain.Trailer]
	network  *polling.Source[[]domain.Pepwave]
	daily    *polling.Source[map[string][]domain.DailyPoint]
	jobSites *polling.Source[[]domain.JobSite]
	actions  *polling.Source[[]domain.ActionItem]

	compares   map[string]*compareEntry
	compareSeq uint64
}

// NewDashboard constructs a dashboard. The backend also serves daily energy
// and comparison series when it implements EnergyReader or SeriesReader and
// no override is given.
func NewDashboard(backend Backend, opts ...Option) (*Dashboard, error) {
	if backend == nil {
		return nil, errors.New("dashboard: nil backend")
	}
	d := &Dashboard{
		backend:     backend,
		clock:       polling.SystemClock{},
		logger:      zerolog.Nop(),
		notifier:    nopNotifier{},
		intervals:   DefaultIntervals(),
		policy:      domain.DefaultStatusPolicy(),
		actionLimit: aggregation.DefaultActionLimit,
	}
	if reader, ok := backend.(EnergyReader); ok {
		d.energy = reader
	}
	if reader, ok := backend.(SeriesReader); ok {
		d.series = reader
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.energy == nil {
		return nil, errors.New("dashboard: no energy reader")
	}
	if d.series == nil {
		return nil, errors.New("dashboard: no series reader")
	}
	if d.registry == nil {
		d.registry = polling.NewRegistry(polling.WithRegistryClock(d.clock), polling.WithRegistryObserver(d.observer))
	}
	return d, nil
}

// Registry returns the in-flight registry.
func (d *Dashboard) Registry() *polling.Registry {
	return d.registry
}

// Start begins polling every source. Cancelling ctx stops them.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	if d.trailers, err = startSource(ctx, d, polling.Descriptor[[]domain.Trailer]{
		Name: SourceTrailers, Fetch: d.backend.ListTrailers, Interval: d.intervals.Trailers, DedupKey: keyTrailers,
	}); err != nil {
		return err
	}
	if d.network, err = startSource(ctx, d, polling.Descriptor[[]domain.Pepwave]{
		Name: SourceNetwork, Fetch: d.backend.ListNetworkDevices, Interval: d.intervals.Network, DedupKey: keyNetwork,
	}); err != nil {
		d.stopLocked()
		return err
	}
	if d.daily, err = startSource(ctx, d, polling.Descriptor[map[string][]domain.DailyPoint]{
		Name: SourceEnergy,
		Fetch: func(ctx context.Context) (map[string][]domain.DailyPoint, error) {
			return d.energy.DailyEnergy(ctx, 1)
		},
		Interval: d.intervals.Daily,
		DedupKey: keyEnergy,
	}); err != nil {
		d.stopLocked()
		return err
	}
	if d.jobSites, err = startSource(ctx, d, polling.Descriptor[[]domain.JobSite]{
		Name: SourceJobSites, Fetch: d.backend.ListJobSites, Interval: d.intervals.JobSites, DedupKey: keyJobSites,
	}); err != nil {
		d.stopLocked()
		return err
	}
	if d.actions, err = startSource(ctx, d, polling.Descriptor[[]domain.ActionItem]{
		Name: SourceActions, Fetch: d.backend.ListActionItems, Interval: d.intervals.Actions, DedupKey: keyActions,
	}); err != nil {
		d.stopLocked()
		return err
	}
	d.ctx = ctx
	d.logger.Info().Msg("dashboard sources started")
	return nil
}

// Close stops every source.
func (d *Dashboard) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Dashboard) stopLocked() {
	if d.trailers != nil {
		d.trailers.Stop()
	}
	if d.network != nil {
		d.network.Stop()
	}
	if d.daily != nil {
		d.daily.Stop()
	}
	if d.jobSites != nil {
		d.jobSites.Stop()
	}
	if d.actions != nil {
		d.actions.Stop()
	}
	for key, entry := range d.compares {
		entry.source.Stop()
		delete(d.compares, key)
	}
}

func startSource[T any](ctx context.Context, d *Dashboard, desc polling.Descriptor[T]) (*polling.Source[T], error) {
	return polling.Start(ctx, d.registry, desc, d.sourceOptions()...)
}

func (d *Dashboard) sourceOptions() []polling.Option {
	return []polling.Option{
		polling.WithClock(d.clock),
		polling.WithLogger(d.logger),
		polling.WithObserver(d.observer),
		polling.WithUpdateHook(d.sourceUpdated),
	}
}

func (d *Dashboard) sourceUpdated(name string) {
	d.notifier.Notify(context.Background(), Notification{Kind: KindRefresh, Source: name})
}

// Sources reports per-source state and the requests currently in flight.
func (d *Dashboard) Sources() (SourcesView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return SourcesView{}, ErrNotStarted
	}
	view := SourcesView{
		Sources: []polling.Status{
			d.trailers.Status(),
			d.network.Status(),
			d.daily.Status(),
			d.jobSites.Status(),
			d.actions.Status(),
		},
		InFlight: d.registry.InFlight(),
	}
	view.Sources = append(view.Sources, d.compareStatusesLocked()...)
	return view, nil
}

// Acknowledge acknowledges an action item and then refetches the action list.
// On failure a toast is published and no local state changes.
func (d *Dashboard) Acknowledge(ctx context.Context, key string) error {
	actions, err := d.actionsSource()
	if err != nil {
		return err
	}
	if err := d.backend.AcknowledgeAction(ctx, key); err != nil {
		d.mutationFailed(ctx, SourceActions, "Failed to acknowledge action item", err)
		return err
	}
	d.refetch(ctx, SourceActions, func(ctx context.Context) error {
		_, err := actions.Refetch(ctx)
		return err
	})
	return nil
}

// AssignTrailer moves a trailer to a job site, or unassigns it when jobSiteID
// is empty, then refetches job sites.
func (d *Dashboard) AssignTrailer(ctx context.Context, siteID, jobSiteID string) error {
	jobSites, err := d.jobSitesSource()
	if err != nil {
		return err
	}
	if err := d.backend.AssignTrailer(ctx, siteID, jobSiteID); err != nil {
		d.mutationFailed(ctx, SourceJobSites, "Failed to reassign trailer", err)
		return err
	}
	d.refetch(ctx, SourceJobSites, func(ctx context.Context) error {
		_, err := jobSites.Refetch(ctx)
		return err
	})
	return nil
}

// RenameJobSite renames a job site, then refetches job sites.
func (d *Dashboard) RenameJobSite(ctx context.Context, jobSiteID, name string) error {
	jobSites, err := d.jobSitesSource()
	if err != nil {
		return err
	}
	if err := d.backend.RenameJobSite(ctx, jobSiteID, name); err != nil {
		d.mutationFailed(ctx, SourceJobSites, "Failed to rename job site", err)
		return err
	}
	d.refetch(ctx, SourceJobSites, func(ctx context.Context) error {
		_, err := jobSites.Refetch(ctx)
		return err
	})
	return nil
}

// refetch runs an explicit refetch after a successful write. A failed refetch
// is already recorded on the source, so it is only logged here.
func (d *Dashboard) refetch(ctx context.Context, source string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		d.logger.Warn().Err(err).Str("source", source).Msg("refetch after write failed")
	}
}

func (d *Dashboard) mutationFailed(ctx context.Context, source, message string, err error) {
	d.logger.Error().Err(err).Str("source", source).Msg(message)
	d.notifier.Notify(ctx, Notification{
		Kind:    KindToast,
		Level:   LevelError,
		Message: message,
		Source:  source,
	})
}

func (d *Dashboard) actionsSource() (*polling.Source[[]domain.ActionItem], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, ErrNotStarted
	}
	return d.actions, nil
}

func (d *Dashboard) jobSitesSource() (*polling.Source[[]domain.JobSite], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil, ErrNotStarted
	}
	return d.jobSites, nil
}

func mergeDuration(dst *time.Duration, value time.Duration) {
	if value > 0 {
		*dst = value
	}
}
