package polling

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FetchFunc loads one snapshot of a remote resource.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Descriptor defines a polled resource. DependencyKey identifies the schedule:
// changing any element restarts polling. DedupKey identifies the request for
// coalescing; empty means no coalescing.
type Descriptor[T any] struct {
	Name          string
	Fetch         FetchFunc[T]
	Interval      time.Duration
	DependencyKey []any
	DedupKey      string
}

func (d Descriptor[T]) validate() error {
	if d.Fetch == nil {
		return ErrNilFetch
	}
	if d.Interval <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// State is the consumer view of a source.
// Loading is true only until the first resolution for the current dependency
// key. LastUpdated is set on success only and never moves backwards.
type State[T any] struct {
	Data        T
	HasData     bool
	Loading     bool
	Error       string
	LastUpdated time.Time

	err error
}

// Err returns the error behind Error, if any.
func (s State[T]) Err() error { return s.err }

// Status is the type-independent part of a source state.
type Status struct {
	Name        string     `json:"name"`
	Loading     bool       `json:"loading"`
	HasData     bool       `json:"has_data"`
	Error       string     `json:"error,omitempty"`
	LastUpdated *time.Time `json:"last_updated"`
	Interval    string     `json:"interval"`
	DedupKey    string     `json:"dedup_key,omitempty"`
}

// Option configures a Source.
type Option func(*options)

type options struct {
	clock    Clock
	logger   zerolog.Logger
	observer Observer
	onUpdate func(name string)
}

// WithClock overrides the clock used for scheduling and timestamps.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver installs a fetch observer.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithUpdateHook registers a callback invoked after every applied state change.
func WithUpdateHook(fn func(name string)) Option {
	return func(o *options) {
		o.onUpdate = fn
	}
}

// Source polls one remote resource on a fixed interval.
type Source[T any] struct {
	registry *Registry
	opts     options
	ctx      context.Context

	mu         sync.Mutex
	desc       Descriptor[T]
	state      State[T]
	generation uint64
	stopped    bool
	done       chan struct{}
}

// Start begins polling. The first fetch starts immediately in the background;
// later fetches follow every desc.Interval. Cancelling ctx stops the source.
func Start[T any](ctx context.Context, registry *Registry, desc Descriptor[T], opts ...Option) (*Source[T], error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if err := desc.validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o := options{
		clock:    SystemClock{},
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Source[T]{
		registry: registry,
		opts:     o,
		ctx:      ctx,
	}
	s.mu.Lock()
	s.activateLocked(desc)
	s.mu.Unlock()
	return s, nil
}

// Name returns the descriptor name.
func (s *Source[T]) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc.Name
}

// State returns a snapshot of the current state.
func (s *Source[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the type-independent state summary.
func (s *Source[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		Name:     s.desc.Name,
		Loading:  s.state.Loading,
		HasData:  s.state.HasData,
		Error:    s.state.Error,
		Interval: s.desc.Interval.String(),
		DedupKey: s.desc.DedupKey,
	}
	if !s.state.LastUpdated.IsZero() {
		ts := s.state.LastUpdated
		status.LastUpdated = &ts
	}
	return status
}

// Refetch fetches immediately without touching the interval timer and returns
// the resolved value. While a request for the same dedup key is outstanding,
// the caller joins it instead of issuing another. ctx bounds only the wait: the
// request keeps running after ctx ends and its result is still applied.
func (s *Source[T]) Refetch(ctx context.Context) (T, error) {
	var zero T
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return zero, ErrStopped
	}
	gen, desc := s.generation, s.desc
	s.mu.Unlock()
	if ctx == nil {
		ctx = s.ctx
	}
	return s.fetch(ctx, gen, desc)
}

// Update replaces the descriptor. When the dependency key (compared
// element-wise) or the interval changes, the running schedule is cancelled and
// polling restarts with an immediate fetch. Otherwise only the fetch function
// and dedup key are swapped in for subsequent fetches.
func (s *Source[T]) Update(desc Descriptor[T]) error {
	if err := desc.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if desc.Interval == s.desc.Interval && sameKey(desc.DependencyKey, s.desc.DependencyKey) {
		s.desc.Fetch = desc.Fetch
		s.desc.DedupKey = desc.DedupKey
		if desc.Name != "" {
			s.desc.Name = desc.Name
		}
		return nil
	}
	close(s.done)
	s.activateLocked(desc)
	return nil
}

// Stop cancels the schedule. Fetches still in flight may complete but their
// results are discarded.
func (s *Source[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
}

func (s *Source[T]) activateLocked(desc Descriptor[T]) {
	s.generation++
	gen := s.generation
	s.desc = desc
	s.state = State[T]{Loading: true, LastUpdated: s.state.LastUpdated}
	done := make(chan struct{})
	s.done = done

	ticker := s.opts.clock.Ticker(desc.Interval)
	go func() { _, _ = s.fetch(s.ctx, gen, desc) }()
	go s.schedule(gen, ticker, done)
}

func (s *Source[T]) schedule(gen uint64, ticker Ticker, done <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			s.Stop()
			return
		case <-ticker.Chan():
			desc, ok := s.current(gen)
			if !ok {
				return
			}
			go func() { _, _ = s.fetch(s.ctx, gen, desc) }()
		}
	}
}

func (s *Source[T]) current(gen uint64) (Descriptor[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || gen != s.generation {
		return Descriptor[T]{}, false
	}
	return s.desc, true
}

func (s *Source[T]) fetch(ctx context.Context, gen uint64, desc Descriptor[T]) (T, error) {
	if ctx == s.ctx {
		return s.resolve(gen, desc)
	}
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := s.resolve(gen, desc)
		done <- result{value: value, err: err}
	}()
	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// resolve runs desc under the source context and applies the outcome.
func (s *Source[T]) resolve(gen uint64, desc Descriptor[T]) (T, error) {
	var zero T
	start := s.opts.clock.Now()
	raw, err := s.registry.Do(s.ctx, desc.DedupKey, func(ctx context.Context) (any, error) {
		return desc.Fetch(ctx)
	})
	value := zero
	if err == nil && raw != nil {
		typed, ok := raw.(T)
		if !ok {
			err = ErrTypeMismatch
		} else {
			value = typed
		}
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		// the source is shutting down
		return value, err
	}
	s.opts.observer.FetchCompleted(desc.Name, s.opts.clock.Now().Sub(start), err)
	s.apply(gen, desc, value, err)
	return value, err
}

// apply records a resolution. Results are applied in resolution order, so a
// slow request can overwrite a newer one that resolved first.
func (s *Source[T]) apply(gen uint64, desc Descriptor[T], value T, err error) {
	s.mu.Lock()
	if s.stopped || gen != s.generation {
		s.mu.Unlock()
		s.opts.logger.Debug().Str("source", desc.Name).Msg("discarding stale fetch result")
		return
	}
	s.state.Loading = false
	if err != nil {
		s.state.Error = err.Error()
		s.state.err = err
	} else {
		s.state.Data = value
		s.state.HasData = true
		s.state.Error = ""
		s.state.err = nil
		if now := s.opts.clock.Now(); now.After(s.state.LastUpdated) {
			s.state.LastUpdated = now
		}
	}
	hook := s.opts.onUpdate
	s.mu.Unlock()

	if err != nil {
		s.opts.logger.Warn().Err(err).Str("source", desc.Name).Str("dedup_key", desc.DedupKey).Msg("poll failed")
	}
	if hook != nil {
		hook(desc.Name)
	}
}

func sameKey(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !shallowEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// shallowEqual compares by value for comparable types. Values of
// non-comparable types (slices, maps) never compare equal.
func shallowEqual(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	tx, ty := reflect.TypeOf(x), reflect.TypeOf(y)
	if tx != ty || !tx.Comparable() {
		return false
	}
	return x == y
}
