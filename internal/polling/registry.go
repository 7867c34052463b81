package polling

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry describes one in-flight request.
type Entry struct {
	Key       string    `json:"key"`
	StartedAt time.Time `json:"started_at"`
	Waiters   int       `json:"waiters"`
}

// Registry coalesces concurrent fetches that share a dedup key so that at most
// one request per key is outstanding. Every waiter receives the same value or
// the same error. Entries are dropped as soon as the request settles.
//
// A Registry is owned by the application (one per session); sources that
// should share requests must share a Registry.
type Registry struct {
	group    singleflight.Group
	clock    Clock
	observer Observer

	mu       sync.Mutex
	inflight map[string]*Entry
	waiters  map[string]int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the clock used for StartedAt.
func WithRegistryClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithRegistryObserver installs an observer for coalescing metrics.
func WithRegistryObserver(observer Observer) RegistryOption {
	return func(r *Registry) {
		if observer != nil {
			r.observer = observer
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		clock:    SystemClock{},
		observer: nopObserver{},
		inflight: make(map[string]*Entry),
		waiters:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn, or joins the outstanding call registered under key. An empty key
// disables coalescing. The shared call is detached from the caller's
// cancellation; ctx only bounds how long this caller waits.
func (r *Registry) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	if key == "" {
		return fn(ctx)
	}

	r.mu.Lock()
	r.waiters[key]++
	r.mu.Unlock()
	defer r.leave(key)

	ch := r.group.DoChan(key, func() (any, error) {
		r.begin(key)
		defer r.end(key)
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.observer.FetchCoalesced(key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight lists the outstanding requests ordered by key.
func (r *Registry) InFlight() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.inflight))
	for key, entry := range r.inflight {
		item := *entry
		item.Waiters = r.waiters[key]
		entries = append(entries, item)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Waiting reports how many callers are currently blocked on key.
func (r *Registry) Waiting(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiters[key]
}

func (r *Registry) begin(key string) {
	r.mu.Lock()
	r.inflight[key] = &Entry{Key: key, StartedAt: r.clock.Now()}
	count := len(r.inflight)
	r.mu.Unlock()
	r.observer.InFlight(count)
}

func (r *Registry) end(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	count := len(r.inflight)
	r.mu.Unlock()
	r.observer.InFlight(count)
}

func (r *Registry) leave(key string) {
	r.mu.Lock()
	if r.waiters[key] <= 1 {
		delete(r.waiters, key)
	} else {
		r.waiters[key]--
	}
	r.mu.Unlock()
}
