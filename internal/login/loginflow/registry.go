package loginflow

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	defaultScreenTTL     = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// ErrRegistryClosed is returned by Open after Shutdown.
var ErrRegistryClosed = errors.New("loginflow: registry closed")

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithTTL sets how long an idle screen is kept before the janitor unmounts it.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSweepInterval sets the janitor tick.
func WithSweepInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithMaxScreens caps the number of live screens. Zero means no cap.
func WithMaxScreens(n int) RegistryOption {
	return func(r *Registry) {
		if n >= 0 {
			r.maxScreens = n
		}
	}
}

// WithRegistryLogger sets the logger for the registry and the flows it opens.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryClock overrides the time source for ids, activity and sweeps.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithFlowOptions appends options applied to every flow the registry opens.
func WithFlowOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.flowOpts = append(r.flowOpts, opts...)
	}
}

// Registry tracks the mounted screens of this process, keyed by screen id.
type Registry struct {
	ttl           time.Duration
	sweepInterval time.Duration
	maxScreens    int
	logger        *zap.Logger
	now           func() time.Time
	flowOpts      []Option

	mu      sync.Mutex
	flows   map[string]*Flow
	entropy io.Reader
	closed  bool

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		ttl:           defaultScreenTTL,
		sweepInterval: defaultSweepInterval,
		logger:        zap.NewNop(),
		now:           time.Now,
		flows:         make(map[string]*Flow),
		entropy:       ulid.Monotonic(rand.Reader, 0),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Open mints a screen id, registers a new flow and mounts it.
func (r *Registry) Open(ctx context.Context, client SettingsClient) (*Flow, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	now := r.now()
	id, err := ulid.New(ulid.Timestamp(now), r.entropy)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	var evicted *Flow
	if r.maxScreens > 0 && len(r.flows) >= r.maxScreens {
		evicted = r.oldestLocked()
		if evicted != nil {
			delete(r.flows, evicted.ID())
		}
	}

	opts := make([]Option, 0, len(r.flowOpts)+2)
	opts = append(opts, WithLogger(r.logger), WithClock(r.now))
	opts = append(opts, r.flowOpts...)
	flow := New(id.String(), client, opts...)
	r.flows[flow.ID()] = flow
	r.mu.Unlock()

	if evicted != nil {
		evicted.Unmount()
		r.logger.Info("login screen evicted at capacity",
			zap.String("screen_id", evicted.ID()),
			zap.Int("max_screens", r.maxScreens),
		)
	}

	flow.Mount(ctx)
	return flow, nil
}

// Get returns a live screen.
func (r *Registry) Get(id string) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flow, ok := r.flows[id]
	return flow, ok
}

// Close unmounts and forgets a screen. It reports whether the id was known.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	flow, ok := r.flows[id]
	if ok {
		delete(r.flows, id)
	}
	r.mu.Unlock()

	if ok {
		flow.Unmount()
	}
	return ok
}

// Len returns the number of live screens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Sweep unmounts screens idle for longer than the TTL and returns how many
// were removed.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	var expired []*Flow
	for id, flow := range r.flows {
		if flow.LastActive().Before(cutoff) {
			expired = append(expired, flow)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, flow := range expired {
		flow.Unmount()
	}
	return len(expired)
}

// Start runs the idle janitor until ctx ends or Shutdown is called.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				if removed := r.Sweep(r.now()); removed > 0 {
					r.logger.Info("swept idle login screens",
						zap.Int("removed", removed),
						zap.Int("remaining", r.Len()),
					)
				}
			}
		}
	}()
}

// Shutdown stops the janitor and unmounts every screen. Open fails afterwards.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()

	r.mu.Lock()
	r.closed = true
	flows := make([]*Flow, 0, len(r.flows))
	for id, flow := range r.flows {
		flows = append(flows, flow)
		delete(r.flows, id)
	}
	r.mu.Unlock()

	for _, flow := range flows {
		flow.Unmount()
	}
}

func (r *Registry) oldestLocked() *Flow {
	var oldest *Flow
	var oldestAt time.Time
	for _, flow := range r.flows {
		at := flow.LastActive()
		if oldest == nil || at.Before(oldestAt) {
			oldest, oldestAt = flow, at
		}
	}
	return oldest
}
