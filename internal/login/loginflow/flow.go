package loginflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"finitefield.org/hanko-login/internal/login/settings"
	"finitefield.org/hanko-login/internal/login/theme"
)

var errNoSettings = errors.New("loginflow: settings client not configured")

// Option customises a Flow.
type Option func(*Flow)

// WithFetchTimeout bounds the signup flag lookup. Zero leaves it unbounded.
func WithFetchTimeout(d time.Duration) Option {
	return func(f *Flow) {
		if d >= 0 {
			f.fetchTimeout = d
		}
	}
}

// WithLogger sets the logger used for lookup diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock overrides the time source used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) {
		if now != nil {
			f.now = now
		}
	}
}

// Flow is the state of one mounted login screen.
type Flow struct {
	id           string
	settings     SettingsClient
	logger       *zap.Logger
	now          func() time.Time
	fetchTimeout time.Duration

	mu            sync.Mutex
	mounted       bool
	unmounted     bool
	creds         Credentials
	signupAllowed bool
	phase         Phase
	outcome       FetchOutcome
	lastActive    time.Time
	cancel        context.CancelFunc

	resolved chan struct{}
	done     chan struct{}
}

// New prepares an unmounted screen. client may be nil, in which case the
// lookup settles as a failure on mount.
func New(id string, client SettingsClient, opts ...Option) *Flow {
	f := &Flow{
		id:       id,
		settings: client,
		logger:   zap.NewNop(),
		now:      time.Now,
		resolved: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.lastActive = f.now()
	return f
}

// ID returns the screen id.
func (f *Flow) ID() string {
	return f.id
}

// Mount starts the signup flag lookup. Only the first call on a flow has any
// effect. The lookup is detached from ctx cancellation so it survives the
// request that mounted the screen; it ends at Unmount instead.
func (f *Flow) Mount(ctx context.Context) {
	f.mu.Lock()
	if f.mounted || f.unmounted {
		f.mu.Unlock()
		return
	}
	f.mounted = true
	f.lastActive = f.now()

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if f.fetchTimeout > 0 {
		var cancelTimeout context.CancelFunc
		fetchCtx, cancelTimeout = context.WithTimeout(fetchCtx, f.fetchTimeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}
	f.cancel = cancel
	f.mu.Unlock()

	go f.fetch(fetchCtx)
}

// Unmount tears the screen down: a pending lookup is cancelled and its result
// will be ignored, and the typed credentials are dropped. Safe to call twice.
func (f *Flow) Unmount() {
	f.mu.Lock()
	if f.unmounted {
		f.mu.Unlock()
		return
	}
	f.unmounted = true
	if f.phase == PhaseSignupUnknown && f.mounted {
		f.outcome = OutcomeDiscarded
	}
	f.creds = Credentials{}
	cancel := f.cancel
	f.cancel = nil
	close(f.done)
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Mounted reports whether the screen is live.
func (f *Flow) Mounted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted && !f.unmounted
}

// Done is closed once the screen is unmounted.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// SetField replaces one half of the credential pair. Values are stored as
// given; no format checks are applied. Edits after unmount are ignored.
func (f *Flow) SetField(field Field, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unmounted {
		return
	}
	switch field {
	case FieldIdentifier:
		f.creds.Identifier = value
	case FieldSecret:
		f.creds.Secret = value
	default:
		return
	}
	f.lastActive = f.now()
}

// Credentials returns the current pair.
func (f *Flow) Credentials() Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds
}

// SignupAllowed is false until the lookup resolves to exactly "enabled".
func (f *Flow) SignupAllowed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signupAllowed
}

// Phase returns the lookup phase.
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// Outcome returns how the lookup settled.
func (f *Flow) Outcome() FetchOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome
}

// Resolved is closed when the lookup settles while the screen is mounted.
func (f *Flow) Resolved() <-chan struct{} {
	return f.resolved
}

// WaitResolved blocks until the lookup settles, the screen is unmounted or ctx
// ends. It reports whether the lookup settled.
func (f *Flow) WaitResolved(ctx context.Context) bool {
	select {
	case <-f.resolved:
		return true
	default:
	}
	select {
	case <-f.resolved:
		return true
	case <-f.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Submit hands the current credentials to auth. The flow does not inspect or
// wait for the outcome beyond the call itself.
func (f *Flow) Submit(auth AuthCollaborator) error {
	if auth == nil {
		return ErrNoCollaborator
	}
	f.mu.Lock()
	if f.unmounted {
		f.mu.Unlock()
		return ErrUnmounted
	}
	creds := f.creds
	f.lastActive = f.now()
	f.mu.Unlock()

	auth.HandleLogin(creds)
	return nil
}

// ToggleTheme delegates to the theme controller.
func (f *Flow) ToggleTheme(ctrl ThemeController) error {
	f.mu.Lock()
	if f.unmounted {
		f.mu.Unlock()
		return ErrUnmounted
	}
	f.lastActive = f.now()
	f.mu.Unlock()

	if ctrl != nil {
		ctrl.ToggleColorMode()
	}
	return nil
}

// View snapshots what the renderer needs. ctrl may be nil, in which case the
// light mode is reported.
func (f *Flow) View(ctrl ThemeController) View {
	mode := theme.ModeLight
	if ctrl != nil {
		mode = ctrl.Mode()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return View{
		ScreenID:      f.id,
		Identifier:    f.creds.Identifier,
		SignupAllowed: f.signupAllowed,
		Resolved:      f.phase == PhaseSignupResolved,
		Mode:          mode,
	}
}

// LastActive returns the time of the most recent interaction.
func (f *Flow) LastActive() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActive
}

func (f *Flow) fetch(ctx context.Context) {
	start := f.now()
	toggle, err := f.lookup(ctx)
	f.settle(toggle, err, f.now().Sub(start))
}

func (f *Flow) lookup(ctx context.Context) (toggle settings.Toggle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			toggle = settings.ToggleUnknown
			err = fmt.Errorf("loginflow: settings client panicked: %v", rec)
		}
	}()
	if f.settings == nil {
		return settings.ToggleUnknown, errNoSettings
	}
	return f.settings.Toggle(ctx, settings.KeyAllowSignup)
}

func (f *Flow) settle(toggle settings.Toggle, err error, latency time.Duration) {
	f.mu.Lock()
	if f.unmounted || f.phase == PhaseSignupResolved {
		f.mu.Unlock()
		f.logger.Debug("signup flag result discarded",
			zap.String("screen_id", f.id),
			zap.Duration("latency", latency),
		)
		return
	}

	switch {
	case err != nil:
		f.outcome = OutcomeFailed
	case toggle.Enabled():
		f.outcome = OutcomeEnabled
	default:
		f.outcome = OutcomeDisabled
	}
	f.signupAllowed = err == nil && toggle.Enabled()
	f.phase = PhaseSignupResolved
	cancel := f.cancel
	f.cancel = nil
	close(f.resolved)
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err != nil {
		f.logger.Warn("signup flag lookup failed",
			zap.String("screen_id", f.id),
			zap.String("key", settings.KeyAllowSignup),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return
	}
	f.logger.Debug("signup flag resolved",
		zap.String("screen_id", f.id),
		zap.Stringer("value", toggle),
		zap.Duration("latency", latency),
	)
}
