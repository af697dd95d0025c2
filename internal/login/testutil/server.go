package testutil

import (
	"net/http/httptest"
	"testing"
	"time"

	"finitefield.org/hanko-login/internal/login/authn"
	"finitefield.org/hanko-login/internal/login/httpserver"
	"finitefield.org/hanko-login/internal/login/i18n"
	"finitefield.org/hanko-login/internal/login/loginflow"
	"finitefield.org/hanko-login/internal/login/session"
	"finitefield.org/hanko-login/internal/login/settings"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithSettings overrides the source of the signup flag.
func WithSettings(client loginflow.SettingsClient) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Settings = client
	}
}

// WithPasswordVerifier overrides the sign-in backend.
func WithPasswordVerifier(v authn.PasswordVerifier) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Passwords = v
	}
}

// WithBasePath sets a custom base path for the login routes.
func WithBasePath(path string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.BasePath = path
	}
}

// WithRegistry lets a test inspect the mounted screens.
func WithRegistry(reg *loginflow.Registry) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Registry = reg
	}
}

// WithSignupWait bounds how long the signup fragment waits for the flag.
func WithSignupWait(d time.Duration) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.SignupWait = d
	}
}

// NewServer constructs an httptest server running the login HTTP stack with
// sensible defaults: signup enabled and a development password verifier.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	bundle, err := i18n.Load("en")
	if err != nil {
		t.Fatalf("load i18n: %v", err)
	}
	sessions, err := session.NewManager(session.Config{
		CookieName: "login_session",
		HashKey:    []byte("12345678901234567890123456789012"),
		BlockKey:   []byte("abcdefghijklmnopqrstuvwxyzABCDEF"),
		Lifetime:   time.Hour,
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	cfg := httpserver.Config{
		Address:        ":0",
		BasePath:       "/",
		Bundle:         bundle,
		Sessions:       sessions,
		Settings:       settings.NewToggleReader(settings.NewStaticClient(map[string]string{settings.KeyAllowSignup: "enabled"})),
		Passwords:      authn.DevVerifier{},
		Tokens:         authn.DevVerifier{},
		CSRFCookieName: "csrf_token",
		CSRFHeaderName: "X-CSRF-Token",
		AppName:        "Hanko Field",
		ContactURL:     "https://wa.me/5500000000000",
		SignupWait:     time.Second,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Registry == nil {
		cfg.Registry = loginflow.NewRegistry()
	}
	t.Cleanup(cfg.Registry.Shutdown)

	srv, err := httpserver.New(cfg)
	if err != nil {
		t.Fatalf("httpserver: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}
