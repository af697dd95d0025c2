package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultAddr           = ":8080"
	defaultBasePath       = "/"
	defaultEnvironment    = "local"
	defaultLogLevel       = "info"
	defaultRequestTimeout = 60 * time.Second
	defaultSignupWait     = 5 * time.Second
	defaultCookieName     = "login_session"
	defaultSettingsKind   = BackendStatic
	defaultCollection     = "publicSettings"
	defaultFetchTimeout   = 5 * time.Second
	defaultAppName        = "Hanko Field"
	defaultTheme          = "light"
	defaultLocale         = "pt-BR"
	defaultScreenTTL      = 30 * time.Minute
	defaultSweepInterval  = time.Minute
	defaultMaxScreens     = 10000
)

// Settings backends.
const (
	BackendStatic    = "static"
	BackendHTTP      = "http"
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server   ServerConfig
	Session  SessionConfig
	Settings SettingsConfig
	Firebase FirebaseConfig
	UI       UIConfig
	Screens  ScreenConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string
	BasePath       string
	Environment    string
	LogLevel       string
	RequestTimeout time.Duration
	SignupWait     time.Duration
}

// SessionConfig holds the cookie codec keys.
type SessionConfig struct {
	CookieName string
	HashKey    string
	BlockKey   string
	Secure     bool
}

// SettingsConfig selects where the public settings are read from.
type SettingsConfig struct {
	Backend      string
	BaseURL      string
	// Static holds "key=value,key=value" pairs for the static backend.
	Static       string
	Collection   string
	PostgresDSN  string
	FetchTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID          string
	APIKey             string
	IdentityToolkitURL string
}

// UIConfig customises what the login screen shows.
type UIConfig struct {
	AppName       string
	ContactURL    string
	ContactLabel  string
	SignupPath    string
	SuccessPath   string
	DefaultTheme  string
	DefaultLocale string
}

// ScreenConfig bounds the mounted screen registry.
type ScreenConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
	MaxScreens    int
}

// Local reports whether the service runs on a developer machine.
func (c Config) Local() bool {
	return c.Server.Environment == defaultEnvironment
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take
// precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the configuration from defaults, the .env file, the process
// environment and an explicit map, in increasing precedence. Values written as
// sm:// or secret:// references are resolved through the secret resolver.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	duration := func(key string, fallback time.Duration) time.Duration {
		d, ok := durationWithDefault(lookup, key, fallback)
		if !ok {
			invalid = append(invalid, key)
		}
		return d
	}

	cfg := Config{
		Server: ServerConfig{
			Addr:           stringWithDefault(lookup, "LOGIN_HTTP_ADDR", defaultAddr),
			BasePath:       stringWithDefault(lookup, "LOGIN_BASE_PATH", defaultBasePath),
			Environment:    strings.ToLower(stringWithDefault(lookup, "LOGIN_ENVIRONMENT", defaultEnvironment)),
			LogLevel:       stringWithDefault(lookup, "LOGIN_LOG_LEVEL", defaultLogLevel),
			RequestTimeout: duration("LOGIN_REQUEST_TIMEOUT", defaultRequestTimeout),
			SignupWait:     duration("LOGIN_SIGNUP_WAIT", defaultSignupWait),
		},
		Session: SessionConfig{
			CookieName: stringWithDefault(lookup, "LOGIN_SESSION_COOKIE_NAME", defaultCookieName),
			HashKey:    stringWithDefault(lookup, "LOGIN_SESSION_HASH_KEY", ""),
			BlockKey:   stringWithDefault(lookup, "LOGIN_SESSION_BLOCK_KEY", ""),
			Secure:     boolWithDefault(lookup, "LOGIN_SESSION_SECURE", false),
		},
		Settings: SettingsConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "LOGIN_SETTINGS_BACKEND", defaultSettingsKind)),
			BaseURL:      stringWithDefault(lookup, "LOGIN_SETTINGS_BASE_URL", ""),
			Static:       stringWithDefault(lookup, "LOGIN_SETTINGS_STATIC", ""),
			Collection:   stringWithDefault(lookup, "LOGIN_SETTINGS_COLLECTION", defaultCollection),
			PostgresDSN:  stringWithDefault(lookup, "LOGIN_SETTINGS_POSTGRES_DSN", ""),
			FetchTimeout: duration("LOGIN_SETTINGS_FETCH_TIMEOUT", defaultFetchTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:          stringWithDefault(lookup, "LOGIN_FIREBASE_PROJECT_ID", ""),
			APIKey:             stringWithDefault(lookup, "LOGIN_FIREBASE_API_KEY", ""),
			IdentityToolkitURL: stringWithDefault(lookup, "LOGIN_IDENTITY_TOOLKIT_URL", ""),
		},
		UI: UIConfig{
			AppName:       stringWithDefault(lookup, "LOGIN_APP_NAME", defaultAppName),
			ContactURL:    stringWithDefault(lookup, "LOGIN_CONTACT_URL", ""),
			ContactLabel:  stringWithDefault(lookup, "LOGIN_CONTACT_LABEL", ""),
			SignupPath:    stringWithDefault(lookup, "LOGIN_SIGNUP_PATH", ""),
			SuccessPath:   stringWithDefault(lookup, "LOGIN_SUCCESS_PATH", ""),
			DefaultTheme:  strings.ToLower(stringWithDefault(lookup, "LOGIN_DEFAULT_THEME", defaultTheme)),
			DefaultLocale: stringWithDefault(lookup, "LOGIN_DEFAULT_LOCALE", defaultLocale),
		},
		Screens: ScreenConfig{
			TTL:           duration("LOGIN_SCREEN_TTL", defaultScreenTTL),
			SweepInterval: duration("LOGIN_SCREEN_SWEEP_INTERVAL", defaultSweepInterval),
			MaxScreens:    intWithDefault(lookup, "LOGIN_MAX_SCREENS", defaultMaxScreens),
		},
	}

	secretFields := []*string{
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
		&cfg.Firebase.APIKey,
		&cfg.Settings.PostgresDSN,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := strings.TrimSpace(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		missing = append(missing, "Server.Addr")
	}
	if len(cfg.Session.HashKey) < 32 {
		missing = append(missing, "Session.HashKey")
	}
	switch len(cfg.Session.BlockKey) {
	case 0, 16, 24, 32:
	default:
		missing = append(missing, "Session.BlockKey")
	}

	switch cfg.Settings.Backend {
	case BackendStatic:
	case BackendHTTP:
		if cfg.Settings.BaseURL == "" {
			missing = append(missing, "Settings.BaseURL")
		}
	case BackendFirestore:
		if cfg.Firebase.ProjectID == "" {
			missing = append(missing, "Firebase.ProjectID")
		}
	case BackendPostgres:
		if cfg.Settings.PostgresDSN == "" {
			missing = append(missing, "Settings.PostgresDSN")
		}
	default:
		missing = append(missing, "Settings.Backend")
	}

	if !cfg.Local() && cfg.Firebase.APIKey == "" {
		missing = append(missing, "Firebase.APIKey")
	}
	if cfg.UI.DefaultTheme != "light" && cfg.UI.DefaultTheme != "dark" {
		missing = append(missing, "UI.DefaultTheme")
	}
	if strings.TrimSpace(cfg.UI.DefaultLocale) == "" {
		missing = append(missing, "UI.DefaultLocale")
	}
	if cfg.Screens.TTL <= 0 {
		missing = append(missing, "Screens.TTL")
	}
	if cfg.Screens.SweepInterval <= 0 {
		missing = append(missing, "Screens.SweepInterval")
	}
	if cfg.Screens.MaxScreens < 0 {
		missing = append(missing, "Screens.MaxScreens")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

// durationWithDefault reports ok=false when a value is present but unparsable
// or negative.
func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, bool) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, true
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d < 0 {
		return fallback, false
	}
	return d, true
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
