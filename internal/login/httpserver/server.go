package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/hanko-login/internal/login/authn"
	custommw "finitefield.org/hanko-login/internal/login/httpserver/middleware"
	"finitefield.org/hanko-login/internal/login/i18n"
	"finitefield.org/hanko-login/internal/login/loginflow"
	"finitefield.org/hanko-login/internal/login/observability"
	"finitefield.org/hanko-login/internal/login/theme"
	"finitefield.org/hanko-login/public"
)

const (
	defaultSignupWait     = 5 * time.Second
	defaultRequestTimeout = 60 * time.Second
	staticPrefix          = "/public/static"
)

// Config holds runtime options for the login HTTP server.
type Config struct {
	Address  string
	BasePath string
	Logger   *zap.Logger

	Bundle   *i18n.Bundle
	Sessions custommw.SessionStore
	Registry *loginflow.Registry
	Settings loginflow.SettingsClient

	Passwords   authn.PasswordVerifier
	Tokens      authn.TokenVerifier
	SuccessPath string

	CSRFCookieName   string
	CSRFHeaderName   string
	CSRFCookieSecure bool

	AppName      string
	ContactURL   string
	ContactLabel string
	SignupPath   string
	DefaultTheme theme.Mode

	// SignupWait bounds how long the signup fragment holds the request open
	// for a pending lookup before answering with a re-poll.
	SignupWait     time.Duration
	RequestTimeout time.Duration
}

// New constructs the HTTP server with middleware stack and embedded assets.
func New(cfg Config) (*http.Server, error) {
	if cfg.Bundle == nil {
		return nil, errors.New("httpserver: i18n bundle is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("httpserver: session store is required")
	}
	if cfg.Passwords == nil {
		return nil, errors.New("httpserver: password verifier is required")
	}

	basePath := custommw.NormaliseBase(cfg.BasePath)
	auth, err := authn.NewService(authn.Config{
		Passwords:   cfg.Passwords,
		Tokens:      cfg.Tokens,
		Bundle:      cfg.Bundle,
		BasePath:    basePath,
		SuccessPath: cfg.SuccessPath,
	})
	if err != nil {
		return nil, err
	}

	registry := cfg.Registry
	if registry == nil {
		registry = loginflow.NewRegistry(loginflow.WithRegistryLogger(cfg.Logger))
	}

	staticContent, err := public.StaticFS()
	if err != nil {
		return nil, fmt.Errorf("httpserver: embed static: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.InjectLogger(cfg.Logger))
	router.Use(observability.Trace())
	router.Use(observability.RequestLogger())
	router.Use(observability.Recovery())
	router.Use(chimw.Timeout(timeout))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle(staticPrefix+"/*", http.StripPrefix(staticPrefix+"/", http.FileServer(http.FS(staticContent))))

	handlers := &loginHandlers{
		auth:         auth,
		bundle:       cfg.Bundle,
		registry:     registry,
		settings:     cfg.Settings,
		basePath:     basePath,
		appName:      firstNonEmpty(cfg.AppName, "Hanko Field"),
		contactURL:   strings.TrimSpace(cfg.ContactURL),
		contactLabel: strings.TrimSpace(cfg.ContactLabel),
		signupPath:   firstNonEmpty(cfg.SignupPath, joinPath(basePath, "signup")),
		defaultTheme: cfg.DefaultTheme,
		signupWait:   cfg.SignupWait,
	}
	if handlers.signupWait <= 0 {
		handlers.signupWait = defaultSignupWait
	}
	if _, ok := theme.ParseMode(string(handlers.defaultTheme)); !ok {
		handlers.defaultTheme = theme.ModeLight
	}

	csrfCfg := custommw.CSRFConfig{
		CookieName: cfg.CSRFCookieName,
		CookiePath: basePath,
		HeaderName: cfg.CSRFHeaderName,
		Secure:     cfg.CSRFCookieSecure,
	}

	mountLoginRoutes(router, basePath, routeOptions{
		Handlers: handlers,
		Sessions: cfg.Sessions,
		Bundle:   cfg.Bundle,
		CSRF:     csrfCfg,
	})

	return &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, nil
}

type routeOptions struct {
	Handlers *loginHandlers
	Sessions custommw.SessionStore
	Bundle   *i18n.Bundle
	CSRF     custommw.CSRFConfig
}

func mountLoginRoutes(router chi.Router, base string, opts routeOptions) {
	h := opts.Handlers
	router.Route(base, func(r chi.Router) {
		r.Use(custommw.RequestInfoMiddleware(base))
		r.Use(custommw.HTMX())
		r.Use(custommw.Locale(opts.Bundle))
		r.Use(custommw.Session(opts.Sessions))
		r.Use(custommw.CSRF(opts.CSRF))
		r.Use(custommw.NoStore())

		r.With(authn.RequireUser(h.auth.LoginPath())).Get("/", h.Home)
		r.Get("/login", h.LoginPage)
		r.Post("/logout", h.auth.Logout)

		r.Route("/login/screens/{screenID}", func(r chi.Router) {
			r.Post("/submit", h.Submit)
			r.Post("/theme", h.Theme)

			r.Group(func(r chi.Router) {
				r.Use(custommw.PassiveSession())
				r.Post("/fields", h.Fields)
				r.Get("/signup", h.Signup)
				r.Post("/unmount", h.Unmount)
			})
		})
	})
}

func joinPath(base, leaf string) string {
	leaf = strings.TrimPrefix(leaf, "/")
	if base == "/" {
		return "/" + leaf
	}
	return base + "/" + leaf
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
