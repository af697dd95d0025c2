package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"finitefield.org/hanko-login/internal/login/authn"
	"finitefield.org/hanko-login/internal/login/config"
	"finitefield.org/hanko-login/internal/login/httpserver"
	custommw "finitefield.org/hanko-login/internal/login/httpserver/middleware"
	"finitefield.org/hanko-login/internal/login/i18n"
	"finitefield.org/hanko-login/internal/login/loginflow"
	"finitefield.org/hanko-login/internal/login/observability"
	"finitefield.org/hanko-login/internal/login/secrets"
	"finitefield.org/hanko-login/internal/login/session"
	"finitefield.org/hanko-login/internal/login/settings"
	"finitefield.org/hanko-login/internal/login/theme"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger(os.Getenv("LOGIN_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("login")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(os.Getenv("LOGIN_FIREBASE_PROJECT_ID")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var app *firebase.App
	if cfg.Firebase.ProjectID != "" {
		app, err = firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID})
		if err != nil {
			logger.Fatal("failed to initialise firebase app", zap.Error(err))
		}
	}

	source, closeSource, err := buildSettings(ctx, cfg, app)
	if err != nil {
		logger.Fatal("failed to initialise settings backend", zap.Error(err), zap.String("backend", cfg.Settings.Backend))
	}
	defer closeSource()
	source = settings.Instrument(source, logger.Named("settings"), settings.WithLookupTimeout(cfg.Settings.FetchTimeout))

	passwords, tokens, err := buildVerifiers(ctx, cfg, app, logger)
	if err != nil {
		logger.Fatal("failed to initialise authentication", zap.Error(err))
	}

	bundle, err := i18n.Load(cfg.UI.DefaultLocale)
	if err != nil {
		logger.Fatal("failed to load translations", zap.Error(err))
	}

	sessions, err := session.NewManager(session.Config{
		CookieName:   cfg.Session.CookieName,
		HashKey:      []byte(cfg.Session.HashKey),
		BlockKey:     []byte(cfg.Session.BlockKey),
		CookiePath:   custommw.NormaliseBase(cfg.Server.BasePath),
		CookieSecure: cfg.Session.Secure,
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	registry := loginflow.NewRegistry(
		loginflow.WithTTL(cfg.Screens.TTL),
		loginflow.WithSweepInterval(cfg.Screens.SweepInterval),
		loginflow.WithMaxScreens(cfg.Screens.MaxScreens),
		loginflow.WithRegistryLogger(logger.Named("screens")),
		loginflow.WithFlowOptions(loginflow.WithFetchTimeout(cfg.Settings.FetchTimeout)),
	)

	defaultTheme, _ := theme.ParseMode(cfg.UI.DefaultTheme)
	srv, err := httpserver.New(httpserver.Config{
		Address:          cfg.Server.Addr,
		BasePath:         cfg.Server.BasePath,
		Logger:           logger,
		Bundle:           bundle,
		Sessions:         sessions,
		Registry:         registry,
		Settings:         settings.NewToggleReader(source),
		Passwords:        passwords,
		Tokens:           tokens,
		SuccessPath:      cfg.UI.SuccessPath,
		CSRFCookieSecure: cfg.Session.Secure,
		AppName:          cfg.UI.AppName,
		ContactURL:       cfg.UI.ContactURL,
		ContactLabel:     cfg.UI.ContactLabel,
		SignupPath:       cfg.UI.SignupPath,
		DefaultTheme:     defaultTheme,
		SignupWait:       cfg.Server.SignupWait,
		RequestTimeout:   cfg.Server.RequestTimeout,
	})
	if err != nil {
		logger.Fatal("failed to build http server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	logger.Info("login server listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("environment", cfg.Server.Environment),
		zap.String("settings_backend", cfg.Settings.Backend),
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	registry.Shutdown()
	logger.Info("login server stopped")
}

func buildSettings(ctx context.Context, cfg config.Config, app *firebase.App) (settings.Client, func(), error) {
	noop := func() {}
	switch cfg.Settings.Backend {
	case config.BackendHTTP:
		client, err := settings.NewHTTPClient(cfg.Settings.BaseURL, nil)
		return client, noop, err
	case config.BackendFirestore:
		if app == nil {
			return nil, noop, errors.New("firestore backend requires a firebase project")
		}
		fs, err := app.Firestore(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("firestore client: %w", err)
		}
		client, err := settings.NewFirestoreClient(fs, cfg.Settings.Collection)
		if err != nil {
			_ = fs.Close()
			return nil, noop, err
		}
		return client, func() { _ = fs.Close() }, nil
	case config.BackendPostgres:
		db, err := settings.OpenPostgres(ctx, cfg.Settings.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return settings.NewPostgresClient(db), func() { _ = db.Close() }, nil
	default:
		values, err := settings.ParseStatic(cfg.Settings.Static)
		if err != nil {
			return nil, noop, err
		}
		return settings.NewStaticClient(values), noop, nil
	}
}

func buildVerifiers(ctx context.Context, cfg config.Config, app *firebase.App, logger *zap.Logger) (authn.PasswordVerifier, authn.TokenVerifier, error) {
	if cfg.Firebase.APIKey == "" {
		logger.Warn("LOGIN_FIREBASE_API_KEY not set; using development verifier")
		return authn.DevVerifier{}, authn.DevVerifier{}, nil
	}

	passwords, err := authn.NewIdentityToolkitClient(cfg.Firebase.APIKey, cfg.Firebase.IdentityToolkitURL, nil)
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		logger.Info("firebase project not set; ID tokens are not re-verified")
		return passwords, nil, nil
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("firebase auth client: %w", err)
	}
	logger.Info("firebase authentication enabled", zap.String("project", cfg.Firebase.ProjectID))
	return passwords, authn.NewFirebaseVerifier(client), nil
}
