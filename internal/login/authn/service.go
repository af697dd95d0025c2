// Package authn signs visitors in on behalf of the login screen.
package authn

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/hanko-login/internal/login/httpserver/middleware"
	"finitefield.org/hanko-login/internal/login/i18n"
	"finitefield.org/hanko-login/internal/login/loginflow"
	"finitefield.org/hanko-login/internal/login/observability"
	appsession "finitefield.org/hanko-login/internal/login/session"
	"finitefield.org/hanko-login/internal/login/templates/login"
)

// Config wires the collaborators of Service.
type Config struct {
	Passwords PasswordVerifier
	// Tokens, when set, re-verifies the ID token returned by Passwords to
	// resolve roles from its claims.
	Tokens TokenVerifier
	Bundle *i18n.Bundle

	BasePath    string
	LoginPath   string
	SuccessPath string
}

// Service is the authentication collaborator of the login screen. It signs
// the visitor in, writes the session and navigates away, or reports why it
// could not.
type Service struct {
	passwords   PasswordVerifier
	tokens      TokenVerifier
	bundle      *i18n.Bundle
	basePath    string
	loginPath   string
	successPath string
}

// NewService validates cfg and fills in path defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Passwords == nil {
		return nil, errors.New("authn: password verifier is required")
	}
	if cfg.Bundle == nil {
		return nil, errors.New("authn: i18n bundle is required")
	}
	base := normalizeBase(cfg.BasePath)
	loginPath := strings.TrimSpace(cfg.LoginPath)
	if loginPath == "" {
		loginPath = joinBase(base, "login")
	}
	successPath := sanitizeNext(base, cfg.SuccessPath)
	if successPath == "" {
		successPath = base
	}
	return &Service{
		passwords:   cfg.Passwords,
		tokens:      cfg.Tokens,
		bundle:      cfg.Bundle,
		basePath:    base,
		loginPath:   loginPath,
		successPath: successPath,
	}, nil
}

// LoginPath returns the login screen path.
func (s *Service) LoginPath() string { return s.loginPath }

// Bind returns the collaborator for one submit request. The form must already
// be parsed.
func (s *Service) Bind(w http.ResponseWriter, r *http.Request) loginflow.AuthCollaborator {
	return loginflow.AuthCollaboratorFunc(func(creds loginflow.Credentials) {
		s.handleLogin(w, r, creds)
	})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request, creds loginflow.Credentials) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	result, err := s.passwords.SignInWithPassword(ctx, creds.Identifier, creds.Secret)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	user := &User{UID: result.UID, Email: result.Email}
	if s.tokens != nil {
		verified, err := s.tokens.Verify(ctx, result.IDToken)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if verified.Email == "" {
			verified.Email = user.Email
		}
		user = verified
	}
	if user.Email == "" {
		user.Email = strings.TrimSpace(creds.Identifier)
	}

	if sess, ok := middleware.SessionFromContext(ctx); ok {
		sess.SetUser(&appsession.User{
			UID:   user.UID,
			Email: user.Email,
			Roles: append([]string(nil), user.Roles...),
		})
		if result.RefreshToken != "" {
			sess.SetRefreshToken(result.RefreshToken)
		}
	}

	logger.Info("login succeeded", zap.String("uid", user.UID))
	middleware.Redirect(w, r, s.RedirectTarget(r.PostFormValue("next")))
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	reason := ReasonOf(err)
	status := StatusFor(reason)
	logger := observability.FromContext(r.Context())
	if reason == ReasonUnavailable {
		logger.Error("login failed", zap.String("reason", reason), zap.Error(err))
	} else {
		logger.Warn("login failed", zap.String("reason", reason), zap.Error(err))
	}

	if !middleware.IsHTMXRequest(r.Context()) {
		target := withQuery(s.loginPath, map[string]string{
			"error": reason,
			"next":  s.normalizeNext(r.PostFormValue("next")),
		})
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	banner := login.ErrorBanner(s.ErrorData(i18n.LangFromContext(r.Context()), reason))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := banner.Render(r.Context(), w); err != nil {
		logger.Error("render error banner", zap.Error(err))
	}
}

// ErrorData localizes a failure reason for the error banner. Unknown reasons
// render the generic message.
func (s *Service) ErrorData(lang, reason string) login.ErrorData {
	if reason == "" {
		return login.ErrorData{}
	}
	key := "errors.generic"
	if KnownReason(reason) {
		key = "errors." + reason
	}
	return login.ErrorData{Reason: reason, Message: s.bundle.T(lang, key)}
}

// Logout clears the session and returns to the login screen.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		sess.Destroy()
	}
	middleware.Redirect(w, r, withQuery(s.loginPath, map[string]string{"status": "logged_out"}))
}

// RedirectTarget returns the sanitized next target or the success path.
func (s *Service) RedirectTarget(raw string) string {
	if next := s.normalizeNext(raw); next != "" {
		return next
	}
	return s.successPath
}

// NormalizeNext sanitizes a next target for embedding in the login form.
func (s *Service) NormalizeNext(raw string) string {
	return s.normalizeNext(raw)
}

func (s *Service) normalizeNext(raw string) string {
	sanitized := sanitizeNext(s.basePath, raw)
	if sanitized == "" {
		return ""
	}
	if samePath(pathOnly(sanitized), s.loginPath) {
		return ""
	}
	return sanitized
}

// SignedIn reports whether the request carries a signed-in session.
func SignedIn(r *http.Request) bool {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		return false
	}
	user := sess.User()
	return user != nil && strings.TrimSpace(user.UID) != ""
}

// RequireUser sends visitors without a signed-in session to the login screen,
// remembering where they were headed.
func RequireUser(loginPath string) func(http.Handler) http.Handler {
	if strings.TrimSpace(loginPath) == "" {
		loginPath = "/login"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if SignedIn(r) {
				next.ServeHTTP(w, r)
				return
			}
			if middleware.IsHTMXRequest(r.Context()) {
				w.Header().Set("HX-Redirect", loginPath)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			target := withQuery(loginPath, map[string]string{"next": r.URL.RequestURI()})
			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}

func joinBase(base, leaf string) string {
	if base == "/" {
		return "/" + leaf
	}
	return base + "/" + leaf
}
