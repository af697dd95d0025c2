package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"finitefield.org/hanko-login/internal/login/observability"
)

type csrfContextKey string

const csrfTokenContextKey csrfContextKey = "csrf.token"

// CSRFFormField is the form field accepted when a request cannot carry the
// header, such as a navigator.sendBeacon post or a plain form submit.
const CSRFFormField = "_csrf"

// CSRFConfig controls cookie/header behaviour.
type CSRFConfig struct {
	CookieName string
	CookiePath string
	HeaderName string
	MaxAge     time.Duration
	Secure     bool
}

type csrfGuard struct {
	cookieName string
	cookiePath string
	headerName string
	maxAge     time.Duration
	secure     bool
}

// CSRF protects the login screens with a double-submit token. Safe methods
// make sure the browser holds a token cookie; unsafe methods must echo it in
// the header or the _csrf form field. Browsers that label the request as
// cross-site are turned away before the token is looked at.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	g := csrfGuard{
		cookieName: firstNonEmpty(cfg.CookieName, "login_csrf"),
		cookiePath: firstNonEmpty(cfg.CookiePath, "/"),
		headerName: firstNonEmpty(cfg.HeaderName, "X-CSRF-Token"),
		maxAge:     cfg.MaxAge,
		secure:     cfg.Secure,
	}
	if g.maxAge <= 0 {
		g.maxAge = 24 * time.Hour
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := g.token(w, r)
			if err != nil {
				observability.FromContext(r.Context()).Error("csrf token issue failed", zap.Error(err))
				http.Error(w, "csrf token error", http.StatusInternalServerError)
				return
			}

			if isUnsafeMethod(r.Method) {
				if reason := g.reject(r, token); reason != "" {
					observability.FromContext(r.Context()).Warn("csrf check failed",
						zap.String("reason", reason),
						zap.String("path", r.URL.Path),
					)
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}

			ctx := context.WithValue(r.Context(), csrfTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CSRFTokenFromContext returns the token issued for the current request.
func CSRFTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(csrfTokenContextKey).(string); ok {
		return token
	}
	return ""
}

// token returns the browser's token, issuing a new cookie when it has none.
func (g csrfGuard) token(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(g.cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Path:     g.cookiePath,
		HttpOnly: true,
		Secure:   g.secure || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(g.maxAge.Seconds()),
	})
	return token, nil
}

// reject returns why an unsafe request fails the check, or "" when it passes.
func (g csrfGuard) reject(r *http.Request, token string) string {
	if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
		return "cross_site"
	}
	submitted := r.Header.Get(g.headerName)
	if submitted == "" {
		submitted = r.PostFormValue(CSRFFormField)
	}
	switch {
	case submitted == "":
		return "missing_token"
	case subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1:
		return "token_mismatch"
	}
	return ""
}

func isUnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
