package middleware

import (
	"net/http"
	"time"

	"finitefield.org/hanko-login/internal/login/i18n"
)

// LangCookieName stores an explicit language choice.
const LangCookieName = "lang"

// Locale negotiates the response language from the ?lang= query, the lang
// cookie and finally Accept-Language, and stores it on the request context.
func Locale(bundle *i18n.Bundle) func(http.Handler) http.Handler {
	if bundle == nil {
		panic("i18n bundle is required")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Accept-Language")

			lang := ""
			if q, ok := bundle.Match(r.URL.Query().Get("lang")); ok {
				lang = q
				http.SetCookie(w, &http.Cookie{
					Name:     LangCookieName,
					Value:    lang,
					Path:     "/",
					MaxAge:   int((365 * 24 * time.Hour).Seconds()),
					SameSite: http.SameSiteLaxMode,
				})
			} else if c, err := r.Cookie(LangCookieName); err == nil {
				if matched, ok := bundle.Match(c.Value); ok {
					lang = matched
				}
			}
			if lang == "" {
				lang = bundle.Resolve(r.Header.Get("Accept-Language"))
			}

			next.ServeHTTP(w, r.WithContext(i18n.WithLang(r.Context(), lang)))
		})
	}
}
