package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const htmxContextKey contextKey = "htmx.info"

// HTMXInfo is what the login fragments need to know about an htmx request.
type HTMXInfo struct {
	IsHTMX bool
	// Target is the id of the element being swapped, e.g. "signup-slot".
	Target string
}

// HTMX annotates the context with the HX-Request and HX-Target headers.
func HTMX() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := HTMXInfo{
				IsHTMX: strings.EqualFold(r.Header.Get("HX-Request"), "true"),
				Target: r.Header.Get("HX-Target"),
			}
			w.Header().Add("Vary", "HX-Request")

			ctx := context.WithValue(r.Context(), htmxContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HTMXInfoFromContext retrieves HTMX metadata; returns zero value if absent.
func HTMXInfoFromContext(ctx context.Context) HTMXInfo {
	info, _ := ctx.Value(htmxContextKey).(HTMXInfo)
	return info
}

// IsHTMXRequest returns true when the current request was initiated by htmx.
func IsHTMXRequest(ctx context.Context) bool {
	return HTMXInfoFromContext(ctx).IsHTMX
}

// Redirect sends htmx clients an HX-Redirect and everyone else a 303.
func Redirect(w http.ResponseWriter, r *http.Request, target string) {
	if IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// Refresh asks htmx to reload the whole page and answers with status.
func Refresh(w http.ResponseWriter, status int) {
	w.Header().Set("HX-Refresh", "true")
	http.Error(w, http.StatusText(status), status)
}

// Trigger sets HX-Trigger so the page receives event with detail once the
// response is swapped in. It must run before the body is written.
func Trigger(w http.ResponseWriter, event string, detail any) error {
	payload, err := json.Marshal(map[string]any{event: detail})
	if err != nil {
		return err
	}
	w.Header().Set("HX-Trigger", string(payload))
	return nil
}
