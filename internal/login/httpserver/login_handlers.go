package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/hanko-login/internal/login/authn"
	custommw "finitefield.org/hanko-login/internal/login/httpserver/middleware"
	"finitefield.org/hanko-login/internal/login/i18n"
	"finitefield.org/hanko-login/internal/login/loginflow"
	"finitefield.org/hanko-login/internal/login/observability"
	"finitefield.org/hanko-login/internal/login/theme"
	logintpl "finitefield.org/hanko-login/internal/login/templates/login"
)

const signupRepollDelay = "1s"

var fieldNames = []string{"identifier", "secret"}

type loginHandlers struct {
	auth         *authn.Service
	bundle       *i18n.Bundle
	registry     *loginflow.Registry
	settings     loginflow.SettingsClient
	basePath     string
	appName      string
	contactURL   string
	contactLabel string
	signupPath   string
	defaultTheme theme.Mode
	signupWait   time.Duration
}

// LoginPage mounts a new screen and renders it. Visitors who are already
// signed in are sent on to their target instead.
func (h *loginHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if authn.SignedIn(r) {
		http.Redirect(w, r, h.auth.RedirectTarget(query.Get("next")), http.StatusSeeOther)
		return
	}

	flow, err := h.registry.Open(r.Context(), h.settings)
	if err != nil {
		observability.FromContext(r.Context()).Error("open login screen", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	l := h.localizer(ctx)
	ctrl := h.themeController(ctx)
	view := flow.View(ctrl)

	data := logintpl.PageData{
		Lang:       l.Lang(),
		AppName:    h.appName,
		Title:      l.T("login.title"),
		StaticPath: staticPrefix,
		CSRFToken:  custommw.CSRFTokenFromContext(ctx),
		Next:       h.auth.NormalizeNext(query.Get("next")),
		ScreenID:   view.ScreenID,
		Identifier: view.Identifier,
		FieldsURL:  h.screenURL(view.ScreenID, "fields"),
		SubmitURL:  h.screenURL(view.ScreenID, "submit"),
		UnmountURL: h.screenURL(view.ScreenID, "unmount"),
		Labels: logintpl.Labels{
			Heading:  l.T("login.heading"),
			Email:    l.T("login.form.email"),
			Password: l.T("login.form.password"),
			Submit:   l.T("login.buttons.submit"),
			Footer:   l.T("login.footer"),
		},
		Message: h.statusMessage(l, query.Get("status")),
		Error:   h.auth.ErrorData(l.Lang(), knownReason(query.Get("error"))),
		Theme:   h.themeData(l, view),
		Signup:  h.signupData(l, view, ""),
		Contact: logintpl.ContactData{
			URL:   h.contactURL,
			Label: firstNonEmpty(h.contactLabel, l.T("login.contact")),
		},
	}

	templ.Handler(logintpl.LoginPage(data)).ServeHTTP(w, r)
}

// Fields applies field-change events. htmx posts only the changed input; an
// explicit field/value pair is accepted as well.
func (h *loginHandlers) Fields(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.screen(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if name := r.PostForm.Get("field"); name != "" {
		field, err := loginflow.ParseField(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		flow.SetField(field, r.PostForm.Get("value"))
	} else {
		applyFields(flow, r)
	}

	if !flow.Mounted() {
		gone(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit applies the posted fields and hands the credentials to the
// authentication collaborator bound to this request.
func (h *loginHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.screen(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	applyFields(flow, r)

	if err := flow.Submit(h.auth.Bind(w, r)); err != nil {
		if errors.Is(err, loginflow.ErrUnmounted) {
			gone(w)
			return
		}
		observability.FromContext(r.Context()).Error("submit login", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Signup renders the signup slot once the flag lookup settles, or a
// placeholder that polls again when it is still pending after signupWait.
func (h *loginHandlers) Signup(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.screen(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.signupWait)
	resolved := flow.WaitResolved(ctx)
	cancel()
	if !resolved && !flow.Mounted() {
		gone(w)
		return
	}

	l := h.localizer(r.Context())
	view := flow.View(h.themeController(r.Context()))
	templ.Handler(logintpl.SignupSlot(h.signupData(l, view, signupRepollDelay))).ServeHTTP(w, r)
}

// Theme flips the colour mode and returns the re-rendered toggle.
func (h *loginHandlers) Theme(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.screen(w, r)
	if !ok {
		return
	}
	ctrl := h.themeController(r.Context())
	if err := flow.ToggleTheme(ctrl); err != nil {
		gone(w)
		return
	}

	view := flow.View(ctrl)
	if err := custommw.Trigger(w, "themeChanged", map[string]string{"mode": string(view.Mode)}); err != nil {
		observability.FromContext(r.Context()).Warn("theme trigger", zap.Error(err))
	}
	l := h.localizer(r.Context())
	templ.Handler(logintpl.ThemeToggle(h.themeData(l, view))).ServeHTTP(w, r)
}

// Unmount tears the screen down. Unknown ids are accepted silently since the
// beacon is fire and forget.
func (h *loginHandlers) Unmount(w http.ResponseWriter, r *http.Request) {
	if h.registry.Close(chi.URLParam(r, "screenID")) {
		observability.FromContext(r.Context()).Debug("login screen unmounted",
			zap.String("screen_id", chi.URLParam(r, "screenID")),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Home renders the landing page for signed-in visitors.
func (h *loginHandlers) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := custommw.SessionFromContext(ctx)
	if !ok || sess.User() == nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	user := sess.User()
	l := h.localizer(ctx)

	data := logintpl.HomeData{
		Lang:        l.Lang(),
		AppName:     h.appName,
		Title:       l.T("home.title"),
		StaticPath:  staticPrefix,
		Theme:       string(h.themeController(ctx).Mode()),
		CSRFToken:   custommw.CSRFTokenFromContext(ctx),
		UID:         user.UID,
		Email:       user.Email,
		SignedInAs:  l.T("home.signed_in_as"),
		LogoutURL:   joinPath(h.basePath, "logout"),
		LogoutLabel: l.T("home.logout"),
	}
	templ.Handler(logintpl.HomePage(data)).ServeHTTP(w, r)
}

func (h *loginHandlers) screen(w http.ResponseWriter, r *http.Request) (*loginflow.Flow, bool) {
	flow, ok := h.registry.Get(chi.URLParam(r, "screenID"))
	if !ok || !flow.Mounted() {
		gone(w)
		return nil, false
	}
	return flow, true
}

// gone tells htmx to reload the page, which mounts a fresh screen.
func gone(w http.ResponseWriter) {
	custommw.Refresh(w, http.StatusGone)
}

func applyFields(flow *loginflow.Flow, r *http.Request) {
	for _, name := range fieldNames {
		values, ok := r.PostForm[name]
		if !ok || len(values) == 0 {
			continue
		}
		field, err := loginflow.ParseField(name)
		if err != nil {
			continue
		}
		flow.SetField(field, values[0])
	}
}

func (h *loginHandlers) localizer(ctx context.Context) i18n.Localizer {
	return h.bundle.For(i18n.LangFromContext(ctx))
}

func (h *loginHandlers) themeController(ctx context.Context) *theme.SessionController {
	sess, _ := custommw.SessionFromContext(ctx)
	return theme.FromSession(sess, h.defaultTheme)
}

func (h *loginHandlers) screenURL(id, leaf string) string {
	return joinPath(h.basePath, "login/screens/"+id+"/"+leaf)
}

func (h *loginHandlers) themeData(l i18n.Localizer, view loginflow.View) logintpl.ThemeData {
	label := l.T("theme.to_dark")
	if view.Mode == theme.ModeDark {
		label = l.T("theme.to_light")
	}
	return logintpl.ThemeData{
		Mode:      string(view.Mode),
		ToggleURL: h.screenURL(view.ScreenID, "theme"),
		Label:     label,
	}
}

func (h *loginHandlers) signupData(l i18n.Localizer, view loginflow.View, delay string) logintpl.SignupData {
	return logintpl.SignupData{
		PollURL:   h.screenURL(view.ScreenID, "signup"),
		PollDelay: delay,
		Resolved:  view.Resolved,
		Allowed:   view.SignupAllowed,
		Href:      h.signupPath,
		Label:     l.T("login.buttons.register"),
	}
}

func (h *loginHandlers) statusMessage(l i18n.Localizer, status string) string {
	switch status {
	case "logged_out", "expired":
		return l.T("login.status." + status)
	default:
		return ""
	}
}

func knownReason(reason string) string {
	if authn.KnownReason(reason) {
		return reason
	}
	return ""
}
