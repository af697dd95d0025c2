package authn_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finitefield.org/hanko-login/internal/login/authn"
	"finitefield.org/hanko-login/internal/login/httpserver/middleware"
	"finitefield.org/hanko-login/internal/login/i18n"
	"finitefield.org/hanko-login/internal/login/loginflow"
	appsession "finitefield.org/hanko-login/internal/login/session"
	"finitefield.org/hanko-login/internal/login/testutil"
)

type stubPasswords struct {
	result *authn.SignInResult
	err    error
	calls  []loginflow.Credentials
}

func (s *stubPasswords) SignInWithPassword(_ context.Context, identifier, secret string) (*authn.SignInResult, error) {
	s.calls = append(s.calls, loginflow.Credentials{Identifier: identifier, Secret: secret})
	return s.result, s.err
}

type stubTokens struct {
	user *authn.User
	err  error
}

func (s stubTokens) Verify(context.Context, string) (*authn.User, error) {
	return s.user, s.err
}

type serviceFixture struct {
	svc   *authn.Service
	store *appsession.Manager
}

func newServiceFixture(t *testing.T, cfg authn.Config) *serviceFixture {
	t.Helper()
	bundle, err := i18n.Load("en")
	require.NoError(t, err)
	cfg.Bundle = bundle
	svc, err := authn.NewService(cfg)
	require.NoError(t, err)

	store, err := appsession.NewManager(appsession.Config{
		CookieName: "login_session",
		HashKey:    []byte("12345678901234567890123456789012"),
		BlockKey:   []byte("abcdefghijklmnopqrstuvwxyzABCDEF"),
		Lifetime:   time.Hour,
	})
	require.NoError(t, err)
	return &serviceFixture{svc: svc, store: store}
}

// submitHandler mirrors the submit route: parse the form, then hand the
// credentials to the collaborator bound to this request.
func (f *serviceFixture) submitHandler() http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r = r.WithContext(i18n.WithLang(r.Context(), "en"))
		f.svc.Bind(w, r).HandleLogin(loginflow.Credentials{
			Identifier: r.PostFormValue("identifier"),
			Secret:     r.PostFormValue("secret"),
		})
	})
	return middleware.HTMX()(middleware.Session(f.store)(h))
}

func (f *serviceFixture) sessionUser(t *testing.T, rec *httptest.ResponseRecorder) *appsession.User {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	sess, err := f.store.Load(req)
	require.NoError(t, err)
	if sess == nil {
		return nil
	}
	return sess.User()
}

func postLogin(next string, htmx bool) *http.Request {
	form := url.Values{"identifier": {"ana@example.com"}, "secret": {"s3cret"}}
	if next != "" {
		form.Set("next", next)
	}
	req := httptest.NewRequest(http.MethodPost, "/login/screens/x/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return req
}

func TestServiceLoginSuccessHTMX(t *testing.T) {
	passwords := &stubPasswords{result: &authn.SignInResult{
		UID: "uid-1", Email: "ana@example.com", IDToken: "tok", RefreshToken: "refresh",
	}}
	f := newServiceFixture(t, authn.Config{Passwords: passwords})

	rec := httptest.NewRecorder()
	f.submitHandler().ServeHTTP(rec, postLogin("/orders?id=7", true))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "/orders?id=7", rec.Header().Get("HX-Redirect"))
	require.Equal(t, []loginflow.Credentials{{Identifier: "ana@example.com", Secret: "s3cret"}}, passwords.calls)

	user := f.sessionUser(t, rec)
	require.NotNil(t, user)
	require.Equal(t, "uid-1", user.UID)
	require.Equal(t, "ana@example.com", user.Email)
}

func TestServiceLoginSuccessUsesVerifiedRoles(t *testing.T) {
	f := newServiceFixture(t, authn.Config{
		Passwords:   &stubPasswords{result: &authn.SignInResult{UID: "uid-1", IDToken: "tok"}},
		Tokens:      stubTokens{user: &authn.User{UID: "uid-1", Roles: []string{"staff"}}},
		SuccessPath: "/home",
	})

	rec := httptest.NewRecorder()
	f.submitHandler().ServeHTTP(rec, postLogin("https://evil.example/", false))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/home", rec.Header().Get("Location"))

	user := f.sessionUser(t, rec)
	require.NotNil(t, user)
	require.Equal(t, []string{"staff"}, user.Roles)
	require.Equal(t, "ana@example.com", user.Email)
}

func TestServiceLoginFailureHTMXRendersBanner(t *testing.T) {
	f := newServiceFixture(t, authn.Config{Passwords: &stubPasswords{
		err: authn.NewAuthError(authn.ReasonInvalidCredentials, authn.ErrUnauthorized),
	}})

	rec := httptest.NewRecorder()
	f.submitHandler().ServeHTTP(rec, postLogin("", true))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, rec.Header().Get("HX-Redirect"))

	doc := testutil.ParseHTML(t, rec.Body.Bytes())
	banner := doc.Find("#login-error")
	require.Equal(t, 1, banner.Length())
	reason, _ := banner.Attr("data-error-reason")
	require.Equal(t, authn.ReasonInvalidCredentials, reason)
	require.NotEmpty(t, strings.TrimSpace(banner.Text()))
	require.Nil(t, f.sessionUser(t, rec))
}

func TestServiceLoginFailureStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		reason string
	}{
		{"backend down", errors.New("dial tcp: connection refused"), http.StatusServiceUnavailable, authn.ReasonUnavailable},
		{"disabled", authn.NewAuthError(authn.ReasonUserDisabled, nil), http.StatusForbidden, authn.ReasonUserDisabled},
		{"throttled", authn.NewAuthError(authn.ReasonRateLimited, nil), http.StatusTooManyRequests, authn.ReasonRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newServiceFixture(t, authn.Config{Passwords: &stubPasswords{err: tc.err}})
			rec := httptest.NewRecorder()
			f.submitHandler().ServeHTTP(rec, postLogin("", true))
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), `data-error-reason="`+tc.reason+`"`)
		})
	}
}

func TestServiceLoginFailurePlainRedirectsBack(t *testing.T) {
	f := newServiceFixture(t, authn.Config{Passwords: &stubPasswords{
		err: authn.NewAuthError(authn.ReasonInvalidCredentials, nil),
	}})

	rec := httptest.NewRecorder()
	f.submitHandler().ServeHTTP(rec, postLogin("/orders", false))

	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login?error=invalid_credentials&next=%2Forders", rec.Header().Get("Location"))
}

func TestServiceRedirectTarget(t *testing.T) {
	f := newServiceFixture(t, authn.Config{Passwords: &stubPasswords{}, BasePath: "/app"})

	require.Equal(t, "/app/login", f.svc.LoginPath())
	require.Equal(t, "/app/orders", f.svc.RedirectTarget("/app/orders"))
	require.Equal(t, "/app", f.svc.RedirectTarget("/app/login"))
	require.Equal(t, "/app", f.svc.RedirectTarget("/elsewhere"))
	require.Equal(t, "", f.svc.NormalizeNext("//evil.example"))
}

func TestServiceErrorData(t *testing.T) {
	f := newServiceFixture(t, authn.Config{Passwords: &stubPasswords{}})

	require.Equal(t, "", f.svc.ErrorData("en", "").Message)
	generic := f.svc.ErrorData("en", "<script>")
	require.Equal(t, "<script>", generic.Reason)
	require.NotEqual(t, "errors.generic", generic.Message)
	require.NotEqual(t, generic.Message, f.svc.ErrorData("en", authn.ReasonRateLimited).Message)
}

func TestServiceLogout(t *testing.T) {
	passwords := &stubPasswords{result: &authn.SignInResult{UID: "uid-1", IDToken: "tok"}}
	f := newServiceFixture(t, authn.Config{Passwords: passwords})

	login := httptest.NewRecorder()
	f.submitHandler().ServeHTTP(login, postLogin("", true))
	require.NotNil(t, f.sessionUser(t, login))

	logout := middleware.HTMX()(middleware.Session(f.store)(http.HandlerFunc(f.svc.Logout)))
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("HX-Request", "true")
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	logout.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "/login?status=logged_out", rec.Header().Get("HX-Redirect"))

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == "login_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared)
}

func TestRequireUser(t *testing.T) {
	passwords := &stubPasswords{result: &authn.SignInResult{UID: "uid-1", IDToken: "tok"}}
	f := newServiceFixture(t, authn.Config{Passwords: passwords})

	protected := middleware.HTMX()(middleware.Session(f.store)(authn.RequireUser("/login")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)))

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard?x=1", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login?next=%2Fdashboard%3Fx%3D1", rec.Header().Get("Location"))

	hx := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	hx.Header.Set("HX-Request", "true")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, hx)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("HX-Redirect"))

	login := httptest.NewRecorder()
	f.submitHandler().ServeHTTP(login, postLogin("", true))
	signedIn := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	for _, c := range login.Result().Cookies() {
		signedIn.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, signedIn)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := authn.NewService(authn.Config{})
	require.Error(t, err)
}
