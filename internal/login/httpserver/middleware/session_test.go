package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appsession "finitefield.org/hanko-login/internal/login/session"
)

type sessionTestClock struct {
	now time.Time
}

func (c *sessionTestClock) Now() time.Time {
	return c.now
}

func newSessionStoreForTest(t *testing.T, clock *sessionTestClock) *appsession.Manager {
	t.Helper()
	store, err := appsession.NewManager(appsession.Config{
		CookieName:  "test_session",
		HashKey:     []byte("12345678901234567890123456789012"),
		BlockKey:    []byte("abcdefghijklmnopqrstuvwxyzABCDEF"),
		IdleTimeout: 5 * time.Minute,
		Lifetime:    time.Hour,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("session manager init: %v", err)
	}
	return store
}

func TestSessionMiddlewareLifecycle(t *testing.T) {
	clock := &sessionTestClock{now: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)}
	store := newSessionStoreForTest(t, clock)

	var ids []string
	handler := Session(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFromContext(r.Context())
		if !ok {
			t.Fatalf("session missing in context")
		}
		ids = append(ids, sess.ID())
		w.WriteHeader(http.StatusOK)
	}))

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, httptest.NewRequest(http.MethodGet, "/login", nil))
	cookie := findCookie(rec1.Result().Cookies(), "test_session")
	if cookie == nil {
		t.Fatalf("expected session cookie on first response, got headers %v", rec1.Header().Values("Set-Cookie"))
	}

	clock.now = clock.now.Add(2 * time.Minute)
	req2 := httptest.NewRequest(http.MethodGet, "/login", nil)
	req2.AddCookie(cookie)
	handler.ServeHTTP(httptest.NewRecorder(), req2)
	if len(ids) != 2 || ids[1] != ids[0] {
		t.Fatalf("expected same session id between active requests, got %v", ids)
	}

	clock.now = clock.now.Add(15 * time.Minute)
	req3 := httptest.NewRequest(http.MethodGet, "/login", nil)
	req3.AddCookie(cookie)
	rec3 := httptest.NewRecorder()
	handler.ServeHTTP(rec3, req3)
	if len(ids) != 3 || ids[2] == ids[1] {
		t.Fatalf("expected new session id after idle timeout, got %v", ids)
	}
	if rec3.Header().Get("Set-Cookie") == "" {
		t.Fatalf("expected refreshed session cookie after timeout")
	}
}

func TestSessionChangesReachCookieAfterWriteHeader(t *testing.T) {
	clock := &sessionTestClock{now: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)}
	store := newSessionStoreForTest(t, clock)

	handler := Session(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := SessionFromContext(r.Context())
		sess.SetTheme("dark")
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}))

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	resp, err := client.Get(srv.URL + "/login")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	cookie := findCookie(resp.Cookies(), "test_session")
	if cookie == nil {
		t.Fatalf("expected session cookie on redirect response")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := store.Load(req)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.Theme() != "dark" {
		t.Fatalf("expected theme to persist, got %q", sess.Theme())
	}
}

func TestPassiveSessionLeavesCookieAlone(t *testing.T) {
	clock := &sessionTestClock{now: time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)}
	store := newSessionStoreForTest(t, clock)

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	active := Session(store)(ok)
	passive := Session(store)(PassiveSession()(ok))
	passiveWrite := Session(store)(PassiveSession()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := SessionFromContext(r.Context())
		sess.SetTheme("dark")
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	active.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login", nil))
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil {
		t.Fatalf("expected session cookie on first response")
	}

	serve := func(h http.Handler) *http.Cookie {
		req := httptest.NewRequest(http.MethodGet, "/login", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return findCookie(rec.Result().Cookies(), "test_session")
	}

	clock.now = clock.now.Add(2 * time.Minute)
	if got := serve(passive); got != nil {
		t.Fatalf("passive request rewrote an unchanged session")
	}
	if got := serve(passiveWrite); got == nil {
		t.Fatalf("passive request must still persist its own changes")
	}
	if got := serve(active); got == nil {
		t.Fatalf("active request should refresh a session past the touch interval")
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
