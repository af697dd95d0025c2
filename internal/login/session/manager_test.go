package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

func newTestManager(t *testing.T) (*Manager, *fixedClock) {
	t.Helper()

	clock := &fixedClock{current: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	mgr, err := NewManager(Config{
		CookieName:  "test_session",
		HashKey:     []byte("12345678901234567890123456789012"),
		BlockKey:    []byte("abcdefghijklmnopqrstuv0123456789"),
		CookiePath:  "/",
		IdleTimeout: 10 * time.Minute,
		Lifetime:    2 * time.Hour,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return mgr, clock
}

func TestManager_NewSessionLifecycle(t *testing.T) {
	mgr, clock := newTestManager(t)

	sess, err := mgr.Load(httptest.NewRequest(http.MethodGet, "/login", nil))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.ID() == "" {
		t.Fatalf("expected session ID")
	}
	if !sess.CreatedAt().Equal(clock.current) {
		t.Fatalf("unexpected CreatedAt: %v", sess.CreatedAt())
	}

	anonymousID := sess.ID()
	sess.SetUser(&User{UID: "user-1", Email: "test@example.com", Roles: []string{"agent"}})
	if sess.ID() == anonymousID {
		t.Fatalf("expected session id rotation on sign-in")
	}
	sess.SetTheme("dark")
	sess.SetRefreshToken("refresh-1")

	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil {
		t.Fatalf("expected session cookie to be set")
	}
	if !cookie.HttpOnly {
		t.Fatalf("session cookie must be http only")
	}

	clock.current = clock.current.Add(5 * time.Minute)
	req2 := httptest.NewRequest(http.MethodGet, "/login", nil)
	req2.AddCookie(cookie)
	sess2, err := mgr.Load(req2)
	if err != nil {
		t.Fatalf("Load existing error: %v", err)
	}
	if sess2.User() == nil || sess2.User().Email != "test@example.com" {
		t.Fatalf("expected user to persist")
	}
	if sess2.Theme() != "dark" {
		t.Fatalf("expected theme to persist, got %q", sess2.Theme())
	}
	if sess2.RefreshToken() != "refresh-1" {
		t.Fatalf("expected refresh token to persist")
	}
	if sess2.Dirty() {
		t.Fatalf("freshly loaded session should not be dirty")
	}
}

func TestManager_TamperedCookieStartsFresh(t *testing.T) {
	mgr, _ := newTestManager(t)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.AddCookie(&http.Cookie{Name: "test_session", Value: "not-a-valid-cookie"})
	sess, err := mgr.Load(req)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if sess.User() != nil {
		t.Fatalf("expected anonymous session")
	}
}

func TestManager_IdleTimeout(t *testing.T) {
	mgr, clock := newTestManager(t)
	sess, err := mgr.Load(httptest.NewRequest(http.MethodGet, "/login", nil))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")

	clock.current = clock.current.Add(20 * time.Minute)
	req2 := httptest.NewRequest(http.MethodGet, "/login", nil)
	req2.AddCookie(cookie)
	if _, err := mgr.Load(req2); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestManager_Destroy(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess, _ := mgr.Load(httptest.NewRequest(http.MethodGet, "/login", nil))
	rec := httptest.NewRecorder()
	sess.Destroy()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil || cookie.MaxAge != -1 {
		t.Fatalf("expected session cookie cleared")
	}
}

func TestNewManagerRejectsBadKeys(t *testing.T) {
	if _, err := NewManager(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without hash key, got %v", err)
	}
	if _, err := NewManager(Config{HashKey: []byte("hash"), BlockKey: []byte("short")}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad block key, got %v", err)
	}
}

func TestManager_SaveSkipsUnchangedSession(t *testing.T) {
	mgr, clock := newTestManager(t)

	sess, _ := mgr.Load(httptest.NewRequest(http.MethodGet, "/login", nil))
	rec := httptest.NewRecorder()
	if err := mgr.Save(rec, sess); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cookie := findCookie(rec.Result().Cookies(), "test_session")
	if cookie == nil {
		t.Fatalf("expected cookie for a new session")
	}

	load := func() *Session {
		req := httptest.NewRequest(http.MethodGet, "/login", nil)
		req.AddCookie(cookie)
		sess, err := mgr.Load(req)
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		return sess
	}

	clock.current = clock.current.Add(10 * time.Second)
	rec = httptest.NewRecorder()
	if err := mgr.Save(rec, load()); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if findCookie(rec.Result().Cookies(), "test_session") != nil {
		t.Fatalf("unchanged session must not be rewritten")
	}

	changed := load()
	changed.SetTheme("dark")
	rec = httptest.NewRecorder()
	if err := mgr.Save(rec, changed); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if findCookie(rec.Result().Cookies(), "test_session") == nil {
		t.Fatalf("changed session must be written")
	}

	clock.current = clock.current.Add(2 * time.Minute)
	stale := load()
	if !mgr.NeedsSave(stale, clock.current) {
		t.Fatalf("expected touch once LastActive is older than the touch interval")
	}
	rec = httptest.NewRecorder()
	if err := mgr.Save(rec, stale); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if findCookie(rec.Result().Cookies(), "test_session") == nil {
		t.Fatalf("expected refreshed cookie")
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
