package theme_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/hanko-login/internal/login/session"
	"finitefield.org/hanko-login/internal/login/theme"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	mode, ok := theme.ParseMode(" Dark ")
	require.True(t, ok)
	require.Equal(t, theme.ModeDark, mode)

	_, ok = theme.ParseMode("sepia")
	require.False(t, ok)
}

func TestMemoryControllerToggleTwiceRestoresMode(t *testing.T) {
	t.Parallel()

	for _, start := range []theme.Mode{theme.ModeLight, theme.ModeDark} {
		ctrl := theme.NewMemoryController(start)
		ctrl.ToggleColorMode()
		require.Equal(t, start.Opposite(), ctrl.Mode())
		ctrl.ToggleColorMode()
		require.Equal(t, start, ctrl.Mode())
	}
}

func TestSessionControllerPersistsInSession(t *testing.T) {
	t.Parallel()

	mgr, err := session.NewManager(session.Config{HashKey: []byte("0123456789abcdef0123456789abcdef")})
	require.NoError(t, err)
	sess, err := mgr.Load(httptest.NewRequest(http.MethodGet, "/login", nil))
	require.NoError(t, err)

	ctrl := theme.FromSession(sess, theme.ModeDark)
	require.Equal(t, theme.ModeDark, ctrl.Mode(), "fallback applies before any choice")

	ctrl.ToggleColorMode()
	require.Equal(t, theme.ModeLight, ctrl.Mode())
	require.Equal(t, "light", sess.Theme())

	ctrl.ToggleColorMode()
	require.Equal(t, theme.ModeDark, ctrl.Mode())
}

func TestSessionControllerWithoutSession(t *testing.T) {
	t.Parallel()

	ctrl := theme.FromSession(nil, "")
	require.Equal(t, theme.ModeLight, ctrl.Mode())
	ctrl.ToggleColorMode()
	require.Equal(t, theme.ModeLight, ctrl.Mode())
}
