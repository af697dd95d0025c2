package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerRecordsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, InjectLogger(zap.New(core)), Trace(), RequestLogger())
	router.Get("/login/screens/{id}/signup", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handler ran")
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login/screens/abc/signup", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	handler := logs.FilterMessage("handler ran").All()
	require.Len(t, handler, 1)
	require.NotEmpty(t, handler[0].ContextMap()["request_id"])

	done := logs.FilterMessage("request completed").All()
	require.Len(t, done, 1)
	fields := done[0].ContextMap()
	require.Equal(t, "/login/screens/{id}/signup", fields["route"])
	require.EqualValues(t, http.StatusAccepted, fields["status"])
	require.Equal(t, zapcore.InfoLevel, done[0].Level)
}

func TestRecoveryReturns500(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLogger(zap.New(core))(Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestFromContextDefaultsToNop(t *testing.T) {
	require.NotNil(t, FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestSanitize(t *testing.T) {
	require.Equal(t, "/loginx", sanitize("/login\n\x00x", 20))
	require.Equal(t, "abc", sanitize("abcdef", 3))
}

func TestNewLoggerAcceptsUnknownLevel(t *testing.T) {
	logger, err := NewLogger("verbose")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger("debug")
	require.NoError(t, err)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
