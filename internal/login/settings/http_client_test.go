package settings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/hanko-login/internal/login/settings"
)

func TestHTTPClientPublicSetting(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{name: "json string", contentType: "application/json", body: `"enabled"`, want: "enabled"},
		{name: "json object", contentType: "application/json", body: `{"key":"allowSignup","value":"disabled"}`, want: "disabled"},
		{name: "plain text", contentType: "text/plain", body: "enabled\n", want: "enabled"},
		{name: "json null", contentType: "application/json", body: `null`, want: ""},
		{name: "object null value", contentType: "application/json", body: `{"value":null}`, want: ""},
		{name: "json bool", contentType: "application/json", body: `true`, want: "true"},
		{name: "empty body", contentType: "text/plain", body: "", want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, "/v1/public-settings/allowSignup", r.URL.Path)
				w.Header().Set("Content-Type", tc.contentType)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(ts.Close)

			client, err := settings.NewHTTPClient(ts.URL+"/v1", ts.Client())
			require.NoError(t, err)

			got, err := client.PublicSetting(context.Background(), settings.KeyAllowSignup)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestHTTPClientNotFound(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	client, err := settings.NewHTTPClient(ts.URL, ts.Client())
	require.NoError(t, err)

	_, err = client.PublicSetting(context.Background(), settings.KeyAllowSignup)
	require.ErrorIs(t, err, settings.ErrNotFound)
}

func TestHTTPClientBackendError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "upstream down"})
	}))
	t.Cleanup(ts.Close)

	client, err := settings.NewHTTPClient(ts.URL, ts.Client())
	require.NoError(t, err)

	_, err = client.PublicSetting(context.Background(), settings.KeyAllowSignup)
	require.Error(t, err)
	require.Contains(t, err.Error(), "upstream down")
	require.NotErrorIs(t, err, settings.ErrNotFound)
}

func TestHTTPClientRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := settings.NewHTTPClient("", nil)
	require.Error(t, err)

	_, err = settings.NewHTTPClient("/relative", nil)
	require.Error(t, err)

	client, err := settings.NewHTTPClient("http://settings.invalid", nil)
	require.NoError(t, err)

	_, err = client.PublicSetting(context.Background(), "")
	require.Error(t, err)

	_, err = client.PublicSetting(context.Background(), "../admin")
	require.Error(t, err)
}
