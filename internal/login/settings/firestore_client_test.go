package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeDocuments struct {
	docs  map[string]map[string]any
	err   error
	calls []string
}

func (f *fakeDocuments) fetch(_ context.Context, collection, id string) (map[string]any, error) {
	f.calls = append(f.calls, collection+"/"+id)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.docs[collection+"/"+id]
	if !ok {
		return nil, status.Error(codes.NotFound, "document not found")
	}
	return data, nil
}

func TestFirestoreClientPublicSetting(t *testing.T) {
	docs := &fakeDocuments{docs: map[string]map[string]any{
		"publicSettings/allowSignup": {"value": "enabled"},
		"flags/allowSignup":          {"value": "disabled"},
	}}

	got, err := newFirestoreClient("", docs.fetch).PublicSetting(context.Background(), " allowSignup ")
	require.NoError(t, err)
	require.Equal(t, "enabled", got)

	got, err = newFirestoreClient("flags", docs.fetch).PublicSetting(context.Background(), KeyAllowSignup)
	require.NoError(t, err)
	require.Equal(t, "disabled", got)
	require.Equal(t, []string{"publicSettings/allowSignup", "flags/allowSignup"}, docs.calls)
}

func TestFirestoreClientMissingDocument(t *testing.T) {
	client := newFirestoreClient("", (&fakeDocuments{}).fetch)

	_, err := client.PublicSetting(context.Background(), KeyAllowSignup)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFirestoreClientBackendError(t *testing.T) {
	backend := errors.New("deadline exceeded")
	client := newFirestoreClient("", (&fakeDocuments{err: backend}).fetch)

	_, err := client.PublicSetting(context.Background(), KeyAllowSignup)
	require.ErrorIs(t, err, backend)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestFirestoreClientRejectsInvalidKeys(t *testing.T) {
	docs := &fakeDocuments{}
	client := newFirestoreClient("", docs.fetch)

	for _, key := range []string{"", "   ", "nested/doc"} {
		_, err := client.PublicSetting(context.Background(), key)
		require.Error(t, err, key)
		require.NotErrorIs(t, err, ErrNotFound, key)
	}
	require.Empty(t, docs.calls)
}

func TestValueFromDocument(t *testing.T) {
	cases := map[string]struct {
		data map[string]any
		want string
	}{
		"missing document data": {data: nil, want: ""},
		"missing field":         {data: map[string]any{"other": "x"}, want: ""},
		"string":                {data: map[string]any{"value": "enabled"}, want: "enabled"},
		"null":                  {data: map[string]any{"value": nil}, want: ""},
		"bool":                  {data: map[string]any{"value": true}, want: "true"},
		"integer":               {data: map[string]any{"value": int64(1)}, want: "1"},
	}
	for name, tc := range cases {
		got, err := valueFromDocument(tc.data)
		require.NoError(t, err, name)
		require.Equal(t, tc.want, got, name)
	}

	_, err := valueFromDocument(map[string]any{"value": []any{"enabled"}})
	require.Error(t, err)
}

func TestNewFirestoreClientRequiresClient(t *testing.T) {
	_, err := NewFirestoreClient(nil, "")
	require.Error(t, err)
}
