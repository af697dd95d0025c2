package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/test/secrets/session_hash_key/versions/latest"
	client.values[resource] = "remote-secret"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("test"), WithFallbackFile(""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "sm://session_hash_key")
		require.NoError(t, err)
		require.Equal(t, "remote-secret", got)
	}
	require.Equal(t, 1, client.callCount(resource))
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/other/secrets/api_key/versions/3"
	client.values[resource] = "pinned"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("test"), WithFallbackFile(""))
	require.NoError(t, err)

	got, err := fetcher.ResolveSecret(ctx, "secret://api_key?version=3&project=other")
	require.NoError(t, err)
	require.Equal(t, "pinned", got)
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("# local\nsm://api_key=local-secret\n"), 0o600))

	client := newFakeSecretClient()
	client.errors["projects/test/secrets/api_key/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("test"), WithFallbackFile(path))
	require.NoError(t, err)

	got, err := fetcher.ResolveSecret(ctx, "secret://api_key")
	require.NoError(t, err)
	require.Equal(t, "local-secret", got)
}

func TestResolveSurfacesHardErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/test/secrets/api_key/versions/latest"] = status.Error(codes.InvalidArgument, "bad")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("test"), WithFallbackFile(""))
	require.NoError(t, err)

	_, err = fetcher.ResolveSecret(ctx, "secret://api_key")
	require.Error(t, err)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestResolveWithoutProjectUsesFallbackOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("secret://api_key=dev\n"), 0o600))

	fetcher, err := NewFetcher(ctx, WithFallbackFile(path))
	require.NoError(t, err)

	got, err := fetcher.ResolveSecret(ctx, "sm://api_key")
	require.NoError(t, err)
	require.Equal(t, "dev", got)

	_, err = fetcher.ResolveSecret(ctx, "sm://missing")
	require.Error(t, err)
}

func TestParseReference(t *testing.T) {
	_, err := parseReference("")
	require.Error(t, err)
	_, err = parseReference("https://example.com/x")
	require.Error(t, err)
	_, err = parseReference("secret://")
	require.Error(t, err)

	ref, err := parseReference("sm://db_password?version=2")
	require.NoError(t, err)
	require.Equal(t, parsedReference{Canonical: "secret://db_password", Secret: "db_password", Version: "2"}, ref)
}
