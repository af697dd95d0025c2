package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

func baseEnv() map[string]string {
	return map[string]string{
		"LOGIN_SESSION_HASH_KEY": testHashKey,
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(baseEnv()))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "/", cfg.Server.BasePath)
	require.True(t, cfg.Local())
	require.Equal(t, 5*time.Second, cfg.Server.SignupWait)
	require.Equal(t, BackendStatic, cfg.Settings.Backend)
	require.Equal(t, "publicSettings", cfg.Settings.Collection)
	require.Equal(t, "light", cfg.UI.DefaultTheme)
	require.Equal(t, "pt-BR", cfg.UI.DefaultLocale)
	require.Equal(t, 30*time.Minute, cfg.Screens.TTL)
	require.Equal(t, 10000, cfg.Screens.MaxScreens)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "# local overrides\nexport LOGIN_APP_NAME=\"From Dotenv\"\nLOGIN_HTTP_ADDR=:9000\nLOGIN_CONTACT_LABEL=dotenv\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	t.Setenv("LOGIN_HTTP_ADDR", ":9100")
	t.Setenv("LOGIN_CONTACT_LABEL", "process")

	env := baseEnv()
	env["LOGIN_CONTACT_LABEL"] = "explicit"

	cfg, err := Load(context.Background(), WithEnvFile(envFile), WithEnvMap(env))
	require.NoError(t, err)

	require.Equal(t, "From Dotenv", cfg.UI.AppName)
	require.Equal(t, ":9100", cfg.Server.Addr)
	require.Equal(t, "explicit", cfg.UI.ContactLabel)
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := map[string]string{
		"LOGIN_SESSION_HASH_KEY":      "sm://session_hash_key",
		"LOGIN_SETTINGS_BACKEND":      "postgres",
		"LOGIN_SETTINGS_POSTGRES_DSN": "secret://settings_dsn",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		switch ref {
		case "sm://session_hash_key":
			return testHashKey + "\n", nil
		case "secret://settings_dsn":
			return "postgres://login@db/settings", nil
		}
		return "", errors.New("unknown")
	})

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env), WithSecretResolver(resolver))
	require.NoError(t, err)
	require.Equal(t, testHashKey, cfg.Session.HashKey)
	require.Equal(t, "postgres://login@db/settings", cfg.Settings.PostgresDSN)
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := map[string]string{"LOGIN_SESSION_HASH_KEY": "sm://session_hash_key"}

	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	require.Equal(t, "sm://session_hash_key", secretErr.Ref)
	require.ErrorIs(t, err, errSecretResolverNotConfigured)
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"LOGIN_ENVIRONMENT":       "prod",
		"LOGIN_SESSION_BLOCK_KEY": "short",
		"LOGIN_SETTINGS_BACKEND":  "http",
		"LOGIN_DEFAULT_THEME":     "sepia",
		"LOGIN_SCREEN_TTL":        "soon",
	}

	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.ElementsMatch(t, []string{
		"LOGIN_SCREEN_TTL",
		"Session.HashKey",
		"Session.BlockKey",
		"Settings.BaseURL",
		"Firebase.APIKey",
		"UI.DefaultTheme",
	}, validation.Fields())
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	env := baseEnv()
	env["LOGIN_SETTINGS_BACKEND"] = "redis"

	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, []string{"Settings.Backend"}, validation.Fields())
}

func TestLoadFirestoreNeedsProject(t *testing.T) {
	env := baseEnv()
	env["LOGIN_SETTINGS_BACKEND"] = "firestore"

	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, []string{"Firebase.ProjectID"}, validation.Fields())

	env["LOGIN_FIREBASE_PROJECT_ID"] = "hanko-dev"
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	require.NoError(t, err)
	require.Equal(t, "hanko-dev", cfg.Firebase.ProjectID)
}
