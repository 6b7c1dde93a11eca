package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "store:\n  backend: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.BindAddress)
	require.Equal(t, 50, cfg.Engine.DefaultMaxTurns)
	require.Equal(t, 30*time.Second, cfg.Engine.DefaultModelTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Engine.DefaultCancelGrace)
	require.Equal(t, 256, cfg.Engine.DefaultEventBufferLen)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsMissingDSNForPostgres(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "store:\n  backend: postgres\n")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", "engine:\n  default_max_turns: 10\n")
	path := writeConfig(t, dir, "config.yaml", "$include: base.yaml\nserver:\n  bind_address: \":9999\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.Engine.DefaultMaxTurns)
	require.Equal(t, ":9999", cfg.Server.BindAddress)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("JAF_SUB004_TEST_DSN", "postgres://example/db")
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "store:\n  backend: postgres\n  dsn: \"${JAF_SUB004_TEST_DSN}\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://example/db", cfg.Store.DSN)
}

func TestOAuthSchemes(t *testing.T) {
	cfg := AuthConfig{Providers: []OAuthProviderConfig{
		{Name: "github", ClientID: "id", ClientSecret: "secret", AuthURL: "https://a", TokenURL: "https://t", Scopes: []string{"repo"}},
	}}
	schemes := cfg.OAuthSchemes()
	require.Len(t, schemes, 1)
	require.Equal(t, "id", schemes["github"].Config.ClientID)
	require.Equal(t, "https://t", schemes["github"].Config.Endpoint.TokenURL)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Backend: "mongo"}}
	applyDefaults(cfg)
	err := validate(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
