package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRootCmdRegistersSubcommands(t *testing.T) {
	root := buildRootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "serve")
	require.Contains(t, names, "migrate")
}

func TestSqlDriverRejectsUnknownBackend(t *testing.T) {
	_, err := sqlDriver("mongo")
	require.Error(t, err)
}

func TestSqlDriverKnownBackends(t *testing.T) {
	for _, backend := range []string{"postgres", "sqlite"} {
		driver, err := sqlDriver(backend)
		require.NoError(t, err)
		require.NotEmpty(t, driver)
	}
}

func TestBuildProviderRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := buildProvider()
	require.Error(t, err)
}

func TestBuildProviderPrefersAnthropic(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "test-key")

	p, err := buildProvider()
	require.NoError(t, err)
	require.Equal(t, "anthropic", p.Name())
}
