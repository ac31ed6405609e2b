package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Clear envs that Load reads; t.Setenv restores them afterwards
	for _, k := range []string{"APP_ENV", "HTTP_PORT", "DB_PATH", "DB_DRIVER", "INFRA_DIR", "DEPLOY_TIMEOUT", "DEPLOY_REQUIRE_FRESH_OUTPUTS", "COMMAND_ALLOWLIST"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	cfg, err := Load()
	require.NoError(t, err)
	if cfg.Env != "dev" {
		t.Fatalf("expected dev, got %s", cfg.Env)
	}
	if cfg.HttpPort != "8080" {
		t.Fatalf("expected 8080, got %s", cfg.HttpPort)
	}
	if cfg.DBDriver != "sqlite" {
		t.Fatalf("expected sqlite, got %s", cfg.DBDriver)
	}
	if cfg.DBPath == "" {
		t.Fatalf("expected default DBPath, got empty")
	}
	require.Equal(t, "infrastructure", cfg.Infra.Dir)
	require.Equal(t, 5*time.Minute, cfg.Infra.DeployTimeout)
	require.True(t, cfg.Infra.RequireFreshOutputs)
	require.Equal(t, []string{"aws", "npx", "npm", "node", "cdk"}, cfg.CommandAllowlist)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@h/db")
	t.Setenv("INFRA_DIR", "/srv/infra")
	t.Setenv("DEPLOY_TIMEOUT", "90s")
	t.Setenv("DEPLOY_REQUIRE_FRESH_OUTPUTS", "false")
	t.Setenv("COMMAND_ALLOWLIST", "aws,npx")
	cfg, err := Load()
	require.NoError(t, err)
	if cfg.Env != "prod" {
		t.Fatalf("env override failed")
	}
	if cfg.HttpPort != "9999" {
		t.Fatalf("port override failed")
	}
	if cfg.DBDriver != "postgres" {
		t.Fatalf("driver override failed")
	}
	if cfg.DBDsn == "" {
		t.Fatalf("DATABASE_URL should be set")
	}
	require.Equal(t, "/srv/infra", cfg.Infra.Dir)
	require.Equal(t, 90*time.Second, cfg.Infra.DeployTimeout)
	require.False(t, cfg.Infra.RequireFreshOutputs)
	require.Equal(t, []string{"aws", "npx"}, cfg.CommandAllowlist)
}
