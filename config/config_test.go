package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// clearEnv resets every environment variable Load reads, so tests don't
// leak state from the process environment or from each other.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"KV_BACKEND", "KV_JUPYTERHUB_PREFIX", "KV_TRAEFIK_PREFIX",
		"TRAEFIK_API_URL", "TRAEFIK_API_USERNAME", "TRAEFIK_API_PASSWORD",
		"TRAEFIK_API_HASHED_PASSWORD", "TRAEFIK_API_VALIDATE_CERT",
		"SHOULD_START", "CHECK_ROUTE_TIMEOUT", "TRAEFIK_STARTUP_TIMEOUT",
		"TRAEFIK_STOP_GRACE", "TRAEFIK_BINARY", "TRAEFIK_ENTRYPOINT",
		"STATIC_CONFIG_FILE", "DYNAMIC_CONFIG_FILE",
		"REDIS_URL", "REDIS_USERNAME", "REDIS_PASSWORD",
		"ETCD_ENDPOINTS", "ETCD_USERNAME", "ETCD_PASSWORD",
		"CONSUL_URL", "CONSUL_TOKEN", "KV_URL", "KV_TOKEN",
		"TRAEFIK_AUTO_HTTPS", "TRAEFIK_LETSENCRYPT_EMAIL",
		"TRAEFIK_LETSENCRYPT_DOMAINS", "TRAEFIK_ACME_SERVER",
		"TRAEFIK_ACME_CHALLENGE_PORT", "ORPHAN_SWEEP_SCHEDULE", "METRICS_ADDR",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, BackendFile, cfg.KVBackend)
	assert.Equal(t, "jupyterhub", cfg.KVJupyterHubPrefix)
	assert.Equal(t, "traefik", cfg.KVTraefikPrefix)
	assert.True(t, cfg.ShouldStart)
	assert.True(t, cfg.TraefikAPIValidateCert)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadRejectsEqualKVPrefixes(t *testing.T) {
	clearEnv(t)
	os.Setenv("KV_JUPYTERHUB_PREFIX", "shared")
	os.Setenv("KV_TRAEFIK_PREFIX", "shared")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	os.Setenv("KV_BACKEND", "sqlite")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)
}

func TestLoadRequiresRedisURLForRedisBackend(t *testing.T) {
	clearEnv(t)
	os.Setenv("KV_BACKEND", "redis")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)

	os.Setenv("REDIS_URL", "redis://localhost:6379")
	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.KVBackend)
}

func TestLoadRequiresEtcdEndpointsForEtcdBackend(t *testing.T) {
	clearEnv(t)
	os.Setenv("KV_BACKEND", "etcd")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)

	os.Setenv("ETCD_ENDPOINTS", "localhost:2379,localhost:2380")
	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:2379", "localhost:2380"}, cfg.EtcdEndpoints)
}

func TestLoadRequiresLetsEncryptEmailWhenAutoHTTPSEnabled(t *testing.T) {
	clearEnv(t)
	os.Setenv("TRAEFIK_AUTO_HTTPS", "true")
	_, err := Load(zap.NewNop())
	assert.Error(t, err)

	os.Setenv("TRAEFIK_LETSENCRYPT_EMAIL", "ops@example.com")
	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	assert.True(t, cfg.TraefikAutoHTTPS)
}

func TestDeprecatedConsulEnvNamesAreHonored(t *testing.T) {
	clearEnv(t)
	os.Setenv("KV_URL", "10.0.0.1:8500")
	os.Setenv("KV_TOKEN", "legacy-token")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8500", cfg.ConsulAddress)
	assert.Equal(t, "legacy-token", cfg.ConsulToken)
}

func TestDeprecatedConsulEnvNamesDoNotOverrideNewOnes(t *testing.T) {
	clearEnv(t)
	os.Setenv("KV_URL", "old:8500")
	os.Setenv("CONSUL_URL", "new:8500")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "new:8500", cfg.ConsulAddress)
}

func TestCheckRouteTimeoutParsesFractionalSeconds(t *testing.T) {
	clearEnv(t)
	os.Setenv("CHECK_ROUTE_TIMEOUT", "1.5")

	cfg, err := Load(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1500_000_000, int(cfg.CheckRouteTimeout))
}
