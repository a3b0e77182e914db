// Package config loads and validates the controller's configuration,
// following the teacher's godotenv + environment-variable convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Backend selects which kv.Backend implementation the controller uses.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendRedis  Backend = "redis"
	BackendEtcd   Backend = "etcd"
	BackendConsul Backend = "consul"
)

// Config holds every recognized configuration option.
type Config struct {
	KVBackend Backend

	KVJupyterHubPrefix string
	KVTraefikPrefix    string

	TraefikAPIURL            string
	TraefikAPIUsername       string
	TraefikAPIPassword       string
	TraefikAPIHashedPassword string
	TraefikAPIValidateCert   bool

	ShouldStart        bool
	CheckRouteTimeout  time.Duration
	TraefikStartupWait time.Duration
	TraefikStopGrace   time.Duration
	TraefikBinary      string
	TraefikEntryPoint  string

	StaticConfigFile  string
	DynamicConfigFile string

	RedisURL      string
	RedisUsername string
	RedisPassword string

	EtcdEndpoints []string
	EtcdUsername  string
	EtcdPassword  string

	ConsulAddress string
	ConsulToken   string

	ExtraStaticConfig  map[string]any
	ExtraDynamicConfig map[string]any

	TraefikAutoHTTPS         bool
	TraefikLetsEncryptEmail  string
	TraefikLetsEncryptHosts  []string
	TraefikACMEServer        string
	TraefikACMEChallengePort int

	OrphanSweepSchedule string

	MetricsAddr string
}

// deprecatedConsulEnv maps renamed Consul options to the names they used to
// have, so existing deployments keep working with a logged warning.
var deprecatedConsulEnv = map[string]string{
	"CONSUL_URL":   "KV_URL",
	"CONSUL_TOKEN": "KV_TOKEN",
}

// Load reads a .env file (if present) and environment variables into a
// validated Config. log is used only to report deprecation warnings; the
// caller's own logger should be passed so messages share its sink.
func Load(log *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using environment variables")
	}

	for newKey, oldKey := range deprecatedConsulEnv {
		if os.Getenv(newKey) == "" {
			if v := os.Getenv(oldKey); v != "" {
				log.Warn("configuration option is deprecated, use the new name",
					zap.String("deprecated", oldKey), zap.String("use_instead", newKey))
				os.Setenv(newKey, v)
			}
		}
	}

	cfg := &Config{
		KVBackend:                Backend(getenv("KV_BACKEND", "file")),
		KVJupyterHubPrefix:       getenv("KV_JUPYTERHUB_PREFIX", "jupyterhub"),
		KVTraefikPrefix:          getenv("KV_TRAEFIK_PREFIX", "traefik"),
		TraefikAPIURL:            getenv("TRAEFIK_API_URL", "http://localhost:8099"),
		TraefikAPIUsername:       os.Getenv("TRAEFIK_API_USERNAME"),
		TraefikAPIPassword:       os.Getenv("TRAEFIK_API_PASSWORD"),
		TraefikAPIHashedPassword: os.Getenv("TRAEFIK_API_HASHED_PASSWORD"),
		TraefikAPIValidateCert:   getenvBool("TRAEFIK_API_VALIDATE_CERT", true),
		ShouldStart:              getenvBool("SHOULD_START", true),
		CheckRouteTimeout:        getenvSeconds("CHECK_ROUTE_TIMEOUT", 60*time.Second),
		TraefikStartupWait:       getenvSeconds("TRAEFIK_STARTUP_TIMEOUT", 60*time.Second),
		TraefikStopGrace:         getenvSeconds("TRAEFIK_STOP_GRACE", 5*time.Second),
		TraefikBinary:            getenv("TRAEFIK_BINARY", "traefik"),
		TraefikEntryPoint:        getenv("TRAEFIK_ENTRYPOINT", "http"),
		StaticConfigFile:         getenv("STATIC_CONFIG_FILE", "traefik.toml"),
		DynamicConfigFile:        getenv("DYNAMIC_CONFIG_FILE", "rules.toml"),
		RedisURL:                 os.Getenv("REDIS_URL"),
		RedisUsername:            os.Getenv("REDIS_USERNAME"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		EtcdUsername:             os.Getenv("ETCD_USERNAME"),
		EtcdPassword:             os.Getenv("ETCD_PASSWORD"),
		ConsulAddress:            getenv("CONSUL_URL", "127.0.0.1:8500"),
		ConsulToken:              os.Getenv("CONSUL_TOKEN"),
		TraefikAutoHTTPS:         getenvBool("TRAEFIK_AUTO_HTTPS", false),
		TraefikLetsEncryptEmail:  os.Getenv("TRAEFIK_LETSENCRYPT_EMAIL"),
		TraefikACMEServer:        os.Getenv("TRAEFIK_ACME_SERVER"),
		TraefikACMEChallengePort: int(getenvInt("TRAEFIK_ACME_CHALLENGE_PORT", 8080)),
		OrphanSweepSchedule:      os.Getenv("ORPHAN_SWEEP_SCHEDULE"),
		MetricsAddr:              getenv("METRICS_ADDR", ":9090"),
	}

	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		cfg.EtcdEndpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("TRAEFIK_LETSENCRYPT_DOMAINS"); v != "" {
		cfg.TraefikLetsEncryptHosts = strings.Split(v, ",")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.KVBackend {
	case BackendFile, BackendRedis, BackendEtcd, BackendConsul:
	default:
		return fmt.Errorf("config: unrecognized KV_BACKEND %q", c.KVBackend)
	}
	if c.KVJupyterHubPrefix == c.KVTraefikPrefix {
		return fmt.Errorf("config: KV_JUPYTERHUB_PREFIX and KV_TRAEFIK_PREFIX must be disjoint, both are %q", c.KVJupyterHubPrefix)
	}
	if c.KVBackend == BackendRedis && c.RedisURL == "" {
		return fmt.Errorf("config: REDIS_URL is required when KV_BACKEND=redis")
	}
	if c.KVBackend == BackendEtcd && len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("config: ETCD_ENDPOINTS is required when KV_BACKEND=etcd")
	}
	if c.TraefikAutoHTTPS && c.TraefikLetsEncryptEmail == "" {
		return fmt.Errorf("config: TRAEFIK_LETSENCRYPT_EMAIL is required when TRAEFIK_AUTO_HTTPS=true")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(n * float64(time.Second))
}
