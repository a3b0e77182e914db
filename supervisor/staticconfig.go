package supervisor

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/jupyterhub/traefik-proxy/config"
	"github.com/jupyterhub/traefik-proxy/traefikconfig"
)

// BuildStaticConfig renders Traefik's startup configuration: the public and
// admin entry points, an insecure-off admin API, the provider block for the
// chosen backend (pointed at its root key), and an optional ACME resolver.
// Only the "providers" section of cfg.ExtraStaticConfig is merged on top,
// caller winning; every other key in it (entry points, api, ...) is ignored.
func BuildStaticConfig(cfg *config.Config) (*traefikconfig.StaticConfig, error) {
	adminAddr, err := addrFromURL(cfg.TraefikAPIURL)
	if err != nil {
		return nil, fmt.Errorf("supervisor: derive admin entry point: %w", err)
	}

	sc := &traefikconfig.StaticConfig{
		EntryPoints: map[string]traefikconfig.EntryPoint{
			cfg.TraefikEntryPoint:            {Address: ":8000"},
			traefikconfig.AdminEntryPointName: {Address: adminAddr},
		},
		API: &traefikconfig.APIConfig{Insecure: false},
		Providers: map[string]any{
			providerName(cfg.KVBackend): providerBlock(cfg),
		},
	}

	if cfg.TraefikAutoHTTPS {
		sc.CertificatesResolvers = map[string]traefikconfig.CertificatesResolver{
			"letsencrypt": {
				ACME: traefikconfig.ACMEConfig{
					Email:    cfg.TraefikLetsEncryptEmail,
					Storage:  "acme.json",
					CAServer: cfg.TraefikACMEServer,
					HTTPChallenge: &traefikconfig.HTTPChallenge{
						EntryPoint: cfg.TraefikEntryPoint,
					},
				},
			},
		}
	}

	return mergeExtraStatic(sc, cfg.ExtraStaticConfig)
}

func providerName(backend config.Backend) string {
	switch backend {
	case config.BackendFile:
		return "file"
	case config.BackendRedis:
		return "redis"
	case config.BackendEtcd:
		return "etcd3"
	case config.BackendConsul:
		return "consul"
	default:
		return "file"
	}
}

func providerBlock(cfg *config.Config) map[string]any {
	switch cfg.KVBackend {
	case config.BackendFile:
		return map[string]any{"filename": cfg.DynamicConfigFile, "watch": true}
	case config.BackendRedis:
		return map[string]any{
			"endpoints": []string{cfg.RedisURL},
			"rootKey":   cfg.KVTraefikPrefix,
			"username":  cfg.RedisUsername,
			"password":  cfg.RedisPassword,
		}
	case config.BackendEtcd:
		return map[string]any{
			"endpoints": cfg.EtcdEndpoints,
			"rootKey":   cfg.KVTraefikPrefix,
			"username":  cfg.EtcdUsername,
			"password":  cfg.EtcdPassword,
		}
	case config.BackendConsul:
		return map[string]any{
			"endpoints": []string{cfg.ConsulAddress},
			"rootKey":   cfg.KVTraefikPrefix,
			"token":     cfg.ConsulToken,
		}
	default:
		return map[string]any{}
	}
}

// mergeExtraStatic shallow-merges extra into the rendered static config's
// provider block, with values in extra taking priority. Deep merge isn't
// needed: extra_static_config is meant for whole-key overrides.
func mergeExtraStatic(sc *traefikconfig.StaticConfig, extra map[string]any) (*traefikconfig.StaticConfig, error) {
	if len(extra) == 0 {
		return sc, nil
	}
	if v, ok := extra["providers"]; ok {
		providers, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("supervisor: extra_static_config.providers must be a map")
		}
		for name, block := range providers {
			sc.Providers[name] = block
		}
	}
	return sc, nil
}

// HashAdminPassword returns a bcrypt hash suitable for Traefik's BasicAuth
// middleware, unless hashed is already non-empty, in which case it is
// returned verbatim (the caller pre-hashed it).
func HashAdminPassword(plain, hashed string) (string, error) {
	if hashed != "" {
		return hashed, nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("supervisor: hash admin password: %w", err)
	}
	return string(h), nil
}

// AdminAuthMiddleware builds the dynamic middleware that gates the admin
// router behind HTTP Basic using the hashed admin credential.
func AdminAuthMiddleware(username, htpasswdHash string) traefikconfig.Middleware {
	return traefikconfig.Middleware{
		BasicAuth: &traefikconfig.BasicAuth{
			Users: []string{fmt.Sprintf("%s:%s", username, htpasswdHash)},
		},
	}
}

const (
	adminRouterName     = "traefik-kv-proxy_admin"
	adminMiddlewareName = "traefik-kv-proxy_admin_auth"
)

// AdminDynamicConfig builds the dynamic-configuration fragment that exposes
// Traefik's own API (the "api@internal" service) on the admin entry point,
// gated by BasicAuth. It must be written into the Traefik-owned subtree
// once at startup, the same way route projections are.
func AdminDynamicConfig(cfg *config.Config, username, htpasswdHash string) *traefikconfig.DynamicConfig {
	doc := &traefikconfig.DynamicConfig{}
	doc.HTTP.Routers = map[string]traefikconfig.Router{
		adminRouterName: {
			Rule:        "PathPrefix(`/`)",
			Service:     "api@internal",
			EntryPoints: []string{traefikconfig.AdminEntryPointName},
			Middlewares: []string{adminMiddlewareName},
		},
	}
	doc.HTTP.Middlewares = map[string]traefikconfig.Middleware{
		adminMiddlewareName: AdminAuthMiddleware(username, htpasswdHash),
	}
	return doc
}

func addrFromURL(rawURL string) (string, error) {
	// Traefik entry point addresses are host:port; the admin API URL is
	// http(s)://host:port, so just take everything after the last colon
	// that isn't part of the scheme separator.
	u := rawURL
	for _, scheme := range []string{"https://", "http://"} {
		if len(u) > len(scheme) && u[:len(scheme)] == scheme {
			u = u[len(scheme):]
			break
		}
	}
	if u == "" {
		return "", fmt.Errorf("empty admin API URL")
	}
	for i := len(u) - 1; i >= 0; i-- {
		if u[i] == ':' {
			return ":" + u[i+1:], nil
		}
	}
	return ":8099", nil
}
